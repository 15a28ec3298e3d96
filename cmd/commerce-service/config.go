package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/app"
)

const (
	envHTTPAddr    = "COMMERCE_HTTP_ADDR"
	envGRPCAddr    = "COMMERCE_GRPC_ADDR"
	envMetricsAddr = "COMMERCE_METRICS_ADDR"

	envStorageDriver       = "COMMERCE_STORAGE_DRIVER"
	envPostgresDSN         = "COMMERCE_POSTGRES_DSN"
	envPostgresAutoMigrate = "COMMERCE_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns    = "COMMERCE_POSTGRES_MAX_CONNS"
	envPostgresConnMaxLife = "COMMERCE_POSTGRES_CONN_MAX_LIFETIME"

	envIdempotencyBackend     = "COMMERCE_IDEMPOTENCY_BACKEND"
	envIdempotencyTTL         = "COMMERCE_IDEMPOTENCY_TTL"
	envIdempotencyWaitTimeout = "COMMERCE_IDEMPOTENCY_WAIT_TIMEOUT"
	envRedisAddr              = "COMMERCE_REDIS_ADDR"
	envRedisPassword          = "COMMERCE_REDIS_PASSWORD"
	envRedisDB                = "COMMERCE_REDIS_DB"
	envRedisKeyPrefix         = "COMMERCE_REDIS_KEY_PREFIX"
	envDynamoDBTable          = "COMMERCE_DYNAMODB_TABLE"
	envAWSRegion              = "AWS_REGION"
	envAWSEndpoint            = "COMMERCE_AWS_ENDPOINT"

	envOutboxPublisher      = "COMMERCE_OUTBOX_PUBLISHER"
	envKafkaBrokers         = "KAFKA_BROKERS"
	envKafkaTopic           = "COMMERCE_KAFKA_TOPIC"
	envSQSQueueURL          = "COMMERCE_SQS_QUEUE_URL"
	envSQSDLQURL            = "COMMERCE_SQS_DLQ_URL"
	envOutboxPollInterval   = "COMMERCE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize      = "COMMERCE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts    = "COMMERCE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay     = "COMMERCE_OUTBOX_RETRY_DELAY"
	envOutboxBreakerFails   = "COMMERCE_OUTBOX_BREAKER_FAILURES"
	envOutboxBreakerTimeout = "COMMERCE_OUTBOX_BREAKER_RESET"

	envIdempotencyCleanupInterval  = "COMMERCE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "COMMERCE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envReservationWindow        = "COMMERCE_RESERVATION_WINDOW"
	envReservationSweepInterval = "COMMERCE_RESERVATION_SWEEP_INTERVAL"
	envReservationSweepBatch    = "COMMERCE_RESERVATION_SWEEP_BATCH"
)

type envLookup func(key string) (string, bool)

// configWarning — переменная с некорректным значением, вместо неё взято значение по умолчанию.
type configWarning struct {
	Key   string
	Value string
	Err   error
}

func positiveInt(v int) bool                   { return v > 0 }
func nonNegativeInt(v int) bool                { return v >= 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// envReader накапливает предупреждения, пока читает переменные окружения.
type envReader struct {
	lookup   envLookup
	warnings []configWarning
}

func (r *envReader) value(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}

func (r *envReader) warn(key, raw string, err error) {
	r.warnings = append(r.warnings, configWarning{Key: key, Value: raw, Err: err})
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = strings.TrimSpace(raw)
	}
}

func (r *envReader) lower(key string) (string, bool) {
	raw, ok := r.value(key)
	return strings.ToLower(strings.TrimSpace(raw)), ok
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseBool(raw)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseInt(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseDuration(raw, valid, rule)
	if err != nil {
		r.warn(key, raw, err)
		return
	}
	*dst = v
}

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию и возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []configWarning) {
	cfg := app.DefaultConfig()
	r := &envReader{lookup: lookup}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envGRPCAddr, &cfg.GRPCAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := r.lower(envStorageDriver); ok {
		cfg.StorageDriver = app.StorageDriver(v)
	}
	r.str(envPostgresDSN, &cfg.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	r.integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positiveInt, "must be > 0")
	r.duration(envPostgresConnMaxLife, &cfg.PostgresConnMaxLife, positiveDuration, "must be > 0")

	if v, ok := r.lower(envIdempotencyBackend); ok {
		cfg.IdempotencyBackend = app.IdempotencyBackend(v)
	}
	r.duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	r.duration(envIdempotencyWaitTimeout, &cfg.IdempotencyWaitTimeout, nonNegativeDuration, "must be >= 0")
	r.str(envRedisAddr, &cfg.RedisAddr)
	r.str(envRedisPassword, &cfg.RedisPassword)
	r.integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")
	r.str(envRedisKeyPrefix, &cfg.RedisKeyPrefix)
	r.str(envDynamoDBTable, &cfg.DynamoDBTable)
	r.str(envAWSRegion, &cfg.AWSRegion)
	r.str(envAWSEndpoint, &cfg.AWSEndpoint)

	if v, ok := r.lower(envOutboxPublisher); ok {
		cfg.OutboxPublisher = app.OutboxPublisherKind(v)
	}
	r.str(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envKafkaTopic, &cfg.KafkaTopic)
	r.str(envSQSQueueURL, &cfg.SQSQueueURL)
	r.str(envSQSDLQURL, &cfg.SQSDLQURL)
	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	r.integer(envOutboxBreakerFails, &cfg.OutboxBreakerFailures, positiveInt, "must be > 0")
	r.duration(envOutboxBreakerTimeout, &cfg.OutboxBreakerResetTime, positiveDuration, "must be > 0")

	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	r.duration(envReservationWindow, &cfg.ReservationWindow, positiveDuration, "must be > 0")
	r.duration(envReservationSweepInterval, &cfg.ReservationSweepInterval, positiveDuration, "must be > 0")
	r.integer(envReservationSweepBatch, &cfg.ReservationSweepBatch, positiveInt, "must be > 0")

	return cfg, r.warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("invalid int value %q: %s", raw, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("invalid duration value %q: %s", raw, rule)
	}
	return v, nil
}
