package app

import (
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// StorageDriver выбирает хранилище сущностей.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// IdempotencyBackend выбирает кэш idempotency-ключей.
// storage означает ту же базу, что и сущности.
type IdempotencyBackend string

const (
	IdempotencyBackendStorage  IdempotencyBackend = "storage"
	IdempotencyBackendRedis    IdempotencyBackend = "redis"
	IdempotencyBackendDynamoDB IdempotencyBackend = "dynamodb"
)

// OutboxPublisherKind выбирает транспорт доменных событий.
type OutboxPublisherKind string

const (
	OutboxPublisherLog   OutboxPublisherKind = "log"
	OutboxPublisherKafka OutboxPublisherKind = "kafka"
	OutboxPublisherSQS   OutboxPublisherKind = "sqs"
)

// Config описывает настройки запуска commerce-service.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int
	PostgresConnMaxLife time.Duration

	IdempotencyBackend     IdempotencyBackend
	IdempotencyTTL         time.Duration
	IdempotencyWaitTimeout time.Duration
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisKeyPrefix         string
	DynamoDBTable          string

	AWSRegion   string
	AWSEndpoint string

	OutboxPublisher        OutboxPublisherKind
	KafkaBrokers           string
	KafkaTopic             string
	SQSQueueURL            string
	SQSDLQURL              string
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxAttempts      int
	OutboxRetryDelay       time.Duration
	OutboxBreakerFailures  int
	OutboxBreakerResetTime time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ReservationWindow        time.Duration
	ReservationSweepInterval time.Duration
	ReservationSweepBatch    int
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		PostgresConnMaxLife: 30 * time.Minute,

		IdempotencyBackend:     IdempotencyBackendStorage,
		IdempotencyTTL:         domain.DefaultIdempotencyTTL,
		IdempotencyWaitTimeout: 5 * time.Second,
		RedisAddr:              "localhost:6379",
		RedisKeyPrefix:         "commerce:idem:",
		DynamoDBTable:          "commerce-idempotency",

		AWSRegion: "us-east-1",

		OutboxPublisher:        OutboxPublisherLog,
		OutboxPollInterval:     time.Second,
		OutboxBatchSize:        100,
		OutboxMaxAttempts:      3,
		OutboxRetryDelay:       100 * time.Millisecond,
		OutboxBreakerFailures:  5,
		OutboxBreakerResetTime: 30 * time.Second,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ReservationWindow:        domain.DefaultReservationWindow,
		ReservationSweepInterval: time.Minute,
		ReservationSweepBatch:    100,
	}
}
