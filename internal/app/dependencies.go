package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	dynamostore "github.com/vladislavdragonenkov/commerce/internal/storage/dynamodb"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/commerce/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repos              domain.Repositories
	idempotencyRepo    domain.IdempotencyRepository
	idempotencyExpires bool
	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker
	closers            []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает хранилище сущностей и кэш idempotency-ключей.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	var pgStore *postgres.Store

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.repos = store.Repositories()
		deps.storageChecker = healthcheck.NewPingChecker("memory", func(context.Context) error { return nil })
		logger.Info("storage driver: memory")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage driver requires dsn")
		}
		store, err := postgres.OpenWithPool(ctx, cfg.PostgresDSN, postgres.PoolConfig{
			MaxConns:        cfg.PostgresMaxConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLife,
		})
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		pgStore = store
		deps.repos = store.Repositories()
		deps.storageChecker = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("storage driver: postgres")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if err := initIdempotency(ctx, cfg, deps, pgStore, logger); err != nil {
		deps.close(logger)
		return nil, err
	}
	return deps, nil
}

func initIdempotency(ctx context.Context, cfg Config, deps *runtimeDependencies, pgStore *postgres.Store, logger *log.Entry) error {
	switch cfg.IdempotencyBackend {
	case IdempotencyBackendStorage, "":
		if pgStore != nil {
			deps.idempotencyRepo = postgres.NewIdempotencyRepository(pgStore)
		} else {
			deps.idempotencyRepo = memory.NewIdempotencyRepository()
		}
		deps.idempotencyChecker = deps.storageChecker
	case IdempotencyBackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client, cfg.RedisKeyPrefix)
		deps.idempotencyExpires = true
		deps.idempotencyChecker = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	case IdempotencyBackendDynamoDB:
		if strings.TrimSpace(cfg.DynamoDBTable) == "" {
			return errors.New("dynamodb idempotency backend requires table name")
		}
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		client := newDynamoDBClient(awsCfg, cfg.AWSEndpoint)
		table := cfg.DynamoDBTable
		deps.idempotencyRepo = dynamostore.NewIdempotencyRepository(client, table)
		deps.idempotencyExpires = true
		deps.idempotencyChecker = healthcheck.NewPingChecker("dynamodb", func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
			return err
		})
	default:
		return fmt.Errorf("unsupported idempotency backend %q", cfg.IdempotencyBackend)
	}

	logger.WithField("backend", string(cfg.IdempotencyBackend)).Info("idempotency cache initialized")
	return nil
}
