package app

import (
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(log.WithField("test", "memory-storage"))

	if deps.repos.Tx == nil || deps.repos.Orders == nil || deps.repos.Outbox == nil {
		t.Fatalf("memory repositories must be initialized: %+v", deps.repos)
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotencyRepo should not be nil for memory storage")
	}
	if deps.idempotencyExpires {
		t.Fatal("memory idempotency cache needs the cleanup worker")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "postgres without dsn",
			cfg:  Config{StorageDriver: StorageDriverPostgres},
			want: "requires dsn",
		},
		{
			name: "unsupported storage driver",
			cfg:  Config{StorageDriver: "sqlite"},
			want: "unsupported storage driver",
		},
		{
			name: "unsupported idempotency backend",
			cfg:  Config{StorageDriver: StorageDriverMemory, IdempotencyBackend: "memcached"},
			want: "unsupported idempotency backend",
		},
		{
			name: "dynamodb without table",
			cfg:  Config{StorageDriver: StorageDriverMemory, IdempotencyBackend: IdempotencyBackendDynamoDB},
			want: "requires table name",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := initRuntimeDependencies(context.Background(), tc.cfg, log.WithField("test", tc.name))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestInitOutboxPublishers(t *testing.T) {
	t.Parallel()
	logger := log.WithField("test", "publishers")

	publishers, err := initOutboxPublishers(context.Background(), Config{}, logger)
	if err != nil {
		t.Fatalf("log publisher must not fail: %v", err)
	}
	if publishers.main == nil || publishers.dlq != nil {
		t.Fatalf("unexpected log publishers: %+v", publishers)
	}
	publishers.close()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "kafka without brokers", cfg: Config{OutboxPublisher: OutboxPublisherKafka, KafkaBrokers: " , "}, want: "requires brokers"},
		{name: "sqs without queue", cfg: Config{OutboxPublisher: OutboxPublisherSQS}, want: "requires queue url"},
		{name: "unknown", cfg: Config{OutboxPublisher: "nats"}, want: "unsupported outbox publisher"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := initOutboxPublishers(context.Background(), tc.cfg, logger)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
