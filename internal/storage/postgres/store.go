package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	// opTimeout ограничивает каждый отдельный запрос к БД.
	opTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
)

// PoolConfig — настройки пула database/sql. Нулевые поля берутся из DefaultPoolConfig.
type PoolConfig struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig рассчитан на один инстанс commerce-service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (p PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if p.MaxConns <= 0 {
		p.MaxConns = def.MaxConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	return p
}

// Store — PostgreSQL-хранилище сущностей поверх pgx/stdlib.
type Store struct {
	db *sql.DB
}

// Open подключается с настройками пула по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, PoolConfig{})
}

// OpenWithPool подключается к PostgreSQL и проверяет доступность базы.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pool = pool.withDefaults()
	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.MaxConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB отдаёт пул для репозиториев, которые живут вне бизнес-транзакций.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Repositories собирает репозитории; все они берут транзакцию из ctx, если она открыта WithinTx.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Tx:           s,
		Accounts:     &accountRepository{s: s},
		TopUps:       &topUpRepository{s: s},
		Products:     &productRepository{s: s},
		Movements:    &movementRepository{s: s},
		Reservations: &reservationRepository{s: s},
		Orders:       &orderRepository{s: s},
		History:      &historyRepository{s: s},
		Payments:     &paymentRepository{s: s},
		Outbox:       &outboxRepository{s: s, lease: outboxClaimLease},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
