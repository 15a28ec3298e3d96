package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transactor выполняет fn как единое целое: либо применяются все изменения, либо ни одно.
// Транзакция передаётся через ctx; вложенный WithinTx присоединяется к внешнему.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountRepository хранит кошельки.
type AccountRepository interface {
	Create(ctx context.Context, account Account) error
	Get(ctx context.Context, id string) (Account, error)
	// GetForUpdate читает счёт с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Account, error)
	// ApplyDelta атомарно прибавляет delta (со знаком) и возвращает новый баланс.
	ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
}

// TopUpRepository хранит пополнения и журнал к ним.
type TopUpRepository interface {
	Create(ctx context.Context, topUp TopUp) error
	AppendLog(ctx context.Context, entry TopUpLog) error
	ListByAccount(ctx context.Context, accountID string) ([]TopUp, error)
	ListLogs(ctx context.Context, topUpID string) ([]TopUpLog, error)
}

// ProductRepository хранит каталог и остатки.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, limit int) ([]Product, error)
	// AdjustStock атомарно меняет остаток на delta при условии stock+delta >= 0.
	// Возвращает ErrInsufficientStock, если условие не выполнено.
	AdjustStock(ctx context.Context, id string, delta int64) (int64, error)
}

// MovementRepository — append-only журнал движения товара.
type MovementRepository interface {
	Append(ctx context.Context, movement StockMovement) error
	ListByProduct(ctx context.Context, productID string, limit int) ([]StockMovement, error)
}

// ReservationRepository хранит активные резервы.
type ReservationRepository interface {
	// Create возвращает ErrDuplicateReservation, если по order_id уже есть резерв.
	Create(ctx context.Context, reservation StockReservation) error
	GetByOrder(ctx context.Context, orderID string) (StockReservation, error)
	// DeleteByOrder удаляет резерв и возвращает его. Побеждает тот, кто удалил строку.
	DeleteByOrder(ctx context.Context, orderID string) (StockReservation, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]StockReservation, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// StatusHistoryRepository хранит историю смены статусов заказа.
type StatusHistoryRepository interface {
	Append(ctx context.Context, entry OrderStatusHistory) error
	List(ctx context.Context, orderID string) ([]OrderStatusHistory, error)
}

// PaymentRepository хранит платёжные записи заказов.
type PaymentRepository interface {
	Create(ctx context.Context, record PaymentRecord) error
	Update(ctx context.Context, record PaymentRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]PaymentRecord, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// CreateProcessing атомарно занимает ключ. Если ключ уже занят, возвращает текущую запись и
	// ErrIdempotencyKeyAlreadyExists (тот же hash) или ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete освобождает ключ после неуспешной обработки.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories собирает репозитории одного хранилища.
type Repositories struct {
	Tx           Transactor
	Accounts     AccountRepository
	TopUps       TopUpRepository
	Products     ProductRepository
	Movements    MovementRepository
	Reservations ReservationRepository
	Orders       OrderRepository
	History      StatusHistoryRepository
	Payments     PaymentRepository
	Outbox       OutboxRepository
}
