package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Все репозитории работают поверх общего состояния; транзакция держит
// мьютекс целиком и откатывается восстановлением снимка.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	accounts     map[string]domain.Account
	topUps       []domain.TopUp
	topUpLogs    []domain.TopUpLog
	products     map[string]domain.Product
	movements    []domain.StockMovement
	reservations map[string]domain.StockReservation // ключ — order_id резерва
	orders       map[string]domain.Order
	history      []domain.OrderStatusHistory
	payments     []domain.PaymentRecord
	outbox       []outboxRecord
}

func newState() *state {
	return &state{
		accounts:     make(map[string]domain.Account),
		products:     make(map[string]domain.Product),
		reservations: make(map[string]domain.StockReservation),
		orders:       make(map[string]domain.Order),
	}
}

// clone делает копию для отката. Позиции заказа не меняются после создания,
// поэтому срезы Items разделяются между снимками.
func (s *state) clone() *state {
	dst := &state{
		accounts:     make(map[string]domain.Account, len(s.accounts)),
		topUps:       append([]domain.TopUp(nil), s.topUps...),
		topUpLogs:    append([]domain.TopUpLog(nil), s.topUpLogs...),
		products:     make(map[string]domain.Product, len(s.products)),
		movements:    append([]domain.StockMovement(nil), s.movements...),
		reservations: make(map[string]domain.StockReservation, len(s.reservations)),
		orders:       make(map[string]domain.Order, len(s.orders)),
		history:      append([]domain.OrderStatusHistory(nil), s.history...),
		payments:     append([]domain.PaymentRecord(nil), s.payments...),
		outbox:       append([]outboxRecord(nil), s.outbox...),
	}
	for k, v := range s.accounts {
		dst.accounts[k] = v
	}
	for k, v := range s.products {
		dst.products[k] = v
	}
	for k, v := range s.reservations {
		dst.reservations[k] = v
	}
	for k, v := range s.orders {
		dst.orders[k] = v
	}
	return dst
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx выполняет fn атомарно. Ошибка или паника возвращают состояние к снимку.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
	}
	return err
}

// lock берёт мьютекс, если вызов идёт не из транзакции этого хранилища.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Repositories возвращает набор репозиториев поверх хранилища.
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
		Outbox:       &outboxRepository{s: s},
	}
}

var _ domain.Transactor = (*Store)(nil)
