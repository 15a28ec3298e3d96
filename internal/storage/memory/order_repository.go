package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// orderRepository хранит заказы в общем состоянии Store.
type orderRepository struct {
	s *Store
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.st.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию позиций, чтобы избежать непредсказуемых мутаций извне.
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	r.s.st.orders[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.s.lock(ctx)()

	order, ok := r.s.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order, nil
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.Order, 0)
	for _, order := range r.s.st.orders {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
// Позиции заказа не перезаписываются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()

	current, ok := r.s.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	order.Items = current.Items
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	r.s.st.orders[order.ID] = order
	return nil
}

type historyRepository struct {
	s *Store
}

func (r *historyRepository) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	defer r.s.lock(ctx)()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.s.st.history = append(r.s.st.history, entry)
	return nil
}

// List возвращает историю заказа в хронологическом порядке.
func (r *historyRepository) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	defer r.s.lock(ctx)()

	var result []domain.OrderStatusHistory
	for _, h := range r.s.st.history {
		if h.OrderID == orderID {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

type paymentRepository struct {
	s *Store
}

func (r *paymentRepository) Create(ctx context.Context, record domain.PaymentRecord) error {
	defer r.s.lock(ctx)()

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	r.s.st.payments = append(r.s.st.payments, record)
	return nil
}

func (r *paymentRepository) Update(ctx context.Context, record domain.PaymentRecord) error {
	defer r.s.lock(ctx)()

	for i := range r.s.st.payments {
		if r.s.st.payments[i].ID != record.ID {
			continue
		}
		record.CreatedAt = r.s.st.payments[i].CreatedAt
		record.UpdatedAt = time.Now().UTC()
		r.s.st.payments[i] = record
		return nil
	}
	return domain.ErrPaymentNotFound
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	defer r.s.lock(ctx)()

	var result []domain.PaymentRecord
	for _, p := range r.s.st.payments {
		if p.OrderID == orderID {
			result = append(result, p)
		}
	}
	return result, nil
}

var (
	_ domain.OrderRepository         = (*orderRepository)(nil)
	_ domain.StatusHistoryRepository = (*historyRepository)(nil)
	_ domain.PaymentRepository       = (*paymentRepository)(nil)
)
