package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
)

// Inventory — то, что координатор использует на складе.
type Inventory interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	Reserve(ctx context.Context, actor domain.Actor, productID string, quantity int64, orderID string) (inventory.ReserveResult, error)
	Confirm(ctx context.Context, actor domain.Actor, orderID string) (inventory.ReservationResult, error)
	Release(ctx context.Context, actor domain.Actor, orderID string) (inventory.ReservationResult, error)
}

// ItemInput — строка нового заказа. Цена берётся из каталога, не от клиента.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// CreateOrderInput — данные нового заказа.
type CreateOrderInput struct {
	Items           []ItemInput
	ShippingAddress string
	Notes           string
}

// StatusChange — итог ручной смены статуса.
type StatusChange struct {
	OrderID   string             `json:"order_id"`
	OldStatus domain.OrderStatus `json:"old_status"`
	NewStatus domain.OrderStatus `json:"new_status"`
}

// Service координирует заказы, резервы и оплату из кошелька.
type Service struct {
	tx        domain.Transactor
	orders    domain.OrderRepository
	history   domain.StatusHistoryRepository
	payments  domain.PaymentRepository
	accounts  domain.AccountRepository
	outbox    domain.OutboxRepository
	inventory Inventory
	logger    *log.Entry
	metrics   *metrics.CommerceMetrics
	now       func() time.Time
}

// NewService создаёт координатор заказов.
func NewService(repos domain.Repositories, inv Inventory, logger *log.Entry, m *metrics.CommerceMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	return &Service{
		tx:        repos.Tx,
		orders:    repos.Orders,
		history:   repos.History,
		payments:  repos.Payments,
		accounts:  repos.Accounts,
		outbox:    repos.Outbox,
		inventory: inv,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder создаёт заказ и резервирует каждую строку под ссылкой {order_id}:{line_no}.
// Любая ошибка откатывает заказ вместе с уже сделанными резервами.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, in CreateOrderInput) (order domain.Order, err error) {
	done := s.metrics.StartOperation("orders.create")
	defer func() { done(err) }()

	if actor.ID == "" {
		return domain.Order{}, domain.ErrActorRequired
	}
	if len(in.Items) == 0 {
		return domain.Order{}, domain.ErrEmptyOrder
	}
	address := strings.TrimSpace(in.ShippingAddress)
	if address == "" {
		return domain.Order{}, domain.ErrMissingAddress
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.Order{}, domain.ErrProductIDRequired
		}
		if item.Quantity <= 0 {
			return domain.Order{}, domain.ErrQuantityInvalid
		}
	}

	now := s.now()
	order = domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      actor.ID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     decimal.Zero,
		ShippingAddress: address,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Строки блокируются в порядке product_id, номера строк остаются клиентскими.
		order.Items = make([]domain.OrderItem, len(in.Items))
		for _, i := range lockOrder(in.Items) {
			line := in.Items[i]
			productID := strings.TrimSpace(line.ProductID)
			product, err := s.inventory.GetProduct(ctx, productID)
			if err != nil {
				return err
			}

			ref := domain.ReservationRef(order.ID, i+1)
			if _, err := s.inventory.Reserve(ctx, actor, productID, line.Quantity, ref); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}

			order.Items[i] = domain.OrderItem{
				ID:             uuid.NewString(),
				OrderID:        order.ID,
				ProductID:      productID,
				ProductName:    product.Name,
				UnitPrice:      product.Price,
				Quantity:       line.Quantity,
				Subtotal:       product.Price.Mul(decimal.NewFromInt(line.Quantity)),
				ReservationRef: ref,
			}
		}
		for _, item := range order.Items {
			order.TotalAmount = order.TotalAmount.Add(item.Subtotal)
		}

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errs[0]
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, order.ID, "", domain.OrderStatusPending, "Order created", actor); err != nil {
			return err
		}
		return s.enqueue(ctx, domain.EventOrderCreated, s.orderEvent(order, "", actor))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.TotalAmount.String(),
		"items":       len(order.Items),
	}).Info("order created")
	return order, nil
}

// lockOrder возвращает индексы строк, упорядоченные по product_id.
// Два заказа с одними товарами берут блокировки строк products в одном порядке.
func lockOrder(items []ItemInput) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return strings.TrimSpace(items[idx[a]].ProductID) < strings.TrimSpace(items[idx[b]].ProductID)
	})
	return idx
}

// UpdateStatus — ручная смена статуса оператором.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, status domain.OrderStatus, notes string) (result StatusChange, err error) {
	done := s.metrics.StartOperation("orders.update_status")
	defer func() { done(err) }()

	if err := actor.RequireOperator(); err != nil {
		return StatusChange{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return StatusChange{}, domain.ErrOrderIDRequired
	}
	status = domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return StatusChange{}, domain.ErrInvalidStatus
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == status {
			return domain.ErrNoStatusChange
		}

		from := order.Status
		order.Status = status
		order.UpdatedAt = s.now()
		if err := s.orders.Save(ctx, order); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, order.ID, from, status, notes, actor); err != nil {
			return err
		}

		event := s.orderEvent(order, from, actor)
		event.Reason = notes
		if err := s.enqueue(ctx, domain.EventOrderStatusChanged, event); err != nil {
			return err
		}

		result = StatusChange{OrderID: order.ID, OldStatus: from, NewStatus: status}
		return nil
	})
	if err != nil {
		return StatusChange{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": result.OrderID,
		"from":     result.OldStatus,
		"to":       result.NewStatus,
		"actor_id": actor.ID,
	}).Info("order status updated")
	return result, nil
}

// GetOrder возвращает заказ владельцу или оператору.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if actor.ID == "" {
		return domain.Order{}, domain.ErrActorRequired
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := actor.Authorize(order.CustomerID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы самого actor.
func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, limit int) ([]domain.Order, error) {
	if actor.ID == "" {
		return nil, domain.ErrActorRequired
	}
	return s.orders.ListByCustomer(ctx, actor.ID, limit)
}

// StatusHistory возвращает историю статусов в порядке создания.
func (s *Service) StatusHistory(ctx context.Context, actor domain.Actor, orderID string) ([]domain.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, strings.TrimSpace(orderID))
}

// Payments возвращает платёжные записи заказа.
func (s *Service) Payments(ctx context.Context, actor domain.Actor, orderID string) ([]domain.PaymentRecord, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.payments.ListByOrder(ctx, strings.TrimSpace(orderID))
}

func (s *Service) appendHistory(ctx context.Context, orderID string, from, to domain.OrderStatus, notes string, actor domain.Actor) error {
	return s.history.Append(ctx, domain.OrderStatusHistory{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Notes:      notes,
		ActorID:    actor.ID,
		CreatedAt:  s.now(),
	})
}

func (s *Service) orderEvent(order domain.Order, from domain.OrderStatus, actor domain.Actor) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		FromStatus: from,
		Total:      order.TotalAmount.String(),
		ActorID:    actor.ID,
		OccurredAt: s.now(),
	}
}

func (s *Service) enqueue(ctx context.Context, eventType string, event domain.OrderEvent) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   event.OrderID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return err
	}
	s.metrics.RecordOutboxEvent()
	return nil
}
