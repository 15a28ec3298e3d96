package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
)

const (
	defaultSweepBatchSize = 100
	defaultMovementsLimit = 50
)

// CreateProductInput — данные нового товара.
type CreateProductInput struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int64
}

// ReserveResult — итог резервирования.
type ReserveResult struct {
	ReservationID    string    `json:"reservation_id"`
	ProductID        string    `json:"product_id"`
	OrderID          string    `json:"order_id"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	RemainingStock   int64     `json:"remaining_stock"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ReservationResult — итог подтверждения или снятия резерва.
type ReservationResult struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	StockQuantity int64  `json:"stock_quantity"`
}

// AddStockResult — итог поступления товара.
type AddStockResult struct {
	ProductID        string `json:"product_id"`
	AddedQuantity    int64  `json:"added_quantity"`
	NewStockQuantity int64  `json:"new_stock_quantity"`
}

// Options задает параметры сервиса склада.
type Options struct {
	Metrics           *metrics.CommerceMetrics
	ReservationWindow time.Duration
	SweepBatchSize    int
	Now               func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithMetrics задает метрики.
func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithReservationWindow задает время жизни резерва.
func WithReservationWindow(window time.Duration) Option {
	return func(opts *Options) {
		opts.ReservationWindow = window
	}
}

// WithSweepBatchSize задает размер порции при очистке истёкших резервов.
func WithSweepBatchSize(size int) Option {
	return func(opts *Options) {
		opts.SweepBatchSize = size
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Service — склад: каталог, остатки и машина состояний резерва.
type Service struct {
	tx           domain.Transactor
	products     domain.ProductRepository
	movements    domain.MovementRepository
	reservations domain.ReservationRepository
	outbox       domain.OutboxRepository
	logger       *log.Entry
	metrics      *metrics.CommerceMetrics
	window       time.Duration
	batchSize    int
	now          func() time.Time
}

// NewService создаёт сервис склада поверх репозиториев одного хранилища.
func NewService(repos domain.Repositories, logger *log.Entry, options ...Option) *Service {
	opts := Options{
		ReservationWindow: domain.DefaultReservationWindow,
		SweepBatchSize:    defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	if opts.ReservationWindow <= 0 {
		opts.ReservationWindow = domain.DefaultReservationWindow
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = defaultSweepBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		tx:           repos.Tx,
		products:     repos.Products,
		movements:    repos.Movements,
		reservations: repos.Reservations,
		outbox:       repos.Outbox,
		logger:       logger,
		metrics:      opts.Metrics,
		window:       opts.ReservationWindow,
		batchSize:    opts.SweepBatchSize,
		now:          opts.Now,
	}
}

// CreateProduct добавляет товар в каталог. Доступно только оператору.
func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, in CreateProductInput) (product domain.Product, err error) {
	done := s.metrics.StartOperation("inventory.create_product")
	defer func() { done(err) }()

	if err := actor.RequireOperator(); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product = domain.Product{
		ID:            strings.TrimSpace(in.ID),
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.products.Create(ctx, product); err != nil {
			return err
		}
		if product.StockQuantity == 0 {
			return nil
		}
		return s.movements.Append(ctx, domain.StockMovement{
			ID:        uuid.NewString(),
			ProductID: product.ID,
			Type:      domain.MovementIn,
			Quantity:  product.StockQuantity,
			Notes:     "Initial stock",
			ActorID:   actor.ID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// GetProduct возвращает товар с текущим доступным остатком.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	return s.products.Get(ctx, id)
}

// ListProducts возвращает каталог.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	return s.products.List(ctx, limit)
}

// AddStock атомарно увеличивает остаток и пишет движение IN. Доступно только оператору.
func (s *Service) AddStock(ctx context.Context, actor domain.Actor, productID string, quantity int64, notes string) (result AddStockResult, err error) {
	done := s.metrics.StartOperation("inventory.add_stock")
	defer func() { done(err) }()

	if err := actor.RequireOperator(); err != nil {
		return AddStockResult{}, err
	}
	if strings.TrimSpace(productID) == "" {
		return AddStockResult{}, domain.ErrProductIDRequired
	}
	if quantity <= 0 {
		return AddStockResult{}, domain.ErrQuantityInvalid
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		stock, err := s.products.AdjustStock(ctx, productID, quantity)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.movements.Append(ctx, domain.StockMovement{
			ID:        uuid.NewString(),
			ProductID: productID,
			Type:      domain.MovementIn,
			Quantity:  quantity,
			Notes:     notes,
			ActorID:   actor.ID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result = AddStockResult{ProductID: productID, AddedQuantity: quantity, NewStockQuantity: stock}
		return s.enqueue(ctx, domain.EventStockAdded, productID, result)
	})
	if err != nil {
		return AddStockResult{}, err
	}
	return result, nil
}

// Reserve удерживает quantity товара под orderID до истечения окна резерва.
func (s *Service) Reserve(ctx context.Context, actor domain.Actor, productID string, quantity int64, orderID string) (result ReserveResult, err error) {
	done := s.metrics.StartOperation("inventory.reserve")
	defer func() { done(err) }()

	reservation := domain.StockReservation{
		ID:        uuid.NewString(),
		ProductID: strings.TrimSpace(productID),
		Quantity:  quantity,
		OrderID:   strings.TrimSpace(orderID),
	}
	if errs := reservation.Validate(); len(errs) > 0 {
		return ReserveResult{}, errs[0]
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.products.Get(ctx, reservation.ProductID); err != nil {
			return err
		}

		// Условное списание: остаток не может уйти в минус даже при гонке.
		remaining, err := s.products.AdjustStock(ctx, reservation.ProductID, -quantity)
		if err != nil {
			return err
		}

		now := s.now()
		reservation.CreatedAt = now
		reservation.ExpiresAt = now.Add(s.window)
		if err := s.reservations.Create(ctx, reservation); err != nil {
			return err
		}
		if err := s.movements.Append(ctx, domain.StockMovement{
			ID:          uuid.NewString(),
			ProductID:   reservation.ProductID,
			Type:        domain.MovementReserved,
			Quantity:    quantity,
			ReferenceID: reservation.OrderID,
			Notes:       fmt.Sprintf("Reserved for order %s", reservation.OrderID),
			ActorID:     actor.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		result = ReserveResult{
			ReservationID:    reservation.ID,
			ProductID:        reservation.ProductID,
			OrderID:          reservation.OrderID,
			ReservedQuantity: quantity,
			RemainingStock:   remaining,
			ExpiresAt:        reservation.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}

	s.metrics.RecordReservation(metrics.ReservationReserved, 1)
	s.logger.WithFields(log.Fields{
		"order_id":   result.OrderID,
		"product_id": result.ProductID,
		"quantity":   quantity,
	}).Debug("stock reserved")
	return result, nil
}

// Confirm превращает резерв в продажу. Остаток не возвращается.
func (s *Service) Confirm(ctx context.Context, actor domain.Actor, orderID string) (result ReservationResult, err error) {
	done := s.metrics.StartOperation("inventory.confirm")
	defer func() { done(err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ReservationResult{}, domain.ErrOrderIDRequired
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reservation, err := s.reservations.GetByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		// Истёкший резерв остаётся на месте до sweeper.
		if reservation.Expired(s.now()) {
			return domain.ErrReservationExpired
		}

		// Удаление строки решает гонку с release/sweeper.
		reservation, err = s.reservations.DeleteByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.movements.Append(ctx, domain.StockMovement{
			ID:          uuid.NewString(),
			ProductID:   reservation.ProductID,
			Type:        domain.MovementOut,
			Quantity:    reservation.Quantity,
			ReferenceID: orderID,
			Notes:       fmt.Sprintf("Confirmed sale for order %s", orderID),
			ActorID:     actor.ID,
			CreatedAt:   s.now(),
		}); err != nil {
			return err
		}

		product, err := s.products.Get(ctx, reservation.ProductID)
		if err != nil {
			return err
		}
		result = ReservationResult{
			OrderID:       orderID,
			ProductID:     reservation.ProductID,
			Quantity:      reservation.Quantity,
			StockQuantity: product.StockQuantity,
		}
		return nil
	})
	if err != nil {
		return ReservationResult{}, err
	}

	s.metrics.RecordReservation(metrics.ReservationConfirmed, 1)
	return result, nil
}

// Release снимает резерв и возвращает товар в доступный остаток.
func (s *Service) Release(ctx context.Context, actor domain.Actor, orderID string) (result ReservationResult, err error) {
	done := s.metrics.StartOperation("inventory.release")
	defer func() { done(err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ReservationResult{}, domain.ErrOrderIDRequired
	}

	result, err = s.release(ctx, actor, orderID, fmt.Sprintf("Released reservation for order %s", orderID))
	if err != nil {
		return ReservationResult{}, err
	}

	s.metrics.RecordReservation(metrics.ReservationReleased, 1)
	return result, nil
}

func (s *Service) release(ctx context.Context, actor domain.Actor, orderID, notes string) (result ReservationResult, err error) {
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reservation, err := s.reservations.DeleteByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		stock, err := s.products.AdjustStock(ctx, reservation.ProductID, reservation.Quantity)
		if err != nil {
			return err
		}
		if err := s.movements.Append(ctx, domain.StockMovement{
			ID:          uuid.NewString(),
			ProductID:   reservation.ProductID,
			Type:        domain.MovementReleased,
			Quantity:    reservation.Quantity,
			ReferenceID: orderID,
			Notes:       notes,
			ActorID:     actor.ID,
			CreatedAt:   s.now(),
		}); err != nil {
			return err
		}

		result = ReservationResult{
			OrderID:       orderID,
			ProductID:     reservation.ProductID,
			Quantity:      reservation.Quantity,
			StockQuantity: stock,
		}
		return nil
	})
	return result, err
}

// SweepExpired снимает все резервы с expires_at < now, каждый в своей транзакции.
// Ошибка по одному резерву не прерывает обход. Доступно только оператору.
func (s *Service) SweepExpired(ctx context.Context, actor domain.Actor) (released int, err error) {
	done := s.metrics.StartOperation("inventory.sweep_expired")
	defer func() { done(err) }()

	if err := actor.RequireOperator(); err != nil {
		return 0, err
	}

	now := s.now()
	seen := make(map[string]struct{})
	failed := 0

	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		batch, err := s.reservations.ListExpired(ctx, now, s.batchSize)
		if err != nil {
			return released, err
		}

		fresh := 0
		for _, reservation := range batch {
			if _, ok := seen[reservation.OrderID]; ok {
				continue
			}
			seen[reservation.OrderID] = struct{}{}
			fresh++

			notes := fmt.Sprintf("Auto-released expired reservation for order %s", reservation.OrderID)
			_, err := s.release(ctx, actor, reservation.OrderID, notes)
			switch {
			case err == nil:
				released++
			case errors.Is(err, domain.ErrReservationNotFound):
				// Резерв уже подтверждён или снят конкурентно.
			default:
				failed++
				s.logger.WithError(err).WithField("order_id", reservation.OrderID).Warn("failed to release expired reservation")
			}
		}

		// Повторно выбранные строки означают, что остались только неудачные резервы.
		if fresh == 0 || len(batch) < s.batchSize {
			break
		}
	}

	s.metrics.RecordReservation(metrics.ReservationExpired, released)
	if released > 0 || failed > 0 {
		s.logger.WithFields(log.Fields{
			"released": released,
			"failed":   failed,
		}).Info("expired reservations swept")
	}
	return released, nil
}

// StockMovements возвращает последние движения товара, новые первыми.
func (s *Service) StockMovements(ctx context.Context, productID string, limit int) (domain.Product, []domain.StockMovement, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, nil, err
	}
	if limit <= 0 {
		limit = defaultMovementsLimit
	}
	movements, err := s.movements.ListByProduct(ctx, product.ID, limit)
	if err != nil {
		return domain.Product{}, nil, err
	}
	return product, movements, nil
}

func (s *Service) enqueue(ctx context.Context, eventType, productID string, payload any) error {
	if s.outbox == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateProduct,
		AggregateID:   productID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return err
	}
	s.metrics.RecordOutboxEvent()
	return nil
}
