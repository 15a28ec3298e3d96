package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type productRepository struct {
	s *Store
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.st.products[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt
	r.s.st.products[product.ID] = product
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	defer r.s.lock(ctx)()

	product, ok := r.s.st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context, limit int) ([]domain.Product, error) {
	defer r.s.lock(ctx)()

	result := make([]domain.Product, 0, len(r.s.st.products))
	for _, p := range r.s.st.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AdjustStock меняет остаток, не допуская ухода в минус.
func (r *productRepository) AdjustStock(ctx context.Context, id string, delta int64) (int64, error) {
	defer r.s.lock(ctx)()

	product, ok := r.s.st.products[id]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	if product.StockQuantity+delta < 0 {
		return product.StockQuantity, fmt.Errorf("%w: available=%d requested=%d",
			domain.ErrInsufficientStock, product.StockQuantity, -delta)
	}
	product.StockQuantity += delta
	product.UpdatedAt = time.Now().UTC()
	r.s.st.products[id] = product
	return product.StockQuantity, nil
}

type movementRepository struct {
	s *Store
}

func (r *movementRepository) Append(ctx context.Context, movement domain.StockMovement) error {
	defer r.s.lock(ctx)()

	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	r.s.st.movements = append(r.s.st.movements, movement)
	return nil
}

// ListByProduct возвращает последние движения, новые первыми.
func (r *movementRepository) ListByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	defer r.s.lock(ctx)()

	var result []domain.StockMovement
	for i := len(r.s.st.movements) - 1; i >= 0; i-- {
		m := r.s.st.movements[i]
		if m.ProductID != productID {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

type reservationRepository struct {
	s *Store
}

func (r *reservationRepository) Create(ctx context.Context, reservation domain.StockReservation) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.st.reservations[reservation.OrderID]; exists {
		return domain.ErrDuplicateReservation
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	r.s.st.reservations[reservation.OrderID] = reservation
	return nil
}

func (r *reservationRepository) GetByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	defer r.s.lock(ctx)()

	reservation, ok := r.s.st.reservations[orderID]
	if !ok {
		return domain.StockReservation{}, domain.ErrReservationNotFound
	}
	return reservation, nil
}

func (r *reservationRepository) DeleteByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	defer r.s.lock(ctx)()

	reservation, ok := r.s.st.reservations[orderID]
	if !ok {
		return domain.StockReservation{}, domain.ErrReservationNotFound
	}
	delete(r.s.st.reservations, orderID)
	return reservation, nil
}

// ListExpired возвращает резервы с expires_at < before, самые старые первыми.
func (r *reservationRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.StockReservation, error) {
	defer r.s.lock(ctx)()

	var result []domain.StockReservation
	for _, res := range r.s.st.reservations {
		if res.ExpiresAt.Before(before) {
			result = append(result, res)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].OrderID < result[j].OrderID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ domain.ProductRepository     = (*productRepository)(nil)
	_ domain.MovementRepository    = (*movementRepository)(nil)
	_ domain.ReservationRepository = (*reservationRepository)(nil)
)
