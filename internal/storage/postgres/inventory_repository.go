package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type productRepository struct {
	s *Store
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, product.ID, product.Name, product.Description, product.Price, product.StockQuantity, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductAlreadyExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

const productColumns = `id, name, description, price, stock_quantity, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	product, err := scanProduct(r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context, limit int) ([]domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at, id`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.s.conn(ctx).QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.s.conn(ctx).QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

// AdjustStock — условный UPDATE: stock = stock + delta WHERE stock + delta >= 0.
func (r *productRepository) AdjustStock(ctx context.Context, id string, delta int64) (int64, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var stock int64
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	err = r.s.conn(ctx).QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, id).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("select stock: %w", err)
	}
	return stock, fmt.Errorf("%w: available=%d requested=%d", domain.ErrInsufficientStock, stock, -delta)
}

type movementRepository struct {
	s *Store
}

func (r *movementRepository) Append(ctx context.Context, m domain.StockMovement) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, type, quantity, reference_id, notes, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ProductID, string(m.Type), m.Quantity, m.ReferenceID, m.Notes, m.ActorID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func (r *movementRepository) ListByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, product_id, type, quantity, reference_id, notes, actor_id, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var result []domain.StockMovement
	for rows.Next() {
		var (
			m   domain.StockMovement
			typ string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &typ, &m.Quantity, &m.ReferenceID, &m.Notes, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Type = domain.MovementType(typ)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return result, nil
}

type reservationRepository struct {
	s *Store
}

const reservationColumns = `id, product_id, quantity, order_id, expires_at, created_at`

func scanReservation(row interface{ Scan(...any) error }) (domain.StockReservation, error) {
	var res domain.StockReservation
	err := row.Scan(&res.ID, &res.ProductID, &res.Quantity, &res.OrderID, &res.ExpiresAt, &res.CreatedAt)
	return res, err
}

func (r *reservationRepository) Create(ctx context.Context, res domain.StockReservation) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO stock_reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.ID, res.ProductID, res.Quantity, res.OrderID, res.ExpiresAt, res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReservation
		}
		return fmt.Errorf("insert stock reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) GetByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := scanReservation(r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("select stock reservation: %w", err)
	}
	return res, nil
}

// DeleteByOrder удаляет резерв через DELETE ... RETURNING; конкурент получит ErrReservationNotFound.
func (r *reservationRepository) DeleteByOrder(ctx context.Context, orderID string) (domain.StockReservation, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := scanReservation(r.s.conn(ctx).QueryRowContext(ctx,
		`DELETE FROM stock_reservations WHERE order_id = $1 RETURNING `+reservationColumns, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("delete stock reservation: %w", err)
	}
	return res, nil
}

func (r *reservationRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.StockReservation, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE expires_at < $1
		ORDER BY expires_at, order_id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var result []domain.StockReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock reservation: %w", err)
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock reservations: %w", err)
	}
	return result, nil
}

var (
	_ domain.ProductRepository     = (*productRepository)(nil)
	_ domain.MovementRepository    = (*movementRepository)(nil)
	_ domain.ReservationRepository = (*reservationRepository)(nil)
)
