package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type orderRepository struct {
	s *Store
}

const orderColumns = `id, customer_id, status, total_amount, shipping_address, notes, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &status, &order.TotalAmount, &order.ShippingAddress,
		&order.Notes, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	order.Status = domain.OrderStatus(status)
	return order, err
}

// Create сохраняет заказ и позиции. Вне транзакции открывает собственную.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := withOpTimeout(ctx)
		defer cancel()

		q := r.s.conn(ctx)
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, order.CustomerID, string(order.Status), order.TotalAmount, order.ShippingAddress,
			order.Notes, order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, line_no, product_id, product_name, unit_price, quantity, subtotal, reservation_ref
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				item.ID, order.ID, i+1, item.ProductID, item.ProductName, item.UnitPrice,
				item.Quantity, item.Subtotal, item.ReservationRef,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *orderRepository) get(ctx context.Context, id, lock string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.s.conn(ctx).QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.s.conn(ctx).QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции читаем после закрытия курсора: в транзакции соединение одно.
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Save обновляет изменяемые поля заказа с проверкой версии. Позиции не трогает.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    shipping_address = $2,
		    notes = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
	`,
		string(order.Status),
		order.ShippingAddress,
		order.Notes,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := r.s.conn(ctx).QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price, quantity, subtotal, reservation_ref
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPrice,
			&item.Quantity, &item.Subtotal, &item.ReservationRef,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type historyRepository struct {
	s *Store
}

func (r *historyRepository) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, notes, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OrderID, string(entry.FromStatus), string(entry.ToStatus), entry.Notes, entry.ActorID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order status history: %w", err)
	}
	return nil
}

func (r *historyRepository) List(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, notes, actor_id, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC, seq ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order status history: %w", err)
	}
	defer rows.Close()

	var result []domain.OrderStatusHistory
	for rows.Next() {
		var (
			h        domain.OrderStatusHistory
			from, to string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &from, &to, &h.Notes, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order status history: %w", err)
		}
		h.FromStatus = domain.OrderStatus(from)
		h.ToStatus = domain.OrderStatus(to)
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order status history: %w", err)
	}
	return result, nil
}

type paymentRepository struct {
	s *Store
}

func (r *paymentRepository) Create(ctx context.Context, rec domain.PaymentRecord) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO payment_records (id, order_id, type, amount, status, transaction_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, rec.ID, rec.OrderID, string(rec.Type), rec.Amount, string(rec.Status), rec.TransactionID, rec.Notes, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

func (r *paymentRepository) Update(ctx context.Context, rec domain.PaymentRecord) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE payment_records
		SET status = $2,
		    transaction_id = $3,
		    notes = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, rec.ID, string(rec.Status), rec.TransactionID, rec.Notes)
	if err != nil {
		return fmt.Errorf("update payment record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, type, amount, status, transaction_id, notes, created_at, updated_at
		FROM payment_records
		WHERE order_id = $1
		ORDER BY seq ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment records: %w", err)
	}
	defer rows.Close()

	var result []domain.PaymentRecord
	for rows.Next() {
		var (
			rec         domain.PaymentRecord
			typ, status string
		)
		if err := rows.Scan(&rec.ID, &rec.OrderID, &typ, &rec.Amount, &status, &rec.TransactionID, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		rec.Type = domain.PaymentType(typ)
		rec.Status = domain.PaymentStatus(status)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment records: %w", err)
	}
	return result, nil
}

var (
	_ domain.OrderRepository         = (*orderRepository)(nil)
	_ domain.StatusHistoryRepository = (*historyRepository)(nil)
	_ domain.PaymentRepository       = (*paymentRepository)(nil)
)
