package domain

import "time"

// DefaultReservationWindow — сколько живёт резерв без подтверждения.
const DefaultReservationWindow = 30 * time.Minute

// StockReservation удерживает количество товара под внешнюю ссылку (заказ или его позицию).
// Удаление записи означает завершение резерва.
type StockReservation struct {
	ID        string
	ProductID string
	Quantity  int64
	OrderID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли резерв к моменту now.
func (r StockReservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *StockReservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if r.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}

	return errs
}
