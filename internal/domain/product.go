package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — товар каталога. StockQuantity уже не включает активные резервы.
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет обязательные поля товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceInvalid)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrQuantityInvalid)
	}

	return errs
}

// MovementType — тип записи в журнале движения товара.
type MovementType string

const (
	// MovementIn — поступление на склад.
	MovementIn MovementType = "IN"
	// MovementOut — отгрузка по подтверждённому резерву.
	MovementOut MovementType = "OUT"
	// MovementReserved — товар удержан под заказ.
	MovementReserved MovementType = "RESERVED"
	// MovementReleased — удержание снято.
	MovementReleased MovementType = "RELEASED"
)

// Valid проверяет, что тип движения известен.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementReserved, MovementReleased:
		return true
	default:
		return false
	}
}

// StockMovement — неизменяемая запись журнала склада.
type StockMovement struct {
	ID          string
	ProductID   string
	Type        MovementType
	Quantity    int64
	ReferenceID string
	Notes       string
	ActorID     string
	CreatedAt   time.Time
}
