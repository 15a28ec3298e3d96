package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товар зарезервирован, оплаты ещё нет.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed — заказ оплачен из кошелька, резервы подтверждены.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded — деньги по заказу возвращены оператором.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal — из этих статусов заказ уже нельзя отменить.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsPaid — статусы, в которых по заказу списаны деньги и отмена требует возврата.
func (s OrderStatus) IsPaid() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа. После создания не меняется.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int64
	Subtotal    decimal.Decimal
	// ReservationRef — ссылка резерва на складе, вида {order_id}:{line_no}.
	ReservationRef string
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	CustomerID      string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	ShippingAddress string
	Notes           string
	Items           []OrderItem
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReservationRef строит ссылку резерва для строки заказа (нумерация с 1).
func ReservationRef(orderID string, lineNo int) string {
	return fmt.Sprintf("%s:%d", orderID, lineNo)
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrActorRequired)
	}
	if o.ShippingAddress == "" {
		errs = append(errs, ErrMissingAddress)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrEmptyOrder)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}

	// Сверяем сумму заказа с суммой позиций: quantity * unit_price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceInvalid)
		}
		calc = calc.Add(item.Subtotal)
		if !item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))) {
			errs = append(errs, ErrAmountMismatch)
		}
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderStatusHistory — одна запись о смене статуса, включая начальную "" -> PENDING.
type OrderStatusHistory struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Notes      string
	ActorID    string
	CreatedAt  time.Time
}
