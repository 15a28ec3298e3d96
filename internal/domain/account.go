package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account — кошелёк клиента. Баланс меняется только атомарной дельтой.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TopUp фиксирует одно пополнение кошелька.
type TopUp struct {
	ID        string
	AccountID string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// TopUpLog — журнальная запись о пополнении.
type TopUpLog struct {
	ID        string
	TopUpID   string
	Message   string
	CreatedAt time.Time
}

// Covers сообщает, хватает ли баланса на списание amount.
func (a Account) Covers(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
