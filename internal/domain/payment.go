package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType различает списание и возврат.
type PaymentType string

const (
	// PaymentTypeWallet — списание с кошелька в счёт заказа.
	PaymentTypeWallet PaymentType = "WALLET"
	// PaymentTypeRefund — возврат на кошелёк при отмене.
	PaymentTypeRefund PaymentType = "REFUND"
)

// PaymentStatus описывает состояние платёжной записи.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentRecord описывает платёж или возврат по заказу.
type PaymentRecord struct {
	ID            string
	OrderID       string
	Type          PaymentType
	Amount        decimal.Decimal
	Status        PaymentStatus
	TransactionID string // Пусто, пока запись не завершена.
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *PaymentRecord) Validate() []error {
	var errs []error

	switch {
	case p.OrderID == "":
		errs = append(errs, ErrOrderIDRequired)
	case p.Type != PaymentTypeWallet && p.Type != PaymentTypeRefund:
		errs = append(errs, ErrInvalidRequest)
	case !p.Amount.IsPositive():
		errs = append(errs, ErrAmountInvalid)
	}

	return errs
}

// PaidAmount возвращает сумму, которую ещё можно вернуть:
// завершённые списания минус завершённые возвраты.
func PaidAmount(records []PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if rec.Status != PaymentStatusCompleted {
			continue
		}
		switch rec.Type {
		case PaymentTypeWallet:
			total = total.Add(rec.Amount)
		case PaymentTypeRefund:
			total = total.Sub(rec.Amount)
		}
	}
	return total
}
