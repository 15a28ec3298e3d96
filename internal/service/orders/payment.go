package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// PaymentResult — итог оплаты заказа.
type PaymentResult struct {
	PaymentID   string             `json:"payment_id"`
	OrderID     string             `json:"order_id"`
	Amount      decimal.Decimal    `json:"amount"`
	NewBalance  decimal.Decimal    `json:"new_balance"`
	OrderStatus domain.OrderStatus `json:"order_status"`
}

// CancelResult — итог отмены заказа. NewBalance заполняется только при возврате денег.
type CancelResult struct {
	OrderID      string             `json:"order_id"`
	Status       domain.OrderStatus `json:"status"`
	RefundAmount decimal.Decimal    `json:"refund_amount"`
	NewBalance   *decimal.Decimal   `json:"new_balance,omitempty"`
}

// ProcessPayment списывает стоимость заказа с кошелька владельца и подтверждает резервы.
// Если после создания платёжной записи что-то пошло не так, транзакция откатывается,
// а отдельно сохраняется запись FAILED с текстом ошибки.
func (s *Service) ProcessPayment(ctx context.Context, actor domain.Actor, orderID string) (result PaymentResult, err error) {
	done := s.metrics.StartOperation("orders.process_payment")
	defer func() { done(err) }()

	order, err := s.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return PaymentResult{}, err
	}
	if actor.ID != order.CustomerID {
		return PaymentResult{}, domain.ErrForbidden
	}

	var pending *domain.PaymentRecord
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: cannot pay for order with status %s", domain.ErrInvalidState, order.Status)
		}

		// Строка счёта заблокирована до конца транзакции.
		account, err := s.accounts.GetForUpdate(ctx, order.CustomerID)
		if err != nil {
			return err
		}
		if !account.Covers(order.TotalAmount) {
			return fmt.Errorf("%w: balance=%s required=%s", domain.ErrInsufficientBalance, account.Balance, order.TotalAmount)
		}

		now := s.now()
		payment := domain.PaymentRecord{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Type:      domain.PaymentTypeWallet,
			Amount:    order.TotalAmount,
			Status:    domain.PaymentStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errs := payment.Validate(); len(errs) > 0 {
			return errs[0]
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return err
		}
		pending = &payment

		balance, err := s.accounts.ApplyDelta(ctx, order.CustomerID, order.TotalAmount.Neg())
		if err != nil {
			return err
		}

		payment.Status = domain.PaymentStatusCompleted
		payment.TransactionID = "wallet_payment_" + payment.ID
		payment.UpdatedAt = s.now()
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}

		from := order.Status
		order.Status = domain.OrderStatusConfirmed
		order.UpdatedAt = s.now()
		if err := s.orders.Save(ctx, order); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, order.ID, from, order.Status, "Payment completed via wallet. Payment ID: "+payment.ID, actor); err != nil {
			return err
		}

		for _, item := range order.Items {
			if _, err := s.inventory.Confirm(ctx, actor, item.ReservationRef); err != nil {
				return fmt.Errorf("confirm reservation %s: %w", item.ReservationRef, err)
			}
		}

		if err := s.enqueue(ctx, domain.EventOrderConfirmed, s.orderEvent(order, from, actor)); err != nil {
			return err
		}

		result = PaymentResult{
			PaymentID:   payment.ID,
			OrderID:     order.ID,
			Amount:      payment.Amount,
			NewBalance:  balance,
			OrderStatus: order.Status,
		}
		return nil
	})
	if err != nil {
		if pending != nil {
			s.persistFailed(ctx, *pending, err)
		}
		return PaymentResult{}, err
	}

	s.metrics.RecordPayment(domain.PaymentTypeWallet, domain.PaymentStatusCompleted)
	s.logger.WithFields(log.Fields{
		"order_id":   result.OrderID,
		"payment_id": result.PaymentID,
		"amount":     result.Amount.String(),
	}).Info("order paid")
	return result, nil
}

// CancelOrder отменяет заказ. PENDING заказ освобождает резервы, оплаченный получает возврат
// на кошелёк. Возврат, смена статуса, история и событие пишутся одной транзакцией.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (result CancelResult, err error) {
	done := s.metrics.StartOperation("orders.cancel")
	defer func() { done(err) }()

	order, err := s.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return CancelResult{}, err
	}

	var pending *domain.PaymentRecord
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot cancel order with status %s", domain.ErrTerminalState, order.Status)
		}

		refund := decimal.Zero
		var balance *decimal.Decimal
		switch {
		case order.Status == domain.OrderStatusPending:
			if err := s.releaseReservations(ctx, actor, order); err != nil {
				return err
			}
		case order.Status.IsPaid():
			records, err := s.payments.ListByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			refund = domain.PaidAmount(records)
			if refund.IsPositive() {
				var newBalance decimal.Decimal
				if pending, newBalance, err = s.refund(ctx, order, refund); err != nil {
					return err
				}
				balance = &newBalance
			}
		}

		from := order.Status
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = s.now()
		if err := s.orders.Save(ctx, order); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, order.ID, from, order.Status, "Order cancelled. Reason: "+reason, actor); err != nil {
			return err
		}

		event := s.orderEvent(order, from, actor)
		event.Reason = reason
		if refund.IsPositive() {
			event.Refund = refund.String()
		}
		if err := s.enqueue(ctx, domain.EventOrderCancelled, event); err != nil {
			return err
		}

		result = CancelResult{OrderID: order.ID, Status: order.Status, RefundAmount: refund, NewBalance: balance}
		return nil
	})
	if err != nil {
		if pending != nil {
			s.persistFailed(ctx, *pending, err)
		}
		return CancelResult{}, err
	}

	if result.RefundAmount.IsPositive() {
		s.metrics.RecordPayment(domain.PaymentTypeRefund, domain.PaymentStatusCompleted)
	}
	s.logger.WithFields(log.Fields{
		"order_id": result.OrderID,
		"refund":   result.RefundAmount.String(),
		"actor_id": actor.ID,
	}).Info("order cancelled")
	return result, nil
}

// releaseReservations снимает резервы строк. Уже снятые sweeper'ом пропускаются.
func (s *Service) releaseReservations(ctx context.Context, actor domain.Actor, order domain.Order) error {
	for _, item := range order.Items {
		_, err := s.inventory.Release(ctx, actor, item.ReservationRef)
		if err == nil || domain.KindOf(err) == domain.KindNotFound {
			continue
		}
		return fmt.Errorf("release reservation %s: %w", item.ReservationRef, err)
	}
	return nil
}

// refund возвращает amount на кошелёк владельца одной дельтой.
// Возвращаемая запись нужна вызывающему, чтобы сохранить FAILED при откате.
func (s *Service) refund(ctx context.Context, order domain.Order, amount decimal.Decimal) (*domain.PaymentRecord, decimal.Decimal, error) {
	now := s.now()
	record := domain.PaymentRecord{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Type:      domain.PaymentTypeRefund,
		Amount:    amount,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, decimal.Zero, err
	}

	balance, err := s.accounts.ApplyDelta(ctx, order.CustomerID, amount)
	if err != nil {
		return &record, decimal.Zero, fmt.Errorf("refund failed: %w", err)
	}

	completed := record
	completed.Status = domain.PaymentStatusCompleted
	completed.TransactionID = "wallet_refund_" + record.ID
	completed.UpdatedAt = s.now()
	if err := s.payments.Update(ctx, completed); err != nil {
		return &record, decimal.Zero, fmt.Errorf("refund failed: %w", err)
	}
	return &record, balance, nil
}

// persistFailed сохраняет запись FAILED вне откатившейся транзакции.
func (s *Service) persistFailed(ctx context.Context, record domain.PaymentRecord, cause error) {
	record.Status = domain.PaymentStatusFailed
	record.TransactionID = ""
	record.Notes = cause.Error()
	record.UpdatedAt = s.now()

	err := s.tx.WithinTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return s.payments.Create(ctx, record)
	})
	logger := s.logger.WithFields(log.Fields{
		"order_id":   record.OrderID,
		"payment_id": record.ID,
		"type":       record.Type,
	})
	if err != nil {
		logger.WithError(err).Error("failed to persist failed payment record")
		return
	}
	s.metrics.RecordPayment(record.Type, domain.PaymentStatusFailed)
	logger.WithField("cause", cause.Error()).Warn("payment record marked failed")
}

// ownedOrder читает заказ и проверяет, что actor — владелец или оператор.
func (s *Service) ownedOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	return s.GetOrder(ctx, actor, strings.TrimSpace(orderID))
}
