package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/commerce/internal/service/grpc"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/views"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
)

// fixture — товар и кошельки, на которых идёт нагрузка.
type fixture struct {
	productID    string
	initialStock int64
	customers    []string
	funded       decimal.Decimal
}

// ledger копит то, что сервис подтвердил, для сверки в конце прогона.
type ledger struct {
	mu           sync.Mutex
	reservedQty  int64
	charged      decimal.Decimal
	refunded     decimal.Decimal
	paidOrders   int64
	cancelOrders int64
}

func (l *ledger) reserved(qty int64) {
	l.mu.Lock()
	l.reservedQty += qty
	l.mu.Unlock()
}

func (l *ledger) paid(amount decimal.Decimal) {
	l.mu.Lock()
	l.charged = l.charged.Add(amount)
	l.paidOrders++
	l.mu.Unlock()
}

func (l *ledger) cancelled(refund decimal.Decimal) {
	l.mu.Lock()
	l.refunded = l.refunded.Add(refund)
	l.cancelOrders++
	l.mu.Unlock()
}

// prepare создаёт товар и пополняет кошельки покупателей.
func prepare(c caller, cfg config, runID string) (fixture, error) {
	fx := fixture{productID: cfg.productID, funded: decimal.Zero}

	var product views.Product
	err := c.call(operatorIdentity, "CreateProduct", "lt-product-"+runID, &grpcsvc.CreateProductRequest{
		ID:            cfg.productID,
		Name:          "Load test product",
		Price:         cfg.price,
		StockQuantity: cfg.stock,
	}, &product)
	switch {
	case err == nil:
		fx.initialStock = product.StockQuantity
	case grpcCode(err) == codes.AlreadyExists:
		if err := c.call(operatorIdentity, "GetProduct", "", &grpcsvc.GetProductRequest{ProductID: cfg.productID}, &product); err != nil {
			return fx, fmt.Errorf("get existing product: %w", err)
		}
		fx.initialStock = product.StockQuantity
	default:
		return fx, fmt.Errorf("create product: %w", err)
	}

	for i := 0; i < cfg.customers; i++ {
		customer := identity{actorID: fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, i)}
		var account views.Account
		if err := c.call(customer, "OpenAccount", "lt-account-"+customer.actorID, &grpcsvc.AccountRequest{AccountID: customer.actorID}, &account); err != nil {
			return fx, fmt.Errorf("open account %s: %w", customer.actorID, err)
		}
		var topUp wallet.TopUpResult
		if err := c.call(customer, "TopUp", "lt-topup-"+customer.actorID, &grpcsvc.TopUpRequest{AccountID: customer.actorID, Amount: cfg.topUp}, &topUp); err != nil {
			return fx, fmt.Errorf("top up %s: %w", customer.actorID, err)
		}
		fx.customers = append(fx.customers, customer.actorID)
		fx.funded = fx.funded.Add(cfg.topUp)
	}
	return fx, nil
}

// runScenario выполняет один сценарий и возвращает итоговый код.
// ResourceExhausted означает исчерпанный остаток или баланс и ошибкой не считается.
func runScenario(c caller, cfg config, fx fixture, book *ledger, index int, runID string) codes.Code {
	customer := identity{actorID: fx.customers[index%len(fx.customers)]}

	var order views.Order
	err := c.call(customer, "CreateOrder", fmt.Sprintf("lt-order-%s-%d", runID, index), &grpcsvc.CreateOrderRequest{
		Items:           []orders.ItemInput{{ProductID: fx.productID, Quantity: cfg.quantity}},
		ShippingAddress: "Load test street 1",
	}, &order)
	if err != nil {
		return grpcCode(err)
	}
	if order.ID == "" {
		return codes.Internal
	}
	book.reserved(cfg.quantity)

	if cfg.mode == modeOrder {
		return codes.OK
	}

	var payment orders.PaymentResult
	err = c.call(customer, "ProcessPayment", fmt.Sprintf("lt-pay-%s-%d", runID, index), &grpcsvc.OrderRequest{OrderID: order.ID}, &payment)
	if err != nil {
		return grpcCode(err)
	}
	book.paid(payment.Amount)

	if cfg.mode == modeOrderPayCancel || shouldCancelScenario(index, cfg.cancelRate) {
		var cancelled orders.CancelResult
		err = c.call(customer, "CancelOrder", fmt.Sprintf("lt-cancel-%s-%d", runID, index), &grpcsvc.CancelOrderRequest{
			OrderID: order.ID,
			Reason:  "load-cancel",
		}, &cancelled)
		if err != nil {
			return grpcCode(err)
		}
		if cancelled.Status != domain.OrderStatusCancelled {
			return codes.Internal
		}
		book.cancelled(cancelled.RefundAmount)
	}
	return codes.OK
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

// reconcile сверяет остаток товара и сумму балансов с подтверждёнными операциями.
func reconcile(c caller, fx fixture, book *ledger) (ledgerReport, error) {
	var product views.Product
	if err := c.call(operatorIdentity, "GetProduct", "", &grpcsvc.GetProductRequest{ProductID: fx.productID}, &product); err != nil {
		return ledgerReport{}, fmt.Errorf("get product: %w", err)
	}

	balances := decimal.Zero
	for _, customer := range fx.customers {
		var account views.Account
		if err := c.call(identity{actorID: customer}, "GetBalance", "", &grpcsvc.AccountRequest{AccountID: customer}, &account); err != nil {
			return ledgerReport{}, fmt.Errorf("get balance %s: %w", customer, err)
		}
		if account.Balance.IsNegative() {
			return ledgerReport{}, fmt.Errorf("account %s has negative balance %s", customer, account.Balance)
		}
		balances = balances.Add(account.Balance)
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	report := ledgerReport{
		InitialStock:  fx.initialStock,
		FinalStock:    product.StockQuantity,
		ReservedUnits: book.reservedQty,
		Funded:        fx.funded.String(),
		FinalBalances: balances.String(),
		Charged:       book.charged.String(),
		Refunded:      book.refunded.String(),
		PaidOrders:    book.paidOrders,
		Cancelled:     book.cancelOrders,
	}
	report.StockConsistent = product.StockQuantity >= 0 && fx.initialStock-product.StockQuantity == book.reservedQty
	report.MoneyConsistent = fx.funded.Sub(balances).Equal(book.charged.Sub(book.refunded))
	if !report.StockConsistent || !report.MoneyConsistent {
		return report, errors.New("ledger mismatch")
	}
	return report, nil
}
