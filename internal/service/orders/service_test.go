package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

var (
	customer = domain.Actor{ID: "cust-1"}
	stranger = domain.Actor{ID: "cust-2"}
	operator = domain.Actor{ID: "op-1", Operator: true}
)

type fixture struct {
	store     *memory.Store
	repos     domain.Repositories
	inventory *inventory.Service
	wallet    *wallet.Service
	orders    *Service
	clock     time.Time
	mu        sync.Mutex
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

// failingAccounts ломает зачисления на счёт, чтобы проверить откат возврата.
type failingAccounts struct {
	domain.AccountRepository
}

func (f failingAccounts) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsPositive() {
		return decimal.Zero, errors.New("ledger unavailable")
	}
	return f.AccountRepository.ApplyDelta(ctx, id, delta)
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()

	ctx := context.Background()
	f := &fixture{store: memory.NewStore(), clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.repos = f.store.Repositories()
	f.inventory = inventory.NewService(f.repos, nil, inventory.WithClock(f.now))
	f.wallet = wallet.NewService(f.repos, nil, nil)
	f.orders = NewService(f.repos, f.inventory, nil, nil)
	f.orders.now = f.now

	for _, p := range []inventory.CreateProductInput{
		{ID: "mug", Name: "Mug", Price: decimal.RequireFromString("12.50"), StockQuantity: 10},
		{ID: "tee", Name: "T-shirt", Price: decimal.RequireFromString("20"), StockQuantity: 3},
	} {
		if _, err := f.inventory.CreateProduct(ctx, operator, p); err != nil {
			t.Fatalf("create product %s: %v", p.ID, err)
		}
	}

	if _, err := f.wallet.OpenAccount(ctx, customer, customer.ID); err != nil {
		t.Fatalf("open account: %v", err)
	}
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		if _, err := f.wallet.TopUp(ctx, customer, customer.ID, amount); err != nil {
			t.Fatalf("top up: %v", err)
		}
	}
	return f
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	product, err := f.inventory.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.StockQuantity
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	account, err := f.wallet.Balance(context.Background(), customer, customer.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return account.Balance
}

func (f *fixture) createOrder(t *testing.T, items ...ItemInput) domain.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), customer, CreateOrderInput{
		Items:           items,
		ShippingAddress: "Main st. 1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2}, ItemInput{ProductID: "tee", Quantity: 1})

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected status %s", order.Status)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("total must come from catalog prices, got %s", order.TotalAmount)
	}
	if len(order.Items) != 2 || order.Items[1].ReservationRef != order.ID+":2" || order.Items[0].ProductName != "Mug" {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if f.stock(t, "mug") != 8 || f.stock(t, "tee") != 2 {
		t.Fatal("every line must be reserved")
	}

	history, err := f.orders.StatusHistory(ctx, customer, order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].FromStatus != "" || history[0].ToStatus != domain.OrderStatusPending || history[0].Notes != "Order created" {
		t.Fatalf("unexpected history %+v", history)
	}

	events := f.store.OutboxMessages()
	if events[len(events)-1].EventType != domain.EventOrderCreated {
		t.Fatalf("expected order.created event, got %s", events[len(events)-1].EventType)
	}
}

// recordingInventory запоминает порядок резервирования строк.
type recordingInventory struct {
	Inventory
	mu       sync.Mutex
	reserved []string
}

func (r *recordingInventory) Reserve(ctx context.Context, actor domain.Actor, productID string, quantity int64, ref string) (inventory.ReserveResult, error) {
	r.mu.Lock()
	r.reserved = append(r.reserved, productID+"@"+ref[strings.LastIndex(ref, ":")+1:])
	r.mu.Unlock()
	return r.Inventory.Reserve(ctx, actor, productID, quantity, ref)
}

func TestCreateOrderReservesInProductOrder(t *testing.T) {
	f := newFixture(t, "0")
	rec := &recordingInventory{Inventory: f.inventory}
	f.orders.inventory = rec

	order := f.createOrder(t, ItemInput{ProductID: "tee", Quantity: 1}, ItemInput{ProductID: "mug", Quantity: 2})

	if got := strings.Join(rec.reserved, ","); got != "mug@2,tee@1" {
		t.Fatalf("lines must be reserved by product id, got %s", got)
	}
	if order.Items[0].ProductID != "tee" || order.Items[0].ReservationRef != order.ID+":1" ||
		order.Items[1].ProductID != "mug" || order.Items[1].ReservationRef != order.ID+":2" {
		t.Fatalf("items must keep client line order, got %+v", order.Items)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("unexpected total %s", order.TotalAmount)
	}
}

func TestCreateOrderRollsBackEarlierReservations(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	_, err := f.orders.CreateOrder(ctx, customer, CreateOrderInput{
		Items:           []ItemInput{{ProductID: "mug", Quantity: 4}, {ProductID: "tee", Quantity: 5}},
		ShippingAddress: "Main st. 1",
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if f.stock(t, "mug") != 10 || f.stock(t, "tee") != 3 {
		t.Fatal("failed order must not keep any reservation")
	}
	orders, _ := f.orders.ListOrders(ctx, customer, 0)
	if len(orders) != 0 {
		t.Fatalf("failed order must not be stored, got %d", len(orders))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	tests := []struct {
		name  string
		actor domain.Actor
		in    CreateOrderInput
		want  error
	}{
		{name: "no items", actor: customer, in: CreateOrderInput{ShippingAddress: "x"}, want: domain.ErrEmptyOrder},
		{name: "no address", actor: customer, in: CreateOrderInput{Items: []ItemInput{{ProductID: "mug", Quantity: 1}}, ShippingAddress: " "}, want: domain.ErrMissingAddress},
		{name: "zero quantity", actor: customer, in: CreateOrderInput{Items: []ItemInput{{ProductID: "mug"}}, ShippingAddress: "x"}, want: domain.ErrQuantityInvalid},
		{name: "unknown product", actor: customer, in: CreateOrderInput{Items: []ItemInput{{ProductID: "nope", Quantity: 1}}, ShippingAddress: "x"}, want: domain.ErrProductNotFound},
		{name: "anonymous", actor: domain.Actor{}, in: CreateOrderInput{Items: []ItemInput{{ProductID: "mug", Quantity: 1}}, ShippingAddress: "x"}, want: domain.ErrActorRequired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.orders.CreateOrder(ctx, tc.actor, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2})

	res, err := f.orders.ProcessPayment(ctx, customer, order.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(75)) || res.OrderStatus != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected payment result %+v", res)
	}

	records, _ := f.orders.Payments(ctx, customer, order.ID)
	if len(records) != 1 || records[0].Status != domain.PaymentStatusCompleted || records[0].TransactionID != "wallet_payment_"+res.PaymentID {
		t.Fatalf("unexpected payment records %+v", records)
	}
	if _, err := f.repos.Reservations.GetByOrder(ctx, order.Items[0].ReservationRef); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("reservation must be confirmed, got %v", err)
	}
	if f.stock(t, "mug") != 8 {
		t.Fatal("confirmed sale must keep stock decremented")
	}

	if _, err := f.orders.ProcessPayment(ctx, customer, order.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second payment must fail with ErrInvalidState, got %v", err)
	}

	history, _ := f.orders.StatusHistory(ctx, customer, order.ID)
	if len(history) != 2 || history[1].ToStatus != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestProcessPaymentInsufficientBalanceChangesNothing(t *testing.T) {
	f := newFixture(t, "50")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "tee", Quantity: 1}, ItemInput{ProductID: "mug", Quantity: 2}, ItemInput{ProductID: "mug", Quantity: 4})
	if !order.TotalAmount.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("unexpected total %s", order.TotalAmount)
	}

	_, err := f.orders.ProcessPayment(ctx, customer, order.ID)
	if !errors.Is(err, domain.ErrInsufficientBalance) || domain.KindOf(err) != domain.KindInsufficientResource {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	if !f.balance(t).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance must stay 50, got %s", f.balance(t))
	}
	stored, _ := f.orders.GetOrder(ctx, customer, order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending, got %s", stored.Status)
	}
	records, _ := f.orders.Payments(ctx, customer, order.ID)
	if len(records) != 0 {
		t.Fatalf("no payment record expected, got %+v", records)
	}
}

func TestProcessPaymentOnlyOwner(t *testing.T) {
	f := newFixture(t, "100")
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 1})

	if _, err := f.orders.ProcessPayment(context.Background(), stranger, order.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.ProcessPayment(context.Background(), operator, order.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("operator must not pay from customer wallet, got %v", err)
	}
}

func TestProcessPaymentFailureRollsBackAndRecordsFailed(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2})

	f.advance(time.Hour)

	_, err := f.orders.ProcessPayment(ctx, customer, order.ID)
	if !errors.Is(err, domain.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}

	if !f.balance(t).Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance must be untouched, got %s", f.balance(t))
	}
	stored, _ := f.orders.GetOrder(ctx, customer, order.ID)
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending, got %s", stored.Status)
	}

	records, _ := f.orders.Payments(ctx, customer, order.ID)
	if len(records) != 1 || records[0].Status != domain.PaymentStatusFailed || records[0].Type != domain.PaymentTypeWallet {
		t.Fatalf("expected one FAILED wallet record, got %+v", records)
	}
	if !strings.Contains(records[0].Notes, "expired") {
		t.Fatalf("failed record must carry the error, got %q", records[0].Notes)
	}
}

func TestConcurrentPaymentsDebitOnce(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orders.ProcessPayment(ctx, customer, order.ID); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one successful payment, got %d", success)
	}
	if !f.balance(t).Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected single debit, balance=%s", f.balance(t))
	}
}

func TestCancelPendingReleasesReservations(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 3}, ItemInput{ProductID: "tee", Quantity: 2})

	// Первую строку снимает sweeper, вторая снимается при отмене.
	if _, err := f.inventory.Release(ctx, operator, order.Items[0].ReservationRef); err != nil {
		t.Fatalf("release: %v", err)
	}

	res, err := f.orders.CancelOrder(ctx, customer, order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Status != domain.OrderStatusCancelled || !res.RefundAmount.IsZero() || res.NewBalance != nil {
		t.Fatalf("unexpected cancel result %+v", res)
	}
	if f.stock(t, "mug") != 10 || f.stock(t, "tee") != 3 {
		t.Fatal("cancel must return reserved stock")
	}

	history, _ := f.orders.StatusHistory(ctx, customer, order.ID)
	last := history[len(history)-1]
	if last.ToStatus != domain.OrderStatusCancelled || last.Notes != "Order cancelled. Reason: changed my mind" {
		t.Fatalf("unexpected history entry %+v", last)
	}

	if _, err := f.orders.CancelOrder(ctx, customer, order.ID, "again"); !errors.Is(err, domain.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestCancelPaidOrderRefundsEverything(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2})

	if _, err := f.orders.ProcessPayment(ctx, customer, order.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, operator, order.ID, domain.OrderStatusShipped, "handed to courier"); err != nil {
		t.Fatalf("ship: %v", err)
	}

	res, err := f.orders.CancelOrder(ctx, operator, order.ID, "lost parcel")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.RefundAmount.Equal(order.TotalAmount) {
		t.Fatalf("refund must equal paid amount, got %s", res.RefundAmount)
	}
	if res.NewBalance == nil || !res.NewBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("result must carry balance after refund, got %v", res.NewBalance)
	}
	if !f.balance(t).Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance must be restored, got %s", f.balance(t))
	}

	records, _ := f.orders.Payments(ctx, customer, order.ID)
	if len(records) != 2 || records[1].Type != domain.PaymentTypeRefund || records[1].Status != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected records %+v", records)
	}
	if !strings.HasPrefix(records[1].TransactionID, "wallet_refund_") {
		t.Fatalf("unexpected refund transaction id %q", records[1].TransactionID)
	}
	if !domain.PaidAmount(records).IsZero() {
		t.Fatalf("nothing must remain refundable, got %s", domain.PaidAmount(records))
	}
}

func TestCancelRefundFailureRollsBack(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 2})
	if _, err := f.orders.ProcessPayment(ctx, customer, order.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}

	repos := f.repos
	repos.Accounts = failingAccounts{AccountRepository: f.repos.Accounts}
	broken := NewService(repos, f.inventory, nil, nil)

	_, err := broken.CancelOrder(ctx, customer, order.ID, "broken ledger")
	if err == nil || !strings.Contains(err.Error(), "refund failed") {
		t.Fatalf("expected refund failure, got %v", err)
	}

	stored, _ := f.orders.GetOrder(ctx, customer, order.ID)
	if stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("order must keep its status, got %s", stored.Status)
	}
	if !f.balance(t).Equal(decimal.NewFromInt(75)) {
		t.Fatalf("balance must be unchanged, got %s", f.balance(t))
	}

	records, _ := f.orders.Payments(ctx, customer, order.ID)
	if len(records) != 2 || records[1].Type != domain.PaymentTypeRefund || records[1].Status != domain.PaymentStatusFailed {
		t.Fatalf("expected FAILED refund record, got %+v", records)
	}
	if !domain.PaidAmount(records).Equal(order.TotalAmount) {
		t.Fatal("failed refund must not count against paid amount")
	}
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t, "0")
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 1})

	if _, err := f.orders.CancelOrder(context.Background(), stranger, order.ID, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.CancelOrder(context.Background(), operator, order.ID, "fraud"); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 1})

	if _, err := f.orders.UpdateStatus(ctx, customer, order.ID, domain.OrderStatusShipped, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, operator, order.ID, "LOST", ""); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, operator, order.ID, domain.OrderStatusPending, ""); !errors.Is(err, domain.ErrNoStatusChange) {
		t.Fatalf("expected ErrNoStatusChange, got %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, operator, "missing", domain.OrderStatusShipped, ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	res, err := f.orders.UpdateStatus(ctx, operator, order.ID, "processing", "picked")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.OldStatus != domain.OrderStatusPending || res.NewStatus != domain.OrderStatusProcessing {
		t.Fatalf("unexpected result %+v", res)
	}

	history, _ := f.orders.StatusHistory(ctx, operator, order.ID)
	last := history[len(history)-1]
	if last.ActorID != operator.ID || last.Notes != "picked" {
		t.Fatalf("unexpected history entry %+v", last)
	}
	events := f.store.OutboxMessages()
	if events[len(events)-1].EventType != domain.EventOrderStatusChanged {
		t.Fatalf("expected status_changed event, got %s", events[len(events)-1].EventType)
	}
}

func TestReadsRespectOwnership(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: 1})

	if _, err := f.orders.GetOrder(ctx, stranger, order.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.StatusHistory(ctx, stranger, order.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.orders.GetOrder(ctx, operator, order.ID); err != nil {
		t.Fatalf("operator read: %v", err)
	}

	list, err := f.orders.ListOrders(ctx, stranger, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("stranger must see no orders: %v %d", err, len(list))
	}
	list, _ = f.orders.ListOrders(ctx, customer, 0)
	if len(list) != 1 {
		t.Fatalf("owner must see own order, got %d", len(list))
	}
}

func TestPaidAmountNeverExceedsTotal(t *testing.T) {
	f := newFixture(t, "500")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		order := f.createOrder(t, ItemInput{ProductID: "mug", Quantity: int64(i + 1)})
		if _, err := f.orders.ProcessPayment(ctx, customer, order.ID); err != nil {
			t.Fatalf("pay %d: %v", i, err)
		}
		if i%2 == 0 {
			if _, err := f.orders.CancelOrder(ctx, customer, order.ID, fmt.Sprintf("r%d", i)); err != nil {
				t.Fatalf("cancel %d: %v", i, err)
			}
		}
		records, _ := f.orders.Payments(ctx, customer, order.ID)
		if domain.PaidAmount(records).GreaterThan(order.TotalAmount) {
			t.Fatalf("order %d: paid amount exceeds total", i)
		}
	}

	// 500 - 12.5*2 (второй заказ не отменён)
	if !f.balance(t).Equal(decimal.NewFromInt(475)) {
		t.Fatalf("unexpected balance %s", f.balance(t))
	}
}
