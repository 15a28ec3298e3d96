package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

var operator = domain.Actor{ID: "op-1", Operator: true}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, stock int64) (*Service, *memory.Store, *testClock) {
	t.Helper()

	store := memory.NewStore()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store.Repositories(), nil, WithClock(clock.Now), WithSweepBatchSize(2))

	if _, err := svc.CreateProduct(context.Background(), operator, CreateProductInput{
		ID:            "p-1",
		Name:          "Mug",
		Price:         decimal.RequireFromString("12.50"),
		StockQuantity: stock,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return svc, store, clock
}

func stockOf(t *testing.T, svc *Service) int64 {
	t.Helper()
	product, err := svc.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.StockQuantity
}

func TestReserveThenConfirm(t *testing.T) {
	svc, store, _ := newTestService(t, 10)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 5, "o-1:1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.RemainingStock != 5 || res.ReservedQuantity != 5 || res.ReservationID == "" {
		t.Fatalf("unexpected reserve result %+v", res)
	}
	if !res.ExpiresAt.Equal(time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expires_at %s", res.ExpiresAt)
	}

	confirmed, err := svc.Confirm(ctx, domain.Actor{}, "o-1:1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Quantity != 5 || confirmed.StockQuantity != 5 {
		t.Fatalf("unexpected confirm result %+v", confirmed)
	}
	if got := stockOf(t, svc); got != 5 {
		t.Fatalf("confirm must not restore stock, got %d", got)
	}

	if _, err := store.Repositories().Reservations.GetByOrder(ctx, "o-1:1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("reservation must be deleted after confirm, got %v", err)
	}

	_, movements, err := svc.StockMovements(ctx, "p-1", 0)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected IN, RESERVED, OUT movements, got %d", len(movements))
	}
	if movements[0].Type != domain.MovementOut || movements[1].Type != domain.MovementReserved || movements[2].Type != domain.MovementIn {
		t.Fatalf("unexpected movement order %v %v %v", movements[0].Type, movements[1].Type, movements[2].Type)
	}
	if movements[1].ReferenceID != "o-1:1" || movements[1].Notes != "Reserved for order o-1:1" {
		t.Fatalf("unexpected reserved movement %+v", movements[1])
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 5, "o-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 8, "o-2")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if domain.KindOf(err) != domain.KindInsufficientResource {
		t.Fatalf("unexpected kind %q", domain.KindOf(err))
	}
	if got := stockOf(t, svc); got != 5 {
		t.Fatalf("stock must stay 5, got %d", got)
	}
}

func TestReserveValidation(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		quantity  int64
		orderID   string
		want      error
	}{
		{name: "zero quantity", productID: "p-1", quantity: 0, orderID: "o-1", want: domain.ErrQuantityInvalid},
		{name: "negative quantity", productID: "p-1", quantity: -1, orderID: "o-1", want: domain.ErrQuantityInvalid},
		{name: "blank order", productID: "p-1", quantity: 1, orderID: "  ", want: domain.ErrOrderIDRequired},
		{name: "unknown product", productID: "p-404", quantity: 1, orderID: "o-1", want: domain.ErrProductNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, domain.Actor{}, tc.productID, tc.quantity, tc.orderID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if got := stockOf(t, svc); got != 10 {
		t.Fatalf("failed reserves must not touch stock, got %d", got)
	}
}

func TestReserveDuplicateRollsBackDecrement(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 2, "o-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 3, "o-1")
	if !errors.Is(err, domain.ErrDuplicateReservation) {
		t.Fatalf("expected ErrDuplicateReservation, got %v", err)
	}
	if got := stockOf(t, svc); got != 8 {
		t.Fatalf("duplicate reserve must be rolled back, stock=%d", got)
	}

	_, movements, _ := svc.StockMovements(ctx, "p-1", 0)
	reserved := 0
	for _, m := range movements {
		if m.Type == domain.MovementReserved {
			reserved++
		}
	}
	if reserved != 1 {
		t.Fatalf("expected exactly one RESERVED movement, got %d", reserved)
	}
}

func TestRelease(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 4, "o-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	res, err := svc.Release(ctx, domain.Actor{}, "o-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.StockQuantity != 10 || res.Quantity != 4 {
		t.Fatalf("unexpected release result %+v", res)
	}

	if _, err := svc.Release(ctx, domain.Actor{}, "o-1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("second release must fail with not found, got %v", err)
	}
	if _, err := svc.Confirm(ctx, domain.Actor{}, "o-1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("confirm after release must fail with not found, got %v", err)
	}
}

func TestConfirmExpiredKeepsReservationForSweeper(t *testing.T) {
	svc, store, clock := newTestService(t, 10)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 3, "o-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock.Advance(31 * time.Minute)

	_, err := svc.Confirm(ctx, domain.Actor{}, "o-1")
	if !errors.Is(err, domain.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	if _, err := store.Repositories().Reservations.GetByOrder(ctx, "o-1"); err != nil {
		t.Fatalf("expired reservation must stay until sweep: %v", err)
	}

	released, err := svc.SweepExpired(ctx, operator)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}
	if got := stockOf(t, svc); got != 10 {
		t.Fatalf("sweep must restore stock, got %d", got)
	}

	_, movements, _ := svc.StockMovements(ctx, "p-1", 1)
	if movements[0].Type != domain.MovementReleased || movements[0].Notes != "Auto-released expired reservation for order o-1" {
		t.Fatalf("unexpected sweep movement %+v", movements[0])
	}
}

func TestSweepExpiredBatchesAndSkipsLive(t *testing.T) {
	svc, _, clock := newTestService(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 2, fmt.Sprintf("old-%d", i)); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	clock.Advance(40 * time.Minute)
	if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 2, "fresh"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	released, err := svc.SweepExpired(ctx, operator)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 5 {
		t.Fatalf("expected 5 released, got %d", released)
	}
	if got := stockOf(t, svc); got != 98 {
		t.Fatalf("only the live reservation must hold stock, got %d", got)
	}
}

func TestSweepExpiredRequiresOperator(t *testing.T) {
	svc, _, _ := newTestService(t, 10)

	if _, err := svc.SweepExpired(context.Background(), domain.Actor{ID: "c-1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SweepExpired(context.Background(), domain.Actor{}); !errors.Is(err, domain.ErrActorRequired) {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
}

func TestAddStock(t *testing.T) {
	svc, store, _ := newTestService(t, 1)
	ctx := context.Background()

	if _, err := svc.AddStock(ctx, domain.Actor{ID: "c-1"}, "p-1", 5, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.AddStock(ctx, operator, "p-1", 0, ""); !errors.Is(err, domain.ErrQuantityInvalid) {
		t.Fatalf("expected ErrQuantityInvalid, got %v", err)
	}
	if _, err := svc.AddStock(ctx, operator, "p-404", 1, ""); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	res, err := svc.AddStock(ctx, operator, "p-1", 5, "supplier delivery")
	if err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if res.NewStockQuantity != 6 || res.AddedQuantity != 5 {
		t.Fatalf("unexpected result %+v", res)
	}

	events := store.OutboxMessages()
	if len(events) != 1 || events[0].EventType != domain.EventStockAdded {
		t.Fatalf("expected one stock_added event, got %+v", events)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(memory.NewStore().Repositories(), nil)
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, domain.Actor{ID: "c-1"}, CreateProductInput{Name: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, operator, CreateProductInput{Name: " "}); !errors.Is(err, domain.ErrProductNameRequired) {
		t.Fatalf("expected ErrProductNameRequired, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, operator, CreateProductInput{Name: "x", Price: decimal.NewFromInt(-1)}); !errors.Is(err, domain.ErrPriceInvalid) {
		t.Fatalf("expected ErrPriceInvalid, got %v", err)
	}

	product, err := svc.CreateProduct(ctx, operator, CreateProductInput{Name: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if product.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		success int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(ctx, domain.Actor{}, "p-1", 3, fmt.Sprintf("o-%d", i))
			switch {
			case err == nil:
				atomic.AddInt32(&success, 1)
			case !errors.Is(err, domain.ErrInsufficientStock):
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 3 {
		t.Fatalf("expected 3 successful reserves, got %d", success)
	}
	if got := stockOf(t, svc); got != 1 {
		t.Fatalf("expected stock 1, got %d", got)
	}
}

func TestReservationConservation(t *testing.T) {
	svc, store, clock := newTestService(t, 50)
	ctx := context.Background()
	repos := store.Repositories()

	for i := 0; i < 8; i++ {
		if _, err := svc.Reserve(ctx, domain.Actor{}, "p-1", int64(i+1), fmt.Sprintf("o-%d", i)); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	for _, id := range []string{"o-0", "o-3"} {
		if _, err := svc.Confirm(ctx, domain.Actor{}, id); err != nil {
			t.Fatalf("confirm %s: %v", id, err)
		}
	}
	for _, id := range []string{"o-1", "o-5"} {
		if _, err := svc.Release(ctx, domain.Actor{}, id); err != nil {
			t.Fatalf("release %s: %v", id, err)
		}
	}
	if _, err := svc.AddStock(ctx, operator, "p-1", 7, ""); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := svc.SweepExpired(ctx, operator); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	movements, err := repos.Movements.ListByProduct(ctx, "p-1", 0)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}

	var in, out, active int64
	for _, m := range movements {
		switch m.Type {
		case domain.MovementIn:
			in += m.Quantity
		case domain.MovementOut:
			out += m.Quantity
		}
	}
	for i := 0; i < 8; i++ {
		if r, err := repos.Reservations.GetByOrder(ctx, fmt.Sprintf("o-%d", i)); err == nil {
			active += r.Quantity
		}
	}

	// Доступный остаток + активные резервы + продано = всё поступившее.
	if got := stockOf(t, svc) + active + out; got != in {
		t.Fatalf("conservation broken: stock+active+out=%d, in=%d", got, in)
	}
}
