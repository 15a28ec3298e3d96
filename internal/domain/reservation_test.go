package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStockReservation_Validate(t *testing.T) {
	tests := []struct {
		name        string
		reservation *StockReservation
		errCount    int
	}{
		{
			name:        "valid reservation",
			reservation: &StockReservation{OrderID: "order-123", ProductID: "p-1", Quantity: 5},
			errCount:    0,
		},
		{
			name:        "missing order ID",
			reservation: &StockReservation{ProductID: "p-1", Quantity: 5},
			errCount:    1,
		},
		{
			name:        "missing product",
			reservation: &StockReservation{OrderID: "order-123", Quantity: 5},
			errCount:    1,
		},
		{
			name:        "zero quantity",
			reservation: &StockReservation{OrderID: "order-123", ProductID: "p-1"},
			errCount:    1,
		},
		{
			name:        "everything missing",
			reservation: &StockReservation{Quantity: -1},
			errCount:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := tt.reservation.Validate(); len(errs) != tt.errCount {
				t.Fatalf("Validate() errors = %v, want %d", errs, tt.errCount)
			}
		})
	}
}

func TestStockReservation_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r := StockReservation{ExpiresAt: now.Add(DefaultReservationWindow)}

	if r.Expired(now) {
		t.Fatal("fresh reservation must not be expired")
	}
	if r.Expired(r.ExpiresAt) {
		t.Fatal("reservation is still valid exactly at expires_at")
	}
	if !r.Expired(r.ExpiresAt.Add(time.Nanosecond)) {
		t.Fatal("reservation must expire after expires_at")
	}
}

func TestProduct_Validate(t *testing.T) {
	ok := Product{Name: "Mug", Price: decimal.RequireFromString("9.99"), StockQuantity: 3}
	if errs := ok.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}

	bad := Product{Price: decimal.NewFromInt(-1), StockQuantity: -1}
	if errs := bad.Validate(); len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %v", errs)
	}
}

func TestActorAuthorize(t *testing.T) {
	owner := Actor{ID: "u-1"}
	if err := owner.Authorize("u-1"); err != nil {
		t.Fatalf("owner must pass: %v", err)
	}
	if err := owner.Authorize("u-2"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := (Actor{}).Authorize("u-1"); err != ErrActorRequired {
		t.Fatalf("expected ErrActorRequired, got %v", err)
	}
	if err := SystemActor.Authorize("anyone"); err != nil {
		t.Fatalf("operator must pass: %v", err)
	}
	if err := owner.RequireOperator(); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden for non operator, got %v", err)
	}
}

func TestAccountCovers(t *testing.T) {
	acc := Account{Balance: decimal.RequireFromString("50")}
	if acc.Covers(decimal.RequireFromString("100")) {
		t.Fatal("50 must not cover 100")
	}
	if !acc.Covers(decimal.RequireFromString("50.00")) {
		t.Fatal("50 must cover 50.00")
	}
}
