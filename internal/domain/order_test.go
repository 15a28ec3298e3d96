package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:              "order-1",
		CustomerID:      "customer-1",
		Status:          domain.OrderStatusPending,
		TotalAmount:     decimal.RequireFromString("50.00"),
		ShippingAddress: "Main st. 1",
		Items: []domain.OrderItem{
			{
				ID:             "item-1",
				OrderID:        "order-1",
				ProductID:      "product-1",
				ProductName:    "Mug",
				UnitPrice:      decimal.RequireFromString("10.00"),
				Quantity:       5,
				Subtotal:       decimal.RequireFromString("50.00"),
				ReservationRef: domain.ReservationRef("order-1", 1),
			},
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
		},
		{
			name: "no address",
			mut: func(o *domain.Order) {
				o.ShippingAddress = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].UnitPrice = decimal.NewFromInt(-5)
			},
		},
		{
			name: "amount mismatch",
			mut: func(o *domain.Order) {
				o.TotalAmount = decimal.NewFromInt(999)
			},
		},
		{
			name: "unknown status",
			mut: func(o *domain.Order) {
				o.Status = "LOST"
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			order.Items = append([]domain.OrderItem(nil), order.Items...)
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderStatusClassification(t *testing.T) {
	cases := []struct {
		status   domain.OrderStatus
		terminal bool
		paid     bool
	}{
		{domain.OrderStatusPending, false, false},
		{domain.OrderStatusConfirmed, false, true},
		{domain.OrderStatusProcessing, false, true},
		{domain.OrderStatusShipped, false, true},
		{domain.OrderStatusDelivered, true, false},
		{domain.OrderStatusCancelled, true, false},
		{domain.OrderStatusRefunded, true, false},
	}

	for _, tc := range cases {
		if !tc.status.Valid() {
			t.Fatalf("status %s must be valid", tc.status)
		}
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Fatalf("%s terminal=%v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.IsPaid(); got != tc.paid {
			t.Fatalf("%s paid=%v, want %v", tc.status, got, tc.paid)
		}
	}
	if domain.OrderStatus("pending").Valid() {
		t.Fatal("lowercase status must be rejected")
	}
}

func TestReservationRef(t *testing.T) {
	if got := domain.ReservationRef("abc", 2); got != "abc:2" {
		t.Fatalf("unexpected reservation ref %q", got)
	}
}
