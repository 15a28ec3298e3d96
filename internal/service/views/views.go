// Package views описывает JSON-представления сущностей для HTTP и gRPC.
package views

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type StockMovement struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	MovementType string    `json:"movement_type"`
	Quantity     int64     `json:"quantity"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProductMovements — товар вместе с последними движениями.
type ProductMovements struct {
	Product   Product         `json:"product"`
	Movements []StockMovement `json:"movements"`
}

type Account struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type TopUp struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type OrderItem struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int64           `json:"quantity"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ReservationRef string          `json:"reservation_ref"`
}

type Order struct {
	ID              string             `json:"id"`
	CustomerID      string             `json:"customer_id"`
	Status          domain.OrderStatus `json:"status"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	ShippingAddress string             `json:"shipping_address"`
	Notes           string             `json:"notes,omitempty"`
	Items           []OrderItem        `json:"items"`
	Version         int64              `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type StatusHistory struct {
	FromStatus domain.OrderStatus `json:"from_status"`
	ToStatus   domain.OrderStatus `json:"to_status"`
	Notes      string             `json:"notes,omitempty"`
	ActorID    string             `json:"actor_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type Payment struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"order_id"`
	Type          domain.PaymentType   `json:"type"`
	Amount        decimal.Decimal      `json:"amount"`
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func FromProduct(p domain.Product) Product {
	return Product{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func FromProducts(products []domain.Product) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		out = append(out, FromProduct(p))
	}
	return out
}

func FromMovements(product domain.Product, movements []domain.StockMovement) ProductMovements {
	out := ProductMovements{Product: FromProduct(product), Movements: make([]StockMovement, 0, len(movements))}
	for _, m := range movements {
		out.Movements = append(out.Movements, StockMovement{
			ID:           m.ID,
			ProductID:    m.ProductID,
			MovementType: string(m.Type),
			Quantity:     m.Quantity,
			ReferenceID:  m.ReferenceID,
			Notes:        m.Notes,
			ActorID:      m.ActorID,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out
}

func FromAccount(a domain.Account) Account {
	return Account{ID: a.ID, Balance: a.Balance, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func FromTopUps(topUps []domain.TopUp) []TopUp {
	out := make([]TopUp, 0, len(topUps))
	for _, t := range topUps {
		out = append(out, TopUp{ID: t.ID, AccountID: t.AccountID, Amount: t.Amount, CreatedAt: t.CreatedAt})
	}
	return out
}

func FromOrder(o domain.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			Subtotal:       item.Subtotal,
			ReservationRef: item.ReservationRef,
		})
	}
	return Order{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		Items:           items,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func FromOrders(orders []domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

func FromHistory(history []domain.OrderStatusHistory) []StatusHistory {
	out := make([]StatusHistory, 0, len(history))
	for _, h := range history {
		out = append(out, StatusHistory{
			FromStatus: h.FromStatus,
			ToStatus:   h.ToStatus,
			Notes:      h.Notes,
			ActorID:    h.ActorID,
			CreatedAt:  h.CreatedAt,
		})
	}
	return out
}

func FromPayments(records []domain.PaymentRecord) []Payment {
	out := make([]Payment, 0, len(records))
	for _, r := range records {
		out = append(out, Payment{
			ID:            r.ID,
			OrderID:       r.OrderID,
			Type:          r.Type,
			Amount:        r.Amount,
			Status:        r.Status,
			TransactionID: r.TransactionID,
			Notes:         r.Notes,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out
}
