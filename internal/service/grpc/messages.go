package grpcsvc

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
)

// Сообщения запросов. Ответы — views.* и результаты сервисов ядра.

type CreateProductRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity"`
}

type GetProductRequest struct {
	ProductID string `json:"product_id"`
}

type ListRequest struct {
	Limit int `json:"limit,omitempty"`
}

type StockMovementsRequest struct {
	ProductID string `json:"product_id"`
	Limit     int    `json:"limit,omitempty"`
}

type AddStockRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

type ReserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	OrderID   string `json:"order_id"`
}

type ReservationRequest struct {
	OrderID string `json:"order_id"`
}

type SweepExpiredRequest struct{}

type SweepExpiredResponse struct {
	Released int `json:"released"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type TopUpRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type CreateOrderRequest struct {
	Items           []orders.ItemInput `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	Notes           string             `json:"notes,omitempty"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Notes   string             `json:"notes,omitempty"`
}
