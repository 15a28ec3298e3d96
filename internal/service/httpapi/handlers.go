package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/views"
)

type createProductRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity"`
}

type addStockRequest struct {
	Quantity int64  `json:"quantity"`
	Notes    string `json:"notes"`
}

type reserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	OrderID   string `json:"order_id"`
}

type openAccountRequest struct {
	AccountID string `json:"account_id"`
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type createOrderRequest struct {
	Items           []orders.ItemInput `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	Notes           string             `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Notes  string             `json:"notes"`
}

type sweepResponse struct {
	Released int `json:"released"`
}

// decode читает JSON-тело; пустое тело допустимо для операций без параметров.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	product, err := h.svc.Inventory.CreateProduct(r.Context(), ActorFrom(r.Context()), inventory.CreateProductInput{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, views.FromProduct(product))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Inventory.ListProducts(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromProducts(products))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.svc.Inventory.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromProduct(product))
}

func (h *Handler) stockMovements(w http.ResponseWriter, r *http.Request) {
	product, movements, err := h.svc.Inventory.StockMovements(r.Context(), chi.URLParam(r, "id"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromMovements(product, movements))
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Inventory.AddStock(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.Quantity, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Inventory.Reserve(r.Context(), ActorFrom(r.Context()), req.ProductID, req.Quantity, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Inventory.Confirm(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Inventory.Release(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) sweepExpired(w http.ResponseWriter, r *http.Request) {
	released, err := h.svc.Inventory.SweepExpired(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Released: released})
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := h.svc.Wallet.OpenAccount(r.Context(), ActorFrom(r.Context()), req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, views.FromAccount(account))
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Wallet.TopUp(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Wallet.Balance(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromAccount(account))
}

func (h *Handler) topUps(w http.ResponseWriter, r *http.Request) {
	topUps, err := h.svc.Wallet.TopUps(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromTopUps(topUps))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.svc.Orders.CreateOrder(r.Context(), ActorFrom(r.Context()), orders.CreateOrderInput{
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, views.FromOrder(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Orders.ListOrders(r.Context(), ActorFrom(r.Context()), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromOrders(list))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.GetOrder(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromOrder(order))
}

func (h *Handler) statusHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.Orders.StatusHistory(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromHistory(history))
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Orders.Payments(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views.FromPayments(records))
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Orders.ProcessPayment(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Orders.CancelOrder(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Orders.UpdateStatus(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
