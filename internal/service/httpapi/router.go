package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
)

const defaultRequestTimeout = 15 * time.Second

// Services — ядро, которое оборачивает HTTP API.
type Services struct {
	Inventory *inventory.Service
	Wallet    *wallet.Service
	Orders    *orders.Service
}

// Handler содержит HTTP-обработчики поверх сервисов ядра.
type Handler struct {
	svc    Services
	logger *log.Entry
}

// NewRouter собирает chi-роутер. Все мутирующие маршруты проходят через idempotency guard.
func NewRouter(svc Services, guard *idempotency.Guard, logger *log.Entry) *chi.Mux {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))
	r.Use(withActor)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Get("/{id}/movements", h.stockMovements)
		r.With(idempotent(guard)).Post("/", h.createProduct)
		r.With(idempotent(guard)).Post("/{id}/stock", h.addStock)
	})

	r.Route("/inventory/reservations", func(r chi.Router) {
		r.Use(idempotent(guard))
		r.Post("/", h.reserve)
		r.Post("/sweep", h.sweepExpired)
		r.Post("/{orderID}/confirm", h.confirmReservation)
		r.Post("/{orderID}/release", h.releaseReservation)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/{id}", h.balance)
		r.Get("/{id}/topups", h.topUps)
		r.With(idempotent(guard)).Post("/", h.openAccount)
		r.With(idempotent(guard)).Post("/{id}/topups", h.topUp)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/history", h.statusHistory)
		r.Get("/{id}/payments", h.payments)
		r.With(idempotent(guard)).Post("/", h.createOrder)
		r.With(idempotent(guard)).Post("/{id}/payment", h.processPayment)
		r.With(idempotent(guard)).Post("/{id}/cancel", h.cancelOrder)
		r.With(idempotent(guard)).Post("/{id}/status", h.updateStatus)
	})

	return r
}
