package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/httpapi"
	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/outbox"
	"github.com/vladislavdragonenkov/commerce/internal/service/views"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

type request struct {
	method   string
	path     string
	actor    string
	operator bool
	key      string
	body     any
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// OrderLifecycleTestSuite прогоняет жизненный цикл заказа через HTTP API на in-memory хранилище.
type OrderLifecycleTestSuite struct {
	suite.Suite
	server    *httptest.Server
	worker    *outbox.Worker
	publisher *recordingPublisher
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	repos := memory.NewStore().Repositories()
	inv := inventory.NewService(repos, logger)
	services := httpapi.Services{
		Inventory: inv,
		Wallet:    wallet.NewService(repos, logger, nil),
		Orders:    orders.NewService(repos, inv, logger, nil),
	}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger))

	s.server = httptest.NewServer(httpapi.NewRouter(services, guard, logger))
	s.publisher = &recordingPublisher{}
	s.worker = outbox.NewWorker(repos.Outbox, s.publisher, outbox.WithLogger(logger))

	s.seed()
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *OrderLifecycleTestSuite) do(req request, out any) (int, http.Header) {
	var body bytes.Buffer
	if req.body != nil {
		s.Require().NoError(json.NewEncoder(&body).Encode(req.body))
	}
	httpReq, err := http.NewRequest(req.method, s.server.URL+req.path, &body)
	s.Require().NoError(err)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.actor != "" {
		httpReq.Header.Set(httpapi.HeaderActorID, req.actor)
	}
	if req.operator {
		httpReq.Header.Set(httpapi.HeaderActorRole, "operator")
	}
	if req.key != "" {
		httpReq.Header.Set(httpapi.HeaderIdempotencyKey, req.key)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	s.Require().NoError(err)
	defer resp.Body.Close()

	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode, resp.Header
}

func (s *OrderLifecycleTestSuite) expectError(req request, status int, code string) {
	var body errorResponse
	got, _ := s.do(req, &body)
	s.Require().Equal(status, got, "unexpected status for %s %s", req.method, req.path)
	s.Require().Equal(code, body.Error.Code)
}

func (s *OrderLifecycleTestSuite) seed() {
	var product views.Product
	status, _ := s.do(request{
		method: http.MethodPost, path: "/products", actor: "ops", operator: true, key: "seed-laptop",
		body: map[string]any{"id": "laptop", "name": "Laptop", "price": "15.00", "stock_quantity": 10},
	}, &product)
	s.Require().Equal(http.StatusCreated, status)

	var account views.Account
	status, _ = s.do(request{
		method: http.MethodPost, path: "/accounts", actor: "alice", key: "seed-alice",
		body: map[string]any{"account_id": "alice"},
	}, &account)
	s.Require().Equal(http.StatusCreated, status)

	var topUp wallet.TopUpResult
	status, _ = s.do(request{
		method: http.MethodPost, path: "/accounts/alice/topups", actor: "alice", key: "seed-topup",
		body: map[string]any{"amount": "100.00"},
	}, &topUp)
	s.Require().Equal(http.StatusOK, status)
	s.Require().True(topUp.Balance.Equal(decimal.NewFromInt(100)))
}

func (s *OrderLifecycleTestSuite) createOrder(key string, quantity int64) views.Order {
	var order views.Order
	status, _ := s.do(request{
		method: http.MethodPost, path: "/orders", actor: "alice", key: key,
		body: map[string]any{
			"items":            []map[string]any{{"product_id": "laptop", "quantity": quantity}},
			"shipping_address": "Lenina 1",
		},
	}, &order)
	s.Require().Equal(http.StatusCreated, status)
	return order
}

func (s *OrderLifecycleTestSuite) pay(orderID, key string) orders.PaymentResult {
	var payment orders.PaymentResult
	status, _ := s.do(request{method: http.MethodPost, path: "/orders/" + orderID + "/payment", actor: "alice", key: key}, &payment)
	s.Require().Equal(http.StatusOK, status)
	return payment
}

func (s *OrderLifecycleTestSuite) stock() int64 {
	var product views.Product
	status, _ := s.do(request{method: http.MethodGet, path: "/products/laptop"}, &product)
	s.Require().Equal(http.StatusOK, status)
	return product.StockQuantity
}

func (s *OrderLifecycleTestSuite) balance() decimal.Decimal {
	var account views.Account
	status, _ := s.do(request{method: http.MethodGet, path: "/accounts/alice", actor: "alice"}, &account)
	s.Require().Equal(http.StatusOK, status)
	return account.Balance
}

func (s *OrderLifecycleTestSuite) TestPaidOrderIsDelivered() {
	order := s.createOrder("order-1", 2)
	s.Require().Equal(domain.OrderStatusPending, order.Status)
	s.Require().True(order.TotalAmount.Equal(decimal.NewFromInt(30)), "total %s", order.TotalAmount)
	s.Require().Equal(int64(8), s.stock())

	payment := s.pay(order.ID, "pay-1")
	s.Require().Equal(domain.OrderStatusConfirmed, payment.OrderStatus)
	s.Require().True(payment.NewBalance.Equal(decimal.NewFromInt(70)))

	for i, next := range []string{"processing", "shipped", "delivered"} {
		var change orders.StatusChange
		status, _ := s.do(request{
			method: http.MethodPost, path: "/orders/" + order.ID + "/status", actor: "ops", operator: true,
			key: "status-" + next, body: map[string]any{"status": next},
		}, &change)
		s.Require().Equal(http.StatusOK, status, "step %d", i)
	}

	var got views.Order
	status, _ := s.do(request{method: http.MethodGet, path: "/orders/" + order.ID, actor: "alice"}, &got)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(domain.OrderStatusDelivered, got.Status)

	var history []views.StatusHistory
	s.do(request{method: http.MethodGet, path: "/orders/" + order.ID + "/history", actor: "alice"}, &history)
	s.Require().Len(history, 5)

	var payments []views.Payment
	s.do(request{method: http.MethodGet, path: "/orders/" + order.ID + "/payments", actor: "alice"}, &payments)
	s.Require().Len(payments, 1)

	s.worker.ProcessOnce(context.Background())
	types := s.publisher.eventTypes()
	s.Require().Contains(types, domain.EventWalletToppedUp)
	s.Require().Contains(types, domain.EventOrderCreated)
	s.Require().Contains(types, domain.EventOrderConfirmed)
	s.Require().Contains(types, domain.EventOrderStatusChanged)
}

func (s *OrderLifecycleTestSuite) TestCancelPaidOrderRefundsWallet() {
	order := s.createOrder("order-refund", 2)
	s.pay(order.ID, "pay-refund")
	s.Require().True(s.balance().Equal(decimal.NewFromInt(70)))

	var cancelled orders.CancelResult
	status, _ := s.do(request{
		method: http.MethodPost, path: "/orders/" + order.ID + "/cancel", actor: "alice", key: "cancel-refund",
		body: map[string]any{"reason": "changed my mind"},
	}, &cancelled)
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Require().True(cancelled.RefundAmount.Equal(decimal.NewFromInt(30)))
	s.Require().NotNil(cancelled.NewBalance)
	s.Require().True(cancelled.NewBalance.Equal(decimal.NewFromInt(100)))
	s.Require().True(s.balance().Equal(decimal.NewFromInt(100)))

	s.expectError(request{
		method: http.MethodPost, path: "/orders/" + order.ID + "/cancel", actor: "alice", key: "cancel-again",
	}, http.StatusConflict, "terminal_state")
}

func (s *OrderLifecycleTestSuite) TestCancelPendingOrderReleasesStock() {
	order := s.createOrder("order-release", 3)
	s.Require().Equal(int64(7), s.stock())

	var cancelled orders.CancelResult
	status, _ := s.do(request{
		method: http.MethodPost, path: "/orders/" + order.ID + "/cancel", actor: "alice", key: "cancel-release",
	}, &cancelled)
	s.Require().Equal(http.StatusOK, status)
	s.Require().True(cancelled.RefundAmount.IsZero())
	s.Require().Nil(cancelled.NewBalance)
	s.Require().Equal(int64(10), s.stock())
	s.Require().True(s.balance().Equal(decimal.NewFromInt(100)))
}

func (s *OrderLifecycleTestSuite) TestRejectionsKeepStateIntact() {
	s.expectError(request{
		method: http.MethodPost, path: "/orders", actor: "alice", key: "oversell",
		body: map[string]any{
			"items":            []map[string]any{{"product_id": "laptop", "quantity": 11}},
			"shipping_address": "Lenina 1",
		},
	}, http.StatusUnprocessableEntity, "insufficient_stock")
	s.Require().Equal(int64(10), s.stock())

	order := s.createOrder("order-expensive", 7)
	s.expectError(request{
		method: http.MethodPost, path: "/orders/" + order.ID + "/payment", actor: "alice", key: "pay-expensive",
	}, http.StatusUnprocessableEntity, "insufficient_balance")
	s.Require().True(s.balance().Equal(decimal.NewFromInt(100)))

	s.expectError(request{
		method: http.MethodGet, path: "/orders/" + order.ID, actor: "bob",
	}, http.StatusForbidden, "forbidden")
}

func (s *OrderLifecycleTestSuite) TestIdempotentReplayAndKeyReuse() {
	req := request{
		method: http.MethodPost, path: "/accounts/alice/topups", actor: "alice", key: "topup-twice",
		body: map[string]any{"amount": "5.00"},
	}

	var first, second wallet.TopUpResult
	_, header := s.do(req, &first)
	s.Require().Empty(header.Get(httpapi.HeaderReplayed))
	_, header = s.do(req, &second)
	s.Require().Equal("true", header.Get(httpapi.HeaderReplayed))
	s.Require().Equal(first.TopUpID, second.TopUpID)
	s.Require().True(s.balance().Equal(decimal.NewFromInt(105)))

	req.body = map[string]any{"amount": "6.00"}
	s.expectError(req, http.StatusConflict, "idempotency_key_reused")

	req.key = ""
	s.expectError(req, http.StatusBadRequest, "missing_idempotency_key")
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
