package grpcsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/views"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
)

const (
	ServiceName = "commerce.v1.Commerce"

	idempotencyKeyHeader = "idempotency-key"
	actorIDHeader        = "x-actor-id"
	actorRoleHeader      = "x-actor-role"
	replayedHeader       = "idempotent-replayed"
	roleOperator         = "operator"

	// Метод для ключа идемпотентности gRPC-вызовов; путь — полное имя метода.
	grpcIdempotencyMethod = "GRPC"
)

// CommerceService реализует gRPC API поверх сервисов ядра.
type CommerceService struct {
	inventory *inventory.Service
	wallet    *wallet.Service
	orders    *orders.Service
	guard     *idempotency.Guard
	logger    *log.Entry
}

// NewCommerceService конструирует сервис с зависимостями.
func NewCommerceService(
	inv *inventory.Service,
	w *wallet.Service,
	o *orders.Service,
	guard *idempotency.Guard,
	logger *log.Entry,
) *CommerceService {
	if logger == nil {
		logger = log.WithField("component", "grpc-commerce")
	}
	return &CommerceService{
		inventory: inv,
		wallet:    w,
		orders:    o,
		guard:     guard,
		logger:    logger,
	}
}

// Register регистрирует сервис на gRPC-сервере.
func Register(server grpc.ServiceRegistrar, svc *CommerceService) {
	server.RegisterService(&ServiceDesc, svc)
}

// FullMethod возвращает полное имя метода для клиентского Invoke.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc описывает сервис вручную: сообщения передаются JSON-кодеком.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateProduct", Handler: mutating("CreateProduct", (*CommerceService).createProduct)},
		{MethodName: "GetProduct", Handler: query("GetProduct", (*CommerceService).getProduct)},
		{MethodName: "ListProducts", Handler: query("ListProducts", (*CommerceService).listProducts)},
		{MethodName: "StockMovements", Handler: query("StockMovements", (*CommerceService).stockMovements)},
		{MethodName: "AddStock", Handler: mutating("AddStock", (*CommerceService).addStock)},
		{MethodName: "Reserve", Handler: mutating("Reserve", (*CommerceService).reserve)},
		{MethodName: "Confirm", Handler: mutating("Confirm", (*CommerceService).confirm)},
		{MethodName: "Release", Handler: mutating("Release", (*CommerceService).release)},
		{MethodName: "SweepExpired", Handler: mutating("SweepExpired", (*CommerceService).sweepExpired)},
		{MethodName: "OpenAccount", Handler: mutating("OpenAccount", (*CommerceService).openAccount)},
		{MethodName: "TopUp", Handler: mutating("TopUp", (*CommerceService).topUp)},
		{MethodName: "GetBalance", Handler: query("GetBalance", (*CommerceService).balance)},
		{MethodName: "ListTopUps", Handler: query("ListTopUps", (*CommerceService).topUps)},
		{MethodName: "CreateOrder", Handler: mutating("CreateOrder", (*CommerceService).createOrder)},
		{MethodName: "GetOrder", Handler: query("GetOrder", (*CommerceService).getOrder)},
		{MethodName: "ListOrders", Handler: query("ListOrders", (*CommerceService).listOrders)},
		{MethodName: "StatusHistory", Handler: query("StatusHistory", (*CommerceService).statusHistory)},
		{MethodName: "ListPayments", Handler: query("ListPayments", (*CommerceService).payments)},
		{MethodName: "ProcessPayment", Handler: mutating("ProcessPayment", (*CommerceService).processPayment)},
		{MethodName: "CancelOrder", Handler: mutating("CancelOrder", (*CommerceService).cancelOrder)},
		{MethodName: "UpdateStatus", Handler: mutating("UpdateStatus", (*CommerceService).updateStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "commerce/v1/commerce.json",
}

type callFunc[Req, Resp any] func(s *CommerceService, ctx context.Context, actor domain.Actor, req *Req) (Resp, error)

func query[Req, Resp any](method string, fn callFunc[Req, Resp]) grpc.MethodHandler {
	return handler(method, false, fn)
}

func mutating[Req, Resp any](method string, fn callFunc[Req, Resp]) grpc.MethodHandler {
	return handler(method, true, fn)
}

func handler[Req, Resp any](method string, idempotent bool, fn callFunc[Req, Resp]) grpc.MethodHandler {
	fullMethod := FullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid request payload")
		}
		s := srv.(*CommerceService)

		call := func(ctx context.Context, r any) (any, error) {
			if !idempotent {
				resp, err := fn(s, ctx, actorFromContext(ctx), r.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			return withIdempotency(s, ctx, fullMethod, r.(*Req), fn)
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
	}
}

// withIdempotency проводит вызов через тот же Guard, что и HTTP API.
func withIdempotency[Req, Resp any](s *CommerceService, ctx context.Context, fullMethod string, req *Req, fn callFunc[Req, Resp]) (any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request payload")
	}

	var result Resp
	out, err := s.guard.Execute(ctx, idempotency.Request{
		Actor:  actorFromContext(ctx),
		Method: grpcIdempotencyMethod,
		Path:   fullMethod,
		Key:    metadataValue(ctx, idempotencyKeyHeader),
		Body:   body,
	}, func(ctx context.Context) (idempotency.Response, error) {
		resp, err := fn(s, ctx, actorFromContext(ctx), req)
		if err != nil {
			return idempotency.Response{}, err
		}
		result = resp
		data, err := json.Marshal(resp)
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{Status: http.StatusOK, Body: data}, nil
	})
	if err != nil {
		return nil, toStatus(err)
	}

	if out.Replayed {
		if err := json.Unmarshal(out.Body, &result); err != nil {
			s.logger.WithError(err).WithField("method", fullMethod).Warn("failed to decode cached idempotency response")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		if err := grpc.SetHeader(ctx, metadata.Pairs(replayedHeader, "true")); err != nil {
			s.logger.WithError(err).Debug("failed to set replay header")
		}
	}
	return result, nil
}

func metadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func actorFromContext(ctx context.Context) domain.Actor {
	return domain.Actor{
		ID:       metadataValue(ctx, actorIDHeader),
		Operator: strings.EqualFold(metadataValue(ctx, actorRoleHeader), roleOperator),
	}
}

func (s *CommerceService) createProduct(ctx context.Context, actor domain.Actor, req *CreateProductRequest) (views.Product, error) {
	product, err := s.inventory.CreateProduct(ctx, actor, inventory.CreateProductInput{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		return views.Product{}, err
	}
	return views.FromProduct(product), nil
}

func (s *CommerceService) getProduct(ctx context.Context, _ domain.Actor, req *GetProductRequest) (views.Product, error) {
	product, err := s.inventory.GetProduct(ctx, req.ProductID)
	if err != nil {
		return views.Product{}, err
	}
	return views.FromProduct(product), nil
}

func (s *CommerceService) listProducts(ctx context.Context, _ domain.Actor, req *ListRequest) ([]views.Product, error) {
	products, err := s.inventory.ListProducts(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return views.FromProducts(products), nil
}

func (s *CommerceService) stockMovements(ctx context.Context, _ domain.Actor, req *StockMovementsRequest) (views.ProductMovements, error) {
	product, movements, err := s.inventory.StockMovements(ctx, req.ProductID, req.Limit)
	if err != nil {
		return views.ProductMovements{}, err
	}
	return views.FromMovements(product, movements), nil
}

func (s *CommerceService) addStock(ctx context.Context, actor domain.Actor, req *AddStockRequest) (inventory.AddStockResult, error) {
	return s.inventory.AddStock(ctx, actor, req.ProductID, req.Quantity, req.Notes)
}

func (s *CommerceService) reserve(ctx context.Context, actor domain.Actor, req *ReserveRequest) (inventory.ReserveResult, error) {
	return s.inventory.Reserve(ctx, actor, req.ProductID, req.Quantity, req.OrderID)
}

func (s *CommerceService) confirm(ctx context.Context, actor domain.Actor, req *ReservationRequest) (inventory.ReservationResult, error) {
	return s.inventory.Confirm(ctx, actor, req.OrderID)
}

func (s *CommerceService) release(ctx context.Context, actor domain.Actor, req *ReservationRequest) (inventory.ReservationResult, error) {
	return s.inventory.Release(ctx, actor, req.OrderID)
}

func (s *CommerceService) sweepExpired(ctx context.Context, actor domain.Actor, _ *SweepExpiredRequest) (SweepExpiredResponse, error) {
	released, err := s.inventory.SweepExpired(ctx, actor)
	if err != nil {
		return SweepExpiredResponse{}, err
	}
	return SweepExpiredResponse{Released: released}, nil
}

func (s *CommerceService) openAccount(ctx context.Context, actor domain.Actor, req *AccountRequest) (views.Account, error) {
	account, err := s.wallet.OpenAccount(ctx, actor, req.AccountID)
	if err != nil {
		return views.Account{}, err
	}
	return views.FromAccount(account), nil
}

func (s *CommerceService) topUp(ctx context.Context, actor domain.Actor, req *TopUpRequest) (wallet.TopUpResult, error) {
	return s.wallet.TopUp(ctx, actor, req.AccountID, req.Amount)
}

func (s *CommerceService) balance(ctx context.Context, actor domain.Actor, req *AccountRequest) (views.Account, error) {
	account, err := s.wallet.Balance(ctx, actor, req.AccountID)
	if err != nil {
		return views.Account{}, err
	}
	return views.FromAccount(account), nil
}

func (s *CommerceService) topUps(ctx context.Context, actor domain.Actor, req *AccountRequest) ([]views.TopUp, error) {
	list, err := s.wallet.TopUps(ctx, actor, req.AccountID)
	if err != nil {
		return nil, err
	}
	return views.FromTopUps(list), nil
}

func (s *CommerceService) createOrder(ctx context.Context, actor domain.Actor, req *CreateOrderRequest) (views.Order, error) {
	order, err := s.orders.CreateOrder(ctx, actor, orders.CreateOrderInput{
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		return views.Order{}, err
	}
	return views.FromOrder(order), nil
}

func (s *CommerceService) getOrder(ctx context.Context, actor domain.Actor, req *OrderRequest) (views.Order, error) {
	order, err := s.orders.GetOrder(ctx, actor, req.OrderID)
	if err != nil {
		return views.Order{}, err
	}
	return views.FromOrder(order), nil
}

func (s *CommerceService) listOrders(ctx context.Context, actor domain.Actor, req *ListRequest) ([]views.Order, error) {
	list, err := s.orders.ListOrders(ctx, actor, req.Limit)
	if err != nil {
		return nil, err
	}
	return views.FromOrders(list), nil
}

func (s *CommerceService) statusHistory(ctx context.Context, actor domain.Actor, req *OrderRequest) ([]views.StatusHistory, error) {
	history, err := s.orders.StatusHistory(ctx, actor, req.OrderID)
	if err != nil {
		return nil, err
	}
	return views.FromHistory(history), nil
}

func (s *CommerceService) payments(ctx context.Context, actor domain.Actor, req *OrderRequest) ([]views.Payment, error) {
	records, err := s.orders.Payments(ctx, actor, req.OrderID)
	if err != nil {
		return nil, err
	}
	return views.FromPayments(records), nil
}

func (s *CommerceService) processPayment(ctx context.Context, actor domain.Actor, req *OrderRequest) (orders.PaymentResult, error) {
	return s.orders.ProcessPayment(ctx, actor, req.OrderID)
}

func (s *CommerceService) cancelOrder(ctx context.Context, actor domain.Actor, req *CancelOrderRequest) (orders.CancelResult, error) {
	return s.orders.CancelOrder(ctx, actor, req.OrderID, req.Reason)
}

func (s *CommerceService) updateStatus(ctx context.Context, actor domain.Actor, req *UpdateStatusRequest) (orders.StatusChange, error) {
	return s.orders.UpdateStatus(ctx, actor, req.OrderID, req.Status, req.Notes)
}
