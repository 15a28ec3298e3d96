package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/commerce/internal/health"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/commerce/internal/service/grpc"
	"github.com/vladislavdragonenkov/commerce/internal/service/httpapi"
	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/service/orders"
	"github.com/vladislavdragonenkov/commerce/internal/service/outbox"
	"github.com/vladislavdragonenkov/commerce/internal/service/wallet"
	"github.com/vladislavdragonenkov/commerce/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, gRPC API, сервер метрик и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.Info(version.String())

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	publishers, err := initOutboxPublishers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publishers.close()

	commerceMetrics := metrics.NewCommerceMetrics()
	services := newServices(deps.repos, cfg, commerceMetrics)
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithWaitTimeout(cfg.IdempotencyWaitTimeout),
		idempotency.WithMetrics(commerceMetrics),
		idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
	)

	breaker := outbox.NewCircuitBreaker(cfg.OutboxBreakerFailures, cfg.OutboxBreakerResetTime, logger.WithField("layer", "outbox-breaker"))
	healthHandler := newHealthHandler(deps, breaker)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	workers := startWorkers(workersCtx, cfg, deps, publishers, breaker, commerceMetrics, services.Inventory, logger)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(services, guard, logger.WithField("layer", "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := newGRPCServer(services, guard, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(httpSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	// Воркеры останавливаются последними.
	stopWorkers()
	workers.Wait()
	return runErr
}

func newServices(repos domain.Repositories, cfg Config, m *metrics.CommerceMetrics) httpapi.Services {
	inv := inventory.NewService(repos, log.WithField("component", "inventory"),
		inventory.WithMetrics(m),
		inventory.WithReservationWindow(cfg.ReservationWindow),
		inventory.WithSweepBatchSize(cfg.ReservationSweepBatch),
	)
	return httpapi.Services{
		Inventory: inv,
		Wallet:    wallet.NewService(repos, log.WithField("component", "wallet"), m),
		Orders:    orders.NewService(repos, inv, log.WithField("component", "orders"), m),
	}
}

func newHealthHandler(deps *runtimeDependencies, breaker *outbox.CircuitBreaker) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("storage", deps.storageChecker)
	if deps.idempotencyChecker != deps.storageChecker {
		handler.RegisterChecker("idempotency", deps.idempotencyChecker)
	}
	handler.RegisterOptional("outbox", healthcheck.NewStateChecker("outbox", func() (healthcheck.Status, string) {
		switch state := breaker.State(); state {
		case outbox.CircuitClosed:
			return healthcheck.StatusHealthy, ""
		case outbox.CircuitHalfOpen:
			return healthcheck.StatusDegraded, "circuit " + state.String()
		default:
			return healthcheck.StatusUnhealthy, "circuit " + state.String()
		}
	}))
	return handler
}

// startWorkers запускает outbox worker, очистку idempotency-ключей и снятие истёкших резервов.
func startWorkers(
	ctx context.Context,
	cfg Config,
	deps *runtimeDependencies,
	publishers *outboxPublishers,
	breaker *outbox.CircuitBreaker,
	commerceMetrics *metrics.CommerceMetrics,
	sweeper inventory.Sweeper,
	logger *log.Entry,
) *sync.WaitGroup {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	outboxOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(commerceMetrics),
		outbox.WithCircuitBreaker(breaker),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if publishers.dlq != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(publishers.dlq))
	}
	run(outbox.NewWorker(deps.repos.Outbox, publishers.main, outboxOptions...).Run)

	if !deps.idempotencyExpires {
		run(idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
			idempotency.WithCleanupMetrics(commerceMetrics),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		).Run)
	}

	run(inventory.NewSweepWorker(sweeper, cfg.ReservationSweepInterval, logger.WithField("layer", "reservation-sweeper"), commerceMetrics).Run)
	return &wg
}

// newGRPCServer собирает gRPC сервер с метриками, health и reflection.
func newGRPCServer(services httpapi.Services, guard *idempotency.Guard, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.Register(server, grpcsvc.NewCommerceService(
		services.Inventory,
		services.Wallet,
		services.Orders,
		guard,
		logger.WithField("layer", "grpc"),
	))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает /metrics, /healthz, /readyz и /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
