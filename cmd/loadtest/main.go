// Команда loadtest нагружает gRPC API commerce-service конкурентными заказами
// на один товар и сверяет остаток и балансы после прогона.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type loadMode string

const (
	modeOrder          loadMode = "order"
	modeOrderPay       loadMode = "order-pay"
	modeOrderPayCancel loadMode = "order-pay-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	stock       int64
	price       decimal.Decimal
	quantity    int64
	customers   int
	topUp       decimal.Decimal
	customerTag string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg        config
		modeValue  string
		priceValue string
		topUpValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with -duration only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeOrder), "load mode: order | order-pay | order-pay-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for order-pay mode (0..100)")
	fs.StringVar(&cfg.productID, "product-id", "LOAD-SKU", "product under contention")
	fs.Int64Var(&cfg.stock, "stock", 1000, "initial stock when the product is created")
	fs.StringVar(&priceValue, "price", "10.00", "product price")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per order")
	fs.IntVar(&cfg.customers, "customers", 10, "number of customer wallets")
	fs.StringVar(&topUpValue, "topup", "1000.00", "initial top-up per customer wallet")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.price, err = decimal.NewFromString(strings.TrimSpace(priceValue)); err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	if cfg.topUp, err = decimal.NewFromString(strings.TrimSpace(topUpValue)); err != nil {
		return cfg, fmt.Errorf("parse topup: %w", err)
	}

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product-id is required")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.price.IsNegative():
		return cfg, errors.New("price must be >= 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.customers <= 0:
		return cfg, errors.New("customers must be > 0")
	case !cfg.topUp.IsPositive():
		return cfg, errors.New("topup must be > 0")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeOrder, modeOrderPay, modeOrderPayCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// run готовит данные, гоняет сценарии и сверяет итог.
// Ошибка означает сбой подготовки или расхождение сверки; отказы сценариев отражены в отчёте.
func run(cfg config, clients []commerceClient, runID string) (report, error) {
	col := newCollector()
	setup := caller{client: clients[0], timeout: cfg.timeout}

	fx, err := prepare(setup, cfg, runID)
	if err != nil {
		return report{}, fmt.Errorf("prepare fixture: %w", err)
	}

	book := &ledger{charged: decimal.Zero, refunded: decimal.Zero}
	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		c := caller{client: clients[workerID%len(clients)], timeout: cfg.timeout, collector: col}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				start := time.Now()
				code := runScenario(c, cfg, fx, book, index, runID)
				col.record(scenarioMethod, time.Since(start), code)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	summary, err := reconcile(setup, fx, book)
	if summary != (ledgerReport{}) {
		result.Ledger = &summary
	}
	return result, err
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fail("invalid config: %v", err)
	}

	conns, err := dialConnections(cfg.addr, cfg.connections)
	if err != nil {
		fail("failed to create grpc client connection: %v", err)
	}
	defer closeConnections(conns)

	clients := make([]commerceClient, 0, len(conns))
	for _, conn := range conns {
		clients = append(clients, conn)
	}

	runID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
	result, runErr := run(cfg, clients, runID)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("failed to write report: %v", err)
		}
	}
	if runErr != nil {
		fail("load test failed: %v", runErr)
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
