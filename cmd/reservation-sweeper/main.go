// reservation-sweeper — AWS Lambda по расписанию EventBridge,
// снимающая истёкшие резервы склада в PostgreSQL.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/inventory"
	"github.com/vladislavdragonenkov/commerce/internal/storage/postgres"
)

const (
	envPostgresDSN = "COMMERCE_POSTGRES_DSN"
	sweepTimeout   = 50 * time.Second
)

// sweepResult — ответ Lambda, виден в логах вызова.
type sweepResult struct {
	Released int    `json:"released"`
	Trigger  string `json:"trigger,omitempty"`
}

type handler struct {
	sweeper inventory.Sweeper
	logger  *log.Entry
}

func (h *handler) handle(ctx context.Context, event events.CloudWatchEvent) (sweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	logger := h.logger.WithField("event_id", event.ID)
	released, err := h.sweeper.SweepExpired(ctx, domain.SystemActor)
	if err != nil {
		logger.WithError(err).Error("reservation sweep failed")
		return sweepResult{}, err
	}

	logger.WithField("released", released).Info("reservation sweep finished")
	return sweepResult{Released: released, Trigger: event.DetailType}, nil
}

func newHandler(ctx context.Context, dsn string) (*handler, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New(envPostgresDSN + " is required")
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	logger := log.WithField("component", "reservation-sweeper-lambda")
	// Соединение живёт, пока жив контейнер Lambda.
	return &handler{
		sweeper: inventory.NewService(store.Repositories(), logger),
		logger:  logger,
	}, nil
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.JSONFormatter{})

	h, err := newHandler(context.Background(), os.Getenv(envPostgresDSN))
	if err != nil {
		log.WithError(err).Fatal("failed to init reservation sweeper")
	}
	lambda.Start(h.handle)
}
