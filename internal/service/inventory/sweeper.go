package inventory

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
)

const defaultSweepInterval = time.Minute

// Sweeper — то, что умеет снимать истёкшие резервы.
type Sweeper interface {
	SweepExpired(ctx context.Context, actor domain.Actor) (int, error)
}

// SweepWorker периодически снимает истёкшие резервы от имени системного оператора.
type SweepWorker struct {
	sweeper  Sweeper
	logger   *log.Entry
	metrics  *metrics.CommerceMetrics
	interval time.Duration
}

// NewSweepWorker создает воркер. interval <= 0 означает значение по умолчанию.
func NewSweepWorker(sweeper Sweeper, interval time.Duration, logger *log.Entry, m *metrics.CommerceMetrics) *SweepWorker {
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepWorker{
		sweeper:  sweeper,
		logger:   logger,
		metrics:  m,
		interval: interval,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.sweeper == nil {
		w.logger.Warn("reservation sweeper is disabled: sweeper is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	released, err := w.sweeper.SweepExpired(ctx, domain.SystemActor)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordReservationSweep(0, err)
		w.logger.WithError(err).Warn("reservation sweep failed")
		return
	}
	w.metrics.RecordReservationSweep(released, nil)
}
