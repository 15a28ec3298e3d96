package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// Исходы доставки outbox-сообщения.
const (
	OutboxSent       = "sent"
	OutboxRetry      = "retry_error"
	OutboxDeferred   = "deferred"
	OutboxDeadLetter = "failed"
	OutboxDLQFailed  = "dlq_failed"
)

// Исходы idempotency guard.
const (
	IdempotencyExecuted = "executed"
	IdempotencyReplayed = "replayed"
	IdempotencyReleased = "released"
	IdempotencyInFlight = "in_flight"
	IdempotencyReused   = "key_reused"
)

// События жизненного цикла резерва.
const (
	ReservationReserved  = "reserved"
	ReservationConfirmed = "confirmed"
	ReservationReleased  = "released"
	ReservationExpired   = "expired"
)

// CommerceMetrics содержит метрики транзакционного ядра.
// Методы безопасно вызывать на nil.
type CommerceMetrics struct {
	// Операции сервисов
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  prometheus.Gauge

	idempotency  *prometheus.CounterVec
	reservations *prometheus.CounterVec
	payments     *prometheus.CounterVec
	outboxEvents prometheus.Counter

	// Доставка outbox
	outboxPublish   *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge
	outboxCircuit   prometheus.Gauge

	// Очистка idempotency-ключей
	cleanupRuns    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter

	// Снятие истёкших резервов
	sweepRuns         *prometheus.CounterVec
	sweepLastReleased prometheus.Gauge
}

// NewCommerceMetrics регистрирует метрики в DefaultRegisterer.
func NewCommerceMetrics() *CommerceMetrics {
	return NewCommerceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCommerceMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCommerceMetricsWithRegisterer(registerer prometheus.Registerer) *CommerceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommerceMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_operations_total",
			Help: "Total number of core operations grouped by operation and result kind",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "commerce_operation_duration_seconds",
			Help:    "Duration of core operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		activeOperations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_active_operations",
			Help: "Number of core operations currently in progress",
		}),
		idempotency: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_idempotency_requests_total",
			Help: "Total number of idempotent requests grouped by outcome",
		}, []string{"outcome"}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_reservations_total",
			Help: "Total number of stock reservation transitions grouped by event",
		}, []string{"event"}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_payment_records_total",
			Help: "Total number of payment records grouped by type and status",
		}, []string{"type", "status"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_outbox_events_enqueued_total",
			Help: "Total number of events enqueued into the outbox",
		}),
		outboxPublish: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		outboxCircuit: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_outbox_circuit_state",
			Help: "Outbox publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		sweepRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_reservation_sweep_runs_total",
			Help: "Total number of expired reservation sweeps grouped by result",
		}, []string{"result"}),
		sweepLastReleased: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_reservation_sweep_last_released",
			Help: "Number of reservations released during the last sweep",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// StartOperation отмечает начало операции и возвращает функцию завершения.
// Результат классифицируется по domain.KindOf: ok или категория ошибки.
func (m *CommerceMetrics) StartOperation(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}

	started := time.Now()
	m.activeOperations.Inc()
	return func(err error) {
		m.activeOperations.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		result := "ok"
		if err != nil {
			result = string(domain.KindOf(err))
		}
		m.operations.WithLabelValues(operation, result).Inc()
	}
}

// RecordIdempotency увеличивает счётчик исходов idempotency guard.
func (m *CommerceMetrics) RecordIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(outcome).Inc()
}

// RecordReservation увеличивает счётчик переходов резерва.
func (m *CommerceMetrics) RecordReservation(event string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reservations.WithLabelValues(event).Add(float64(count))
}

// RecordPayment увеличивает счётчик платёжных записей.
func (m *CommerceMetrics) RecordPayment(paymentType domain.PaymentType, status domain.PaymentStatus) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(paymentType), string(status)).Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CommerceMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxPublish увеличивает счётчик попыток доставки.
func (m *CommerceMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст очереди pending-сообщений.
func (m *CommerceMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// SetOutboxCircuitState публикует состояние circuit breaker.
func (m *CommerceMetrics) SetOutboxCircuitState(state int) {
	if m == nil {
		return
	}
	m.outboxCircuit.Set(float64(state))
}

// RecordIdempotencyCleanup учитывает цикл очистки и число удалённых записей.
func (m *CommerceMetrics) RecordIdempotencyCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}

// RecordReservationSweep учитывает проход sweeper и число снятых резервов.
func (m *CommerceMetrics) RecordReservationSweep(released int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepRuns.WithLabelValues("error").Inc()
		return
	}
	m.sweepRuns.WithLabelValues("ok").Inc()
	m.sweepLastReleased.Set(float64(released))
}
