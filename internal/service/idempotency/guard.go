package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
)

const (
	defaultWaitTimeout  = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// Request идентифицирует мутирующий запрос. Actor входит в отпечаток:
// тот же ключ от другого вызывающего считается повторным использованием.
type Request struct {
	Actor  domain.Actor
	Method string
	Path   string
	Key    string
	Body   []byte
}

// Response — захваченный результат, который guard кэширует и воспроизводит.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Handler выполняет запрос. Ответ со статусом >= 400 или ошибка освобождают ключ.
type Handler func(ctx context.Context) (Response, error)

// GuardOptions задает параметры Guard.
type GuardOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.CommerceMetrics
	TTL          time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Now          func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*GuardOptions)

// WithGuardLogger задает logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(opts *GuardOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задает метрики.
func WithMetrics(m *metrics.CommerceMetrics) GuardOption {
	return func(opts *GuardOptions) {
		opts.Metrics = m
	}
}

// WithTTL задает время жизни записи.
func WithTTL(ttl time.Duration) GuardOption {
	return func(opts *GuardOptions) {
		opts.TTL = ttl
	}
}

// WithWaitTimeout задает, сколько конкурентный дубликат ждёт завершения первого запроса.
func WithWaitTimeout(wait time.Duration) GuardOption {
	return func(opts *GuardOptions) {
		opts.WaitTimeout = wait
	}
}

// WithPollInterval задает период опроса при ожидании.
func WithPollInterval(interval time.Duration) GuardOption {
	return func(opts *GuardOptions) {
		opts.PollInterval = interval
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) GuardOption {
	return func(opts *GuardOptions) {
		opts.Now = now
	}
}

// Guard выполняет запрос с данным ключом не более одного раза
// и воспроизводит сохранённый ответ для повторов.
type Guard struct {
	repo         domain.IdempotencyRepository
	logger       *log.Entry
	metrics      *metrics.CommerceMetrics
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewGuard создаёт guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	opts := GuardOptions{
		TTL:          domain.DefaultIdempotencyTTL,
		WaitTimeout:  defaultWaitTimeout,
		PollInterval: defaultPollInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-guard")
	}
	if opts.TTL <= 0 {
		opts.TTL = domain.DefaultIdempotencyTTL
	}
	if opts.WaitTimeout < 0 {
		opts.WaitTimeout = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Guard{
		repo:         repo,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		ttl:          opts.TTL,
		waitTimeout:  opts.WaitTimeout,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
	}
}

// CacheKey строит ключ кэша вида METHOD:path:key.
func CacheKey(method, path, key string) string {
	return strings.ToUpper(method) + ":" + path + ":" + key
}

// RequestHash — отпечаток запроса; одинаковый ключ с другим телом или от другого
// вызывающего считается повторным использованием.
func RequestHash(actor domain.Actor, method, path string, body []byte) string {
	role := "customer"
	if actor.Operator {
		role = "operator"
	}
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(actor.ID)))
	h.Write([]byte{0})
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute выполняет fn не более одного раза для (method, path, key).
func (g *Guard) Execute(ctx context.Context, req Request, fn Handler) (Response, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return Response{}, domain.ErrMissingIdempotencyKey
	}

	cacheKey := CacheKey(req.Method, req.Path, key)
	hash := RequestHash(req.Actor, req.Method, req.Path, req.Body)
	deadline := g.now().Add(g.waitTimeout)
	logger := g.logger.WithField("idempotency_key", cacheKey)

	for {
		record, err := g.repo.CreateProcessing(ctx, cacheKey, hash, g.now().Add(g.ttl))
		switch {
		case err == nil:
			g.metrics.RecordIdempotency(metrics.IdempotencyExecuted)
			return g.run(ctx, logger, cacheKey, fn)
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			g.metrics.RecordIdempotency(metrics.IdempotencyReused)
			return Response{}, domain.ErrIdempotencyKeyReused
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if record.Status == domain.IdempotencyStatusDone {
				g.metrics.RecordIdempotency(metrics.IdempotencyReplayed)
				return replay(record), nil
			}
		default:
			logger.WithError(err).Warn("failed to claim idempotency key")
			return Response{}, fmt.Errorf("claim idempotency key: %w", err)
		}

		// Первый запрос ещё выполняется: ждём его результата или освобождения ключа.
		if !g.now().Before(deadline) {
			g.metrics.RecordIdempotency(metrics.IdempotencyInFlight)
			return Response{}, domain.ErrIdempotencyRequestInFlight
		}
		if err := sleep(ctx, g.pollInterval); err != nil {
			return Response{}, err
		}
	}
}

func (g *Guard) run(ctx context.Context, logger *log.Entry, cacheKey string, fn Handler) (Response, error) {
	completed := false
	defer func() {
		// fn запаниковал: ключ освобождается, паника идёт дальше.
		if !completed {
			g.release(ctx, logger, cacheKey)
		}
	}()

	resp, err := fn(ctx)
	completed = true

	if err != nil {
		g.release(ctx, logger, cacheKey)
		return resp, err
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if resp.Status >= http.StatusBadRequest {
		g.release(ctx, logger, cacheKey)
		return resp, nil
	}

	if err := g.repo.MarkDone(context.WithoutCancel(ctx), cacheKey, resp.Body, resp.Status); err != nil {
		// Ключ останется в processing до истечения TTL.
		logger.WithError(err).Warn("failed to store idempotent response")
	}
	return resp, nil
}

func (g *Guard) release(ctx context.Context, logger *log.Entry, cacheKey string) {
	g.metrics.RecordIdempotency(metrics.IdempotencyReleased)
	if err := g.repo.Delete(context.WithoutCancel(ctx), cacheKey); err != nil {
		logger.WithError(err).Warn("failed to release idempotency key")
	}
}

func replay(record domain.IdempotencyRecord) Response {
	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	return Response{
		Status:   status,
		Body:     append([]byte(nil), record.ResponseBody...),
		Replayed: true,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
