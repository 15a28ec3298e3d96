package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
)

const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
	roleOperator         = "operator"
	maxRequestBodyBytes  = 1 << 20
)

type actorKey struct{}

// ActorFrom возвращает вызывающего, положенного в контекст middleware withActor.
func ActorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}

// withActor читает X-Actor-ID / X-Actor-Role. Проверка прав остаётся за сервисами.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:       strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Operator: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderActorRole)), roleOperator),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// requestLogger пишет одну запись logrus на запрос.
func requestLogger(logger *log.Entry) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			defer func() {
				entry := logger.WithFields(log.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"latency":    time.Since(start).String(),
					"request_id": middleware.GetReqID(r.Context()),
				})
				if ww.Status() >= http.StatusInternalServerError {
					entry.Error("server error")
				} else {
					entry.Debug("request completed")
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// idempotent пропускает мутирующий запрос через Guard: повтор с тем же ключом
// получает сохранённый ответ с заголовком Idempotent-Replayed: true.
func idempotent(guard *idempotency.Guard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
			if err != nil {
				writeError(w, domain.ErrInvalidRequest)
				return
			}

			req := idempotency.Request{
				Actor:  ActorFrom(r.Context()),
				Method: r.Method,
				Path:   r.URL.Path,
				Key:    idempotencyKey(r, body),
				Body:   body,
			}

			var written bool
			resp, err := guard.Execute(r.Context(), req, func(ctx context.Context) (idempotency.Response, error) {
				var captured bytes.Buffer
				ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
				ww.Tee(&captured)

				inner := r.WithContext(ctx)
				inner.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(ww, inner)
				written = true

				return idempotency.Response{Status: ww.Status(), Body: captured.Bytes()}, nil
			})
			switch {
			case err != nil:
				writeError(w, err)
			case resp.Replayed:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(resp.Status)
				_, _ = w.Write(resp.Body)
			case !written:
				w.WriteHeader(resp.Status)
			}
		})
	}
}

func idempotencyKey(r *http.Request, body []byte) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)); key != "" {
		return key
	}
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Key string `json:"_idempotency_key"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Key)
}
