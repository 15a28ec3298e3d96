package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	attemptCnt int
	updatedAt  time.Time
}

// outboxRepository — transactional outbox в общем состоянии Store:
// событие откатывается вместе с бизнес-изменениями.
type outboxRepository struct {
	s *Store
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusPending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	r.s.st.outbox = append(r.s.st.outbox, outboxRecord{msg: msg, updatedAt: now})
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, rec := range r.s.st.outbox {
		if rec.msg.Status != domain.OutboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending события.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	defer r.s.lock(ctx)()

	var stats domain.OutboxStats
	for _, rec := range r.s.st.outbox {
		if rec.msg.Status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, domain.OutboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, domain.OutboxStatusFailed)
}

func (r *outboxRepository) mark(ctx context.Context, id string, status domain.OutboxStatus) error {
	defer r.s.lock(ctx)()

	for i := range r.s.st.outbox {
		rec := &r.s.st.outbox[i]
		if rec.msg.ID != id {
			continue
		}
		rec.msg.Status = status
		rec.attemptCnt++
		rec.updatedAt = time.Now().UTC()
		return nil
	}
	return domain.ErrOutboxPublish
}

// OutboxMessages возвращает копию всех сообщений outbox (используется в тестах).
func (s *Store) OutboxMessages() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.OutboxMessage, 0, len(s.st.outbox))
	for _, rec := range s.st.outbox {
		result = append(result, rec.msg)
	}
	return result
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
