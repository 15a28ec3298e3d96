package outbox

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// DeadLetter — содержимое DLQ-сообщения: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter фиксирует событие, которое не удалось доставить.
func NewDeadLetter(event domain.OutboxMessage, publishErr error, at time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		DLQPublishedAt: at.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return letter
}

// Message упаковывает DeadLetter в outbox-сообщение для DLQ-паблишера.
// Идентификатор и агрегат сохраняются, чтобы DLQ шёл в тот же partition key.
func (d DeadLetter) Message() (domain.OutboxMessage, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       payload,
	}, nil
}

// Original восстанавливает исходное событие для повторной публикации.
func (d DeadLetter) Original() (domain.OutboxMessage, error) {
	if len(d.Payload) == 0 || string(d.Payload) == "null" {
		return domain.OutboxMessage{}, errors.New("dead letter does not contain original payload")
	}
	if strings.TrimSpace(d.OutboxID) == "" || strings.TrimSpace(d.EventType) == "" {
		return domain.OutboxMessage{}, errors.New("dead letter has no outbox id or event type")
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}, nil
}
