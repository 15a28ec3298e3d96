package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// API — подмножество клиента SQS, нужное паблишеру.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Атрибуты сообщения, по которым подписчики фильтруют события.
const (
	AttributeEventType     = "event_type"
	AttributeAggregateType = "aggregate_type"
)

// OutboxPublisher отправляет outbox-сообщения в очередь SQS.
// Для FIFO-очереди (.fifo) события агрегата упорядочены через MessageGroupId,
// а повторная публикация отсекается по MessageDeduplicationId = id сообщения.
type OutboxPublisher struct {
	client   API
	queueURL string
	fifo     bool
	logger   *log.Entry
	now      func() time.Time
}

// NewOutboxPublisher создаёт SQS-паблишер для transactional outbox.
func NewOutboxPublisher(client API, queueURL string, logger *log.Entry) *OutboxPublisher {
	if logger == nil {
		logger = log.WithField("component", "sqs-publisher")
	}
	return &OutboxPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
		now:      time.Now,
	}
}

// Publish отправляет событие в очередь.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("sqs outbox publisher is not initialized")
	}

	body, err := json.Marshal(domain.NewEventEnvelope(event, p.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal event for SQS: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttributeEventType:     stringAttribute(event.EventType),
			AttributeAggregateType: stringAttribute(event.AggregateType),
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(event.PartitionKey())
		input.MessageDeduplicationId = aws.String(event.ID)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"message_id": aws.ToString(out.MessageId),
	}).Debug("message sent to sqs")
	return nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	if value == "" {
		value = "unknown"
	}
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

var (
	_ API                    = (*sqs.Client)(nil)
	_ domain.OutboxPublisher = (*OutboxPublisher)(nil)
)
