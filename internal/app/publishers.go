package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/messaging/kafka"
	sqspub "github.com/vladislavdragonenkov/commerce/internal/messaging/sqs"
)

// outboxPublishers — транспорт событий и DLQ для outbox worker.
type outboxPublishers struct {
	main  domain.OutboxPublisher
	dlq   domain.OutboxPublisher
	close func()
}

func initOutboxPublishers(ctx context.Context, cfg Config, logger *log.Entry) (*outboxPublishers, error) {
	switch cfg.OutboxPublisher {
	case OutboxPublisherLog, "":
		return &outboxPublishers{main: newLogPublisher(logger), close: func() {}}, nil
	case OutboxPublisherKafka:
		producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, err
		}
		return &outboxPublishers{
			main:  kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			dlq:   kafka.NewDLQPublisher(producer),
			close: func() { closeKafkaProducer(producer, logger) },
		}, nil
	case OutboxPublisherSQS:
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, errors.New("sqs outbox publisher requires queue url")
		}
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := newSQSClient(awsCfg, cfg.AWSEndpoint)
		publishers := &outboxPublishers{
			main:  sqspub.NewOutboxPublisher(client, cfg.SQSQueueURL, logger.WithField("publisher", "sqs")),
			close: func() {},
		}
		if cfg.SQSDLQURL != "" {
			publishers.dlq = sqspub.NewOutboxPublisher(client, cfg.SQSDLQURL, logger.WithField("publisher", "sqs-dlq"))
		}
		logger.WithField("queue_url", cfg.SQSQueueURL).Info("sqs outbox publisher initialized")
		return publishers, nil
	default:
		return nil, fmt.Errorf("unsupported outbox publisher %q", cfg.OutboxPublisher)
	}
}

// initKafkaProducer создаёт sarama producer по списку брокеров через запятую.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	var brokerList []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}
	if len(brokerList) == 0 {
		return nil, errors.New("kafka outbox publisher requires brokers")
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokerList, ClientID: "commerce-service"})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// logPublisher пишет события в лог. Используется, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) *logPublisher {
	return &logPublisher{logger: logger.WithField("publisher", "log")}
}

func (p *logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	}).Info("domain event")
	return nil
}
