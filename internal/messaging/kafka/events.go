package kafka

import "github.com/vladislavdragonenkov/commerce/internal/domain"

// Topics для Kafka
const (
	TopicOrderEvents     = "commerce.order.events"
	TopicWalletEvents    = "commerce.wallet.events"
	TopicInventoryEvents = "commerce.inventory.events"
	TopicDeadLetterQueue = "commerce.dlq" // Dead Letter Queue для сообщений, исчерпавших retry
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// TopicFor выбирает topic по типу агрегата; неизвестные агрегаты идут в topic заказов.
func TopicFor(aggregateType string) string {
	switch aggregateType {
	case domain.AggregateAccount:
		return TopicWalletEvents
	case domain.AggregateProduct:
		return TopicInventoryEvents
	default:
		return TopicOrderEvents
	}
}
