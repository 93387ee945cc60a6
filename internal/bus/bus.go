// Package bus is the RabbitMQ boundary: it consumes command messages from the
// inbound queues, dispatches them to the handlers, and publishes the resulting
// feedback and side-effect events. Messages are JSON bodies tagged with the
// schema name in the AMQP Type property; the partition key travels in
// MessageId.
package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange is the single durable topic exchange all queues bind to.
const Exchange = "bank_events"

// Routing keys. The inbound ones double as queue names.
const (
	TopicConfirmAccountCreation  = "confirm_account_creation"
	TopicConfirmMoneyTransfer    = "confirm_money_transfer"
	TopicAccountCreationFeedback = "account_creation_feedback"
	TopicMoneyTransferFeedback   = "money_transfer_feedback"
	TopicBalanceChanged          = "balance_changed"
)

// Event is one outbound message.
type Event struct {
	Topic   string
	Key     string
	Schema  string
	Payload any
}

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_events_published_total",
		Help: "Outbound events published, labeled by routing key",
	}, []string{"topic"})

	messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_messages_dropped_total",
		Help: "Inbound messages dropped without processing",
	}, []string{"handler", "cause"})
)
