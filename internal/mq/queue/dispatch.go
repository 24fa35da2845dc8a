package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/model"
)

const (
	ExchangeName   = "notify-exchange"
	MainQueueName  = "notify-dispatch"
	RetryQueueName = "notify-dispatch-retry"
	DLQName        = "notify-dispatch-dlq"
	RoutingKey     = "dispatch"

	// RetryHopTTL is the fixed time a message parks in the retry queue before
	// being dead-lettered back to the main queue. Longer backoff delays are
	// built from several hops: the worker bounces a not-yet-due envelope
	// through the retry queue again until its RetryAt has passed.
	RetryHopTTL = 10 * time.Second
)

// Envelope is the dispatch unit carried through RabbitMQ. It references the
// persisted message row; the worker re-reads the row under lock, so the
// payload itself never travels through the broker.
type Envelope struct {
	RecordID      int64         `json:"record_id"`
	UUID          uuid.UUID     `json:"uuid"`
	Channel       model.Channel `json:"channel"`
	TaskID        string        `json:"task_id"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	RetryAt       time.Time     `json:"retry_at,omitempty"` // zero means dispatch immediately
}

// Due reports whether the envelope is ready to be attempted at the given time.
func (e Envelope) Due(now time.Time) bool {
	return e.RetryAt.IsZero() || !now.Before(e.RetryAt)
}

// DispatchQueue wires the dispatch exchange, main/retry/DLQ queues and the
// publishers/consumer working with them.
type DispatchQueue struct {
	publisher      *rabbitmq.Publisher
	retryPublisher *rabbitmq.Publisher
	consumer       *rabbitmq.Consumer
}

// NewDispatchQueue declares the dispatch topology on the given channel.
//
// The main queue dead-letters to the DLQ; the retry queue holds messages for
// RetryHopTTL and dead-letters them back to the main queue.
func NewDispatchQueue(ch *rabbitmq.Channel) (*DispatchQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	retryArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": MainQueueName,
		"x-message-ttl":             int32(RetryHopTTL / time.Millisecond),
	}

	_, err = qm.DeclareQueue(RetryQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    retryArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare retry queue: %w", err)
	}

	mainArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	mainQ, err := qm.DeclareQueue(MainQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    mainArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare main queue: %w", err)
	}

	if err := ch.QueueBind(mainQ.Name, RoutingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the main queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())
	// Retry messages go through the default exchange so the queue name acts
	// as the routing key.
	retryPub := rabbitmq.NewPublisher(ch, "")
	cons := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(mainQ.Name))

	return &DispatchQueue{publisher: pub, retryPublisher: retryPub, consumer: cons}, nil
}

// Publish enqueues an envelope for immediate dispatch.
func (q *DispatchQueue) Publish(env Envelope, strategy retry.Strategy) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return q.publisher.PublishWithRetry(body, RoutingKey, "application/json", strategy)
}

// PublishRetry parks an envelope in the retry queue for one TTL hop.
func (q *DispatchQueue) PublishRetry(env Envelope, strategy retry.Strategy) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return q.retryPublisher.PublishWithRetry(body, RetryQueueName, "application/json", strategy)
}

// Consume decodes deliveries from the main queue into out until the consumer
// stops. Malformed deliveries are logged and dropped.
func (q *DispatchQueue) Consume(ctx context.Context, out chan<- Envelope, strategy retry.Strategy) error {
	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var env Envelope
			if err := json.Unmarshal(m, &env); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal envelope")
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return q.consumer.ConsumeWithRetry(msgChan, strategy)
}
