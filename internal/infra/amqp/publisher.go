package amqp

import (
	"context"
	"encoding/json"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"skillquiz-service/internal/domain"
)

// RoutingKeyCompleted is the routing key of completed-quiz events.
const RoutingKeyCompleted = "quiz.completed"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends result events to a topic exchange.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string

	mu      sync.Mutex
	channel channel
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func newPublisherWithChannel(ch channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange}
}

// PublishCompleted sends a quiz.completed event.
func (p *Publisher) PublishCompleted(ctx context.Context, event domain.CompletedEvent) error {
	body, err := json.Marshal(struct {
		Type    string                `json:"type"`
		Payload domain.CompletedEvent `json:"payload"`
	}{Type: RoutingKeyCompleted, Payload: event})
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyCompleted,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.SessionID,
			Timestamp:    event.CompletedAt,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
