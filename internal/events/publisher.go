// Package events publishes delivery run reports to an AMQP exchange so
// external consumers (billing, analytics) can observe broadcast outcomes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"relaybot/internal/mailing"
	"relaybot/pkg/logx"
)

const (
	defaultExchange = "relaybot.events"
	runFinishedKey  = "mailing.run.finished"
)

// Envelope is the wire shape of every published event.
type Envelope struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    mailing.RunReport `json:"payload"`
}

// Publisher emits run reports over AMQP. It satisfies mailing.Reporter.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      logx.Logger
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string, log logx.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, exchange: exchange, log: log}, nil
}

// DeliveryFinished publishes one run report. Failures are logged and
// swallowed: the event stream is advisory and must never affect delivery.
func (p *Publisher) DeliveryFinished(ctx context.Context, r mailing.RunReport) {
	env := Envelope{
		ID:         uuid.NewString(),
		Event:      runFinishedKey,
		OccurredAt: time.Now().UTC(),
		Payload:    r,
	}
	if err := p.publish(ctx, runFinishedKey, env); err != nil {
		p.log.Warn("event publish failed",
			logx.String("event", env.Event),
			logx.Int64("task", r.TaskID),
			logx.Err(err))
	}
}

func (p *Publisher) publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
