// Package rabbitmq relays queue events to a RabbitMQ topic exchange with
// publisher confirms. The routing key is the event type, so consumers can bind
// to "token.*" or "request.approved" directly.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"livequeue/queue-service/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "livequeue.events"

var ErrNack = errors.New("publish nack from broker")

// confirmation is the broker's answer for a single delivery tag.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type channel interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("rabbitmq channel is not in confirm mode")
	}
	return dc, nil
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string

	mu sync.Mutex
}

func Dial(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{conn: conn, ch: amqpChannel{ch}, exchange: exchange}, nil
}

func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) Ping() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Publish sends the event and waits for the broker's confirm of that
// delivery. A confirm that arrives after ctx is done is discarded with its
// delivery tag and never answers a later publish.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	msg, err := message(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	conf, err := p.ch.publish(ctx, p.exchange, event.Type, msg)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNack
	}
	return nil
}

func message(event events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.EventID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		Headers: amqp.Table{
			"location_id": event.LocationID,
		},
		Body: body,
	}, nil
}
