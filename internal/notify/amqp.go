package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each event to a durable queue named after its
// type, through the default exchange. Messages are persistent.
type AMQPPublisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	prefix string
	log    *zap.Logger
}

// DialAMQP connects to the broker at url and declares one queue per event
// type. prefix, when set, is prepended to every queue name with a dot.
func DialAMQP(url, prefix string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open: %w", err)
	}
	p, err := newAMQPPublisher(ch, prefix, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, prefix string, log *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{ch: ch, prefix: prefix, log: log}
	for _, typ := range Types {
		if _, err := ch.QueueDeclare(
			p.queue(typ), // name
			true,         // durable
			false,        // autoDelete
			false,        // exclusive
			false,        // noWait
			nil,          // args
		); err != nil {
			return nil, fmt.Errorf("rabbitmq queue declare %s: %w", p.queue(typ), err)
		}
	}
	return p, nil
}

// queue names the queue for typ, e.g. "staging.registration.created".
func (p *AMQPPublisher) queue(typ string) string {
	if p.prefix == "" {
		return typ
	}
	return p.prefix + "." + typ
}

// Notify implements Notifier.
func (p *AMQPPublisher) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.RegistrationID + ":" + ev.Type,
		Type:         ev.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx,
		"",               // default exchange
		p.queue(ev.Type), // routing key = queue name
		false,            // mandatory
		false,            // immediate
		pub,
	); err != nil {
		p.log.Warn("rabbitmq publish failed",
			zap.String("type", ev.Type),
			zap.String("registration_id", ev.RegistrationID),
			zap.Error(err),
		)
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
