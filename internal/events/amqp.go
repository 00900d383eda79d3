package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"property-acquisition/internal/adapters"
)

// publishTimeout bounds one broker publish when the caller has no deadline.
const publishTimeout = 5 * time.Second

// AMQPConfig configures the broker publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
	// RoutingPrefix defaults to "property".
	RoutingPrefix string
}

// amqpChannel is the part of *amqp.Channel used by the publisher.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as JSON to a durable topic exchange.
type AMQPPublisher struct {
	exchange string
	prefix   string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   amqpChannel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp url and exchange are required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, cfg AMQPConfig) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	prefix := cfg.RoutingPrefix
	if prefix == "" {
		prefix = "property"
	}
	return &AMQPPublisher{exchange: cfg.Exchange, prefix: prefix, ch: ch}, nil
}

func (p *AMQPPublisher) Name() string { return "amqp" }

// RoutingKey returns <prefix>.<acquired|fallback>.<city-slug>.
func (p *AMQPPublisher) RoutingKey(e Event) string {
	kind := strings.TrimPrefix(e.Type, "property.")
	city := adapters.CitySlug(e.Query.City)
	if city == "" {
		city = "unknown"
	}
	return p.prefix + "." + kind + "." + city
}

// Publish sends e as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("amqp publisher closed")
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.RunID,
		Timestamp:    e.At,
		Type:         e.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = fmt.Errorf("close amqp channel: %w", err)
		}
		p.ch = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close amqp connection: %w", err)
		}
		p.conn = nil
	}
	return firstErr
}
