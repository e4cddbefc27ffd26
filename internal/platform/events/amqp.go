// Package events delivers committed domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hearth-finance/hearth/internal/ledger"
)

const publishTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes events to a durable topic exchange. The routing key is the event type.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  channel
	exchange string
	logger   *slog.Logger
}

var _ ledger.Publisher = (*Publisher)(nil)

// Dial connects to the broker and declares the exchange.
func Dial(rawURL, exchange string, logger *slog.Logger) (*Publisher, error) {
	clean, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("events: exchange name required")
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends one event. Channels are not safe for concurrent use, so publishes are serialised.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event ledger.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	if p.logger != nil {
		p.logger.DebugContext(ctx, "event published",
			slog.String("exchange", p.exchange),
			slog.String("routing_key", routingKey),
			slog.String("event_id", event.ID.String()),
		)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func encode(event ledger.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         event.Type,
		Timestamp:    ts.UTC(),
		Body:         body,
	}, nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse AMQP url: %w", err)
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Noop logs and drops events. It stands in when no broker is configured.
type Noop struct {
	Logger *slog.Logger
}

var _ ledger.Publisher = Noop{}

// Publish implements ledger.Publisher.
func (n Noop) Publish(ctx context.Context, routingKey string, event ledger.Event) error {
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "event dropped",
			slog.String("routing_key", routingKey),
			slog.String("event_id", event.ID.String()),
		)
	}
	return nil
}

// Connect dials the broker when url is set and falls back to Noop otherwise. The returned close
// function is always safe to call.
func Connect(rawURL, exchange string, logger *slog.Logger) (ledger.Publisher, func() error) {
	if strings.TrimSpace(rawURL) == "" {
		logger.Info("event publishing disabled")
		return Noop{Logger: logger}, func() error { return nil }
	}
	pub, err := Dial(rawURL, exchange, logger)
	if err != nil {
		logger.Warn("event broker unreachable, dropping events", slog.Any("error", err))
		return Noop{Logger: logger}, func() error { return nil }
	}
	logger.Info("event publisher connected", slog.String("exchange", exchange))
	return pub, pub.Close
}
