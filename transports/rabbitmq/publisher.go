// Package rabbitmq publishes schema governance events to a RabbitMQ topic
// exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives every event unless configured otherwise
const DefaultExchange = "schemagov.events"

// messagePublisher is the confirming publisher events are sent through
type messagePublisher interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
	Close() error
}

// EventPublisher implements events.Publisher over AMQP
type EventPublisher struct {
	manager   *rabbitmq.ConnectionManager
	publisher messagePublisher
	logger    *slog.Logger
}

var _ events.Publisher = (*EventPublisher)(nil)

// Config holds configuration for the event publisher
type Config struct {
	Exchange          string
	Logger            *slog.Logger
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
}

// Option configures the event publisher
type Option func(*Config)

// WithExchange sets the exchange events are published to
func WithExchange(name string) Option {
	return func(cfg *Config) {
		if name != "" {
			cfg.Exchange = name
		}
	}
}

// WithLogger sets the logger for the publisher and its connection
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) Option {
	return func(cfg *Config) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) Option {
	return func(cfg *Config) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// NewEventPublisher connects to the broker at url
func NewEventPublisher(ctx context.Context, url string, options ...Option) (*EventPublisher, error) {
	cfg := &Config{Exchange: DefaultExchange, Logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pubOpts := append([]rabbitmq.PublisherOption{rabbitmq.WithPublisherLogger(cfg.Logger)}, cfg.PublisherOptions...)
	return &EventPublisher{
		manager:   manager,
		publisher: rabbitmq.NewPublisher(manager, cfg.Exchange, pubOpts...),
		logger:    cfg.Logger,
	}, nil
}

// Publish sends event as a persistent JSON message routed by its type
func (p *EventPublisher) Publish(ctx context.Context, event *events.Event) error {
	msg, err := toPublishing(event)
	if err != nil {
		return err
	}
	if err := p.publisher.Publish(ctx, event.RoutingKey(), msg); err != nil {
		return err
	}
	p.logger.Debug("event published", "type", event.Type, "event_id", event.ID)
	return nil
}

// IsConnected reports whether the broker connection is up
func (p *EventPublisher) IsConnected() bool {
	return p.manager != nil && p.manager.IsConnected()
}

// Close closes the publisher and its connection
func (p *EventPublisher) Close() error {
	pubErr := p.publisher.Close()
	if p.manager == nil {
		return pubErr
	}
	if err := p.manager.Close(); err != nil {
		return err
	}
	return pubErr
}

func toPublishing(event *events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.Type),
		AppId:        event.Source,
		Body:         body,
	}, nil
}
