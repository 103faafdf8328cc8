package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeTopic is the exchange kind events are published to
const ExchangeTopic = "topic"

// amqpChannel is the subset of *amqp.Channel the publisher uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher publishes to one exchange over a single confirm-mode channel.
// The channel is reopened after any failure.
type Publisher struct {
	open           func() (amqpChannel, error)
	exchange       string
	confirmTimeout time.Duration
	publishTimeout time.Duration
	retryDelay     time.Duration
	maxRetries     int
	logger         *slog.Logger

	mu       sync.Mutex
	ch       amqpChannel
	confirms chan amqp.Confirmation
	closed   bool
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for a broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout bounds a whole Publish call when ctx has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int, delay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
		p.retryDelay = delay
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher that opens channels on cm
func NewPublisher(cm *ConnectionManager, exchange string, options ...PublisherOption) *Publisher {
	return newPublisher(func() (amqpChannel, error) {
		return cm.Channel()
	}, exchange, options...)
}

func newPublisher(open func() (amqpChannel, error), exchange string, options ...PublisherOption) *Publisher {
	p := &Publisher{
		open:           open,
		exchange:       exchange,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		retryDelay:     time.Second,
		maxRetries:     3,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Exchange returns the target exchange name
func (p *Publisher) Exchange() string { return p.exchange }

// Publish sends msg and waits for the broker to confirm it, retrying with a
// linear backoff
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok && p.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * p.retryDelay):
			case <-ctx.Done():
				lastErr = errors.Join(lastErr, ctx.Err())
				return &PublishError{Exchange: p.exchange, RoutingKey: routingKey, Attempts: attempts,
					Err: lastErr, Timestamp: time.Now()}
			}
		}

		attempts++
		err := p.publishOnce(ctx, routingKey, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		p.logger.Warn("publish attempt failed",
			"exchange", p.exchange,
			"routingKey", routingKey,
			"attempt", attempts,
			"error", err)
	}

	return &PublishError{Exchange: p.exchange, RoutingKey: routingKey, Attempts: attempts,
		Err: lastErr, Timestamp: time.Now()}
}

func (p *Publisher) publishOnce(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if err := p.ensureChannelLocked(); err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("failed to publish: %w", err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return ErrConnectionClosed
		}
		if !confirm.Ack {
			return ErrPublishNotConfirmed
		}
		return nil
	case <-time.After(p.confirmTimeout):
		p.resetLocked()
		return ErrPublishTimeout
	case <-ctx.Done():
		p.resetLocked()
		return ctx.Err()
	}
}

func (p *Publisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	ch, err := p.open()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

// resetLocked drops the channel so unmatched confirms are never read
func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
}

// Close closes the publishing channel. The connection is managed separately.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.resetLocked()
	return nil
}
