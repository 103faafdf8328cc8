package reliability

import (
	"context"

	"github.com/glimte/schemagov/events"
)

// GuardedPublisher sends events through a circuit breaker
type GuardedPublisher struct {
	next    events.Publisher
	breaker *CircuitBreaker
}

var _ events.Publisher = (*GuardedPublisher)(nil)

// NewGuardedPublisher wraps next with a breaker built from opts
func NewGuardedPublisher(next events.Publisher, opts ...CircuitBreakerOption) *GuardedPublisher {
	opts = append([]CircuitBreakerOption{WithName("events")}, opts...)
	return &GuardedPublisher{next: next, breaker: NewCircuitBreaker(opts...)}
}

// Publish forwards event unless the circuit is open
func (p *GuardedPublisher) Publish(ctx context.Context, event *events.Event) error {
	return p.breaker.Execute(ctx, func() error {
		return p.next.Publish(ctx, event)
	})
}

// Close closes the wrapped publisher
func (p *GuardedPublisher) Close() error {
	return p.next.Close()
}

// Breaker exposes the breaker for health reporting
func (p *GuardedPublisher) Breaker() *CircuitBreaker {
	return p.breaker
}
