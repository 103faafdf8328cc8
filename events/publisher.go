package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher delivers events to interested parties
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NopPublisher discards every event
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

// NewMemoryPublisher creates an empty in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records event or returns the configured error
func (p *MemoryPublisher) Publish(_ context.Context, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// Close does nothing
func (p *MemoryPublisher) Close() error { return nil }

// FailWith makes every later Publish return err; nil restores delivery
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Events returns every recorded event in publish order
func (p *MemoryPublisher) Events() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Event(nil), p.events...)
}

// Types returns the type of every recorded event in publish order
func (p *MemoryPublisher) Types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// Emit publishes event and logs a failure instead of returning it.
// Lifecycle events never fail the operation that produced them.
func Emit(ctx context.Context, pub Publisher, logger *slog.Logger, event *Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			"type", event.Type,
			"event_id", event.ID,
			"error", err)
	}
}
