// Package reliability guards calls to flaky collaborators.
//
// A CircuitBreaker stops calling a dependency after repeated failures and
// probes it again once a cool-down has passed. GuardedPublisher applies a
// breaker to lifecycle event publishing so an unreachable broker costs one
// fast rejection per event instead of a full publish timeout.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithFailureThreshold(5),
//	    WithSuccessThreshold(2),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return publisher.Publish(ctx, event)
//	})
package reliability
