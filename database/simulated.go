package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// SimulatedExecutor records statements instead of running them.
// It backs the in-memory variant and tests; failures can be injected by
// statement substring.
type SimulatedExecutor struct {
	mu         sync.Mutex
	statements []string
	failOn     map[string]error
	checks     map[string]bool
	hook       func(ctx context.Context, stmt string) error
	logger     *slog.Logger
}

// NewSimulatedExecutor creates an executor where every statement succeeds
// and every check passes
func NewSimulatedExecutor(logger *slog.Logger) *SimulatedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedExecutor{
		failOn: make(map[string]error),
		checks: make(map[string]bool),
		logger: logger,
	}
}

// FailOn makes any statement containing substr fail with err
func (s *SimulatedExecutor) FailOn(substr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errors.New("simulated failure")
	}
	s.failOn[substr] = err
}

// ClearFailures removes every injected failure
func (s *SimulatedExecutor) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = make(map[string]error)
}

// SetCheck fixes the result of checks containing substr
func (s *SimulatedExecutor) SetCheck(substr string, result bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[substr] = result
}

// SetHook installs a function called before every statement
func (s *SimulatedExecutor) SetHook(hook func(ctx context.Context, stmt string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Execute records stmt or returns an injected failure
func (s *SimulatedExecutor) Execute(ctx context.Context, stmt string) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, stmt); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for substr, err := range s.failOn {
		if strings.Contains(stmt, substr) {
			s.logger.Debug("simulated statement failed", "sql", stmt)
			return err
		}
	}
	s.statements = append(s.statements, stmt)
	s.logger.Debug("simulated statement", "sql", stmt)
	return nil
}

// QueryCheck returns the configured result for query, true by default
func (s *SimulatedExecutor) QueryCheck(_ context.Context, query string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for substr, result := range s.checks {
		if strings.Contains(query, substr) {
			return result, nil
		}
	}
	return true, nil
}

// Statements returns every successful statement in execution order
func (s *SimulatedExecutor) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

// Reset forgets recorded statements
func (s *SimulatedExecutor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = nil
}
