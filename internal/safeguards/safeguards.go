// Package safeguards provides concurrency control and panic recovery for
// operations that must not be allowed to take the whole process down or
// run unbounded in parallel.
package safeguards

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// OperationGuard serializes access to a shared resource, bounding how
// many callers may hold it concurrently.
type OperationGuard struct {
	mu            sync.Mutex
	semaphore     chan struct{}
	maxConcurrent int
	activeOps     int
	logger        logrus.FieldLogger
}

// GuardConfig configures the operation guard.
type GuardConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations
	// (default: 1, i.e. fully serialized).
	MaxConcurrent int
	Logger        logrus.FieldLogger
}

// NewOperationGuard creates a new operation guard.
func NewOperationGuard(cfg GuardConfig) *OperationGuard {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &OperationGuard{
		semaphore:     make(chan struct{}, cfg.MaxConcurrent),
		maxConcurrent: cfg.MaxConcurrent,
		logger:        cfg.Logger.WithField("component", "operation-guard"),
	}
}

// Acquire acquires a slot, blocking until one is free or ctx is done.
func (g *OperationGuard) Acquire(ctx context.Context, opName string) error {
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for operation slot: %w", ctx.Err())
	}

	g.mu.Lock()
	g.activeOps++
	active := g.activeOps
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{"operation": opName, "active_ops": active}).Debug("acquired operation slot")
	return nil
}

// Release releases a previously acquired slot.
func (g *OperationGuard) Release(opName string) {
	g.mu.Lock()
	g.activeOps--
	active := g.activeOps
	g.mu.Unlock()

	<-g.semaphore
	g.logger.WithFields(logrus.Fields{"operation": opName, "active_ops": active}).Debug("released operation slot")
}

// ActiveOperations returns the number of operations currently holding a slot.
func (g *OperationGuard) ActiveOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeOps
}

// WithOperation runs fn while holding a guard slot.
func (g *OperationGuard) WithOperation(ctx context.Context, opName string, fn func() error) error {
	if err := g.Acquire(ctx, opName); err != nil {
		return err
	}
	defer g.Release(opName)
	return fn()
}

// RecoverableOperation runs fn, converting any panic into an error instead
// of letting it unwind past the caller. Used around exported D-Bus method
// bodies, where a panic would otherwise take the whole daemon down rather
// than just failing the one call.
func RecoverableOperation(logger logrus.FieldLogger, opName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithFields(logrus.Fields{
				"operation": opName,
				"panic":     r,
				"stack":     string(stack),
			}).Error("recovered from panic in operation")
			err = fmt.Errorf("panic in operation %s: %v", opName, r)
		}
	}()
	return fn()
}
