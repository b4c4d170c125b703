// Package lifecycle collects shutdown hooks and runs them in reverse order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Lifecycle is a stack of named shutdown hooks. The zero value is ready to
// use.
type Lifecycle struct {
	mu     sync.Mutex
	hooks  []hook
	logger *zap.Logger
}

func New(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Register adds fn to run at shutdown.
func (l *Lifecycle) Register(name string, fn func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, fn: fn})
}

// RunAllReverse drains the registered hooks and runs them newest first.
// Every hook runs even when an earlier one fails; the failures are joined.
// A hook runs at most once.
func (l *Lifecycle) RunAllReverse(ctx context.Context) error {
	l.mu.Lock()
	hooks := l.hooks
	l.hooks = nil
	logger := l.logger
	l.mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		logger.Debug("running finalizer", zap.String("name", h.name))
		if err := h.fn(ctx); err != nil {
			logger.Warn("finalizer failed", zap.String("name", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

// Len reports how many hooks are waiting to run.
func (l *Lifecycle) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hooks)
}
