// Package graceful blocks the process until a termination signal and runs
// registered shutdown callbacks in registration order.
package graceful

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const shutdownTimeout = 30 * time.Second

var (
	mu        sync.Mutex
	callbacks []func(ctx context.Context) error
)

// AddCallback registers a shutdown callback. Callbacks run in registration
// order once a termination signal arrives.
func AddCallback(fn func(ctx context.Context) error) {
	mu.Lock()
	defer mu.Unlock()

	callbacks = append(callbacks, fn)
}

// WaitShutdown blocks until SIGINT or SIGTERM, then runs the registered
// callbacks with a shared timeout. The first callback error is returned
// after all callbacks have run.
func WaitShutdown() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	mu.Lock()
	fns := make([]func(ctx context.Context) error, len(callbacks))
	copy(fns, callbacks)
	mu.Unlock()

	var firstErr error
	for _, fn := range fns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "shutdown callback failed")
		}
	}

	return firstErr
}
