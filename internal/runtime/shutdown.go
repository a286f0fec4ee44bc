// Package runtime runs registered cleanup hooks when the process shuts down.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/logging"
)

// ShutdownFunc is a cleanup hook.
type ShutdownFunc func(ctx context.Context) error

// DefaultShutdownTimeout bounds the total time spent in hooks.
const DefaultShutdownTimeout = 10 * time.Second

type namedHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs hooks once, newest first, under a shared deadline.
type ShutdownManager struct {
	mu      sync.Mutex
	hooks   []namedHook
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
	log     *logging.Logger
}

func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("shutdown"),
	}
}

// Register adds a hook. Hooks run in reverse registration order.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, fn: fn})
}

// Context is cancelled as soon as shutdown begins.
func (m *ShutdownManager) Context() context.Context { return m.ctx }

func (m *ShutdownManager) Done() <-chan struct{} { return m.done }

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM. The returned
// func stops listening.
func (m *ShutdownManager) ListenForSignals() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			m.log.Info("signal received", zap.String("signal", sig.String()))
			m.Shutdown()
		case <-stop:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(stop)
	}
}

// Shutdown runs every hook exactly once and returns their joined errors.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(func() {
		defer close(m.done)
		m.cancel()
		m.err = m.run()
	})
	return m.err
}

func (m *ShutdownManager) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped, shutdown timed out after %v", h.name, m.timeout))
			continue
		}
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.log.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.log.Debug("shutdown hook done", zap.String("hook", h.name), zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
