// Package event carries tool lifecycle events from producers to observers.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
)

// DefaultBuffer is the number of output lines that may be queued when none
// is configured.
const DefaultBuffer = 256

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ev domain.ToolEvent) bool
}

// Sink observes events delivered by the consumer loop.
type Sink interface {
	Handle(ev domain.ToolEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev domain.ToolEvent)

func (f SinkFunc) Handle(ev domain.ToolEvent) { f(ev) }

// Bus is an ordered queue with many producers and one consumer.
// Publish never blocks. Only output_line events count against the buffer
// and are dropped once it is full; lifecycle events are always queued.
type Bus struct {
	mu      sync.Mutex
	queue   []domain.ToolEvent
	lines   int
	limit   int
	wake    chan struct{}
	dropped atomic.Int64
	onDrop  func()
	log     *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropHook is called once per dropped event.
func WithDropHook(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

func NewBus(buffer int, opts ...Option) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Bus{
		limit: buffer,
		wake:  make(chan struct{}, 1),
		log:   logging.New("event"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps the event with an ID and time and enqueues it. It returns
// false only when an output line is dropped on a full buffer.
func (b *Bus) Publish(ev domain.ToolEvent) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	line := ev.Kind == domain.EventOutputLine

	b.mu.Lock()
	if line && b.lines >= b.limit {
		b.mu.Unlock()
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
		return false
	}
	b.queue = append(b.queue, ev)
	if line {
		b.lines++
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain returns up to limit queued events without blocking. limit <= 0 means all.
func (b *Bus) Drain(limit int) []domain.ToolEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.ToolEvent, n)
	copy(out, b.queue[:n])
	for _, ev := range out {
		if ev.Kind == domain.EventOutputLine {
			b.lines--
		}
	}
	if n == len(b.queue) {
		b.queue = nil
	} else {
		b.queue = b.queue[n:]
	}
	return out
}

func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Run is the single consumer loop. It delivers each event to every sink
// in order until ctx is done, then flushes whatever is still queued.
func (b *Bus) Run(ctx context.Context, sinks ...Sink) {
	for {
		for _, ev := range b.Drain(0) {
			b.deliver(ev, sinks)
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			for _, ev := range b.Drain(0) {
				b.deliver(ev, sinks)
			}
			return
		}
	}
}

func (b *Bus) deliver(ev domain.ToolEvent, sinks []Sink) {
	for _, s := range sinks {
		b.safeHandle(s, ev)
	}
}

func (b *Bus) safeHandle(s Sink, ev domain.ToolEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("sink panicked", zap.Any("panic", rec), zap.String("event", string(ev.Kind)))
		}
	}()
	s.Handle(ev)
}

type workerKey struct{}

// WithWorker tags ctx with the worker currently executing.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

// WorkerFrom returns the worker tagged on ctx, or "".
func WorkerFrom(ctx context.Context) string {
	w, _ := ctx.Value(workerKey{}).(string)
	return w
}

type callKey struct{}

// WithCallID tags ctx with the tool call being executed, so streamed
// output can be attributed to it.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callKey{}, callID)
}

func CallIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(callKey{}).(string)
	return id
}
