package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultBuffer is the queue length used when NewDispatcher gets a non-positive size.
const DefaultBuffer = 256

// Dispatcher hands events to a Publisher on a background goroutine.
// Emit never blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	pub     Publisher
	queue   chan Event
	done    chan struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher that drains into pub.
func NewDispatcher(pub Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		pub:     pub,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
		timeout: dbTimeout,
	}
	go d.run()
	return d
}

func (d *Dispatcher) Emit(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.Warn("event dropped after close", "type", event.Type, "user_id", event.UserID)
		return
	}
	select {
	case d.queue <- event:
	default:
		slog.Warn("event queue full, dropping event", "type", event.Type, "user_id", event.UserID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.pub.Publish(ctx, event); err != nil {
			slog.Warn("event publish failed", "type", event.Type, "user_id", event.UserID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued ones are published
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
