package terminal

import (
	"context"
	"errors"
	"sync"
)

// DefaultRelayCapacity is the number of chunks a relay buffers before the
// producer blocks.
const DefaultRelayCapacity = 256

// ErrRelayClosed is returned by Push after Close.
var ErrRelayClosed = errors.New("relay closed")

// Chunk is one unit of session output. Data is set for binary output,
// otherwise Text holds decoded UTF-8.
type Chunk struct {
	Text string
	Data []byte
}

// Binary reports whether the chunk should be sent as a binary frame.
func (c Chunk) Binary() bool { return c.Data != nil }

// Relay is a bounded FIFO between an adapter's read goroutine and the bridge.
// A full relay blocks the producer rather than growing.
type Relay struct {
	ch   chan Chunk
	stop chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewRelay returns a relay holding at most capacity chunks.
func NewRelay(capacity int) *Relay {
	if capacity <= 0 {
		capacity = DefaultRelayCapacity
	}
	return &Relay{
		ch:   make(chan Chunk, capacity),
		stop: make(chan struct{}),
	}
}

// Push enqueues c, blocking while the relay is full. It gives up when ctx is
// done or the relay is closed.
func (r *Relay) Push(ctx context.Context, c Chunk) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRelayClosed
	}
	select {
	case r.ch <- c:
		return nil
	case <-r.stop:
		return ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the consumer side. It is closed by Close; chunks buffered before
// that are still delivered.
func (r *Relay) C() <-chan Chunk { return r.ch }

// Len returns the number of buffered chunks.
func (r *Relay) Len() int { return len(r.ch) }

// Close releases blocked producers and closes the consumer channel. It is
// safe to call more than once.
func (r *Relay) Close() {
	r.once.Do(func() {
		close(r.stop)
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
}
