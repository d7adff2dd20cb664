// Package signal delivers stream lifecycle events out of band from data frames.
package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Callback receives signals one at a time, in emission order.
type Callback func(core.Signal)

// Bus carries signals either to a callback, invoked on the bus's own
// goroutine, or into a bounded buffer the user pops. Signals that find the
// bus full are counted as missed.
type Bus struct {
	ch       chan core.Signal
	callback Callback
	buffered bool
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup

	emitted atomic.Int64
	missed  atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithCallback delivers signals to fn.
func WithCallback(fn Callback) Option {
	return func(b *Bus) {
		b.callback = fn
	}
}

// WithBuffer keeps signals for Pop.
func WithBuffer() Option {
	return func(b *Bus) {
		b.buffered = true
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates a bus holding at most capacity undelivered signals. Without a
// callback or buffer option signals are counted and discarded.
func New(capacity int, opts ...Option) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{ch: make(chan core.Signal, capacity), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.callback != nil {
		b.buffered = false
		b.wg.Go(b.deliver)
	}
	return b
}

// Enabled reports whether signals reach anyone.
func (b *Bus) Enabled() bool {
	return b.callback != nil || b.buffered
}

// Emit publishes sig without blocking. It returns false when the signal was
// missed because the bus is full or closed.
func (b *Bus) Emit(sig core.Signal) bool {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	b.emitted.Add(1)
	if !b.Enabled() {
		return true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.missed.Add(1)
		return false
	}
	select {
	case b.ch <- sig:
		return true
	default:
		b.missed.Add(1)
		b.logger.Warn().
			Str("signal", string(sig.Type)).
			Str("stream_id", sig.StreamID.String()).
			Int64("missed", b.missed.Load()).
			Msg("signal buffer full")
		return false
	}
}

// Pop removes the oldest buffered signal without blocking.
func (b *Bus) Pop() (core.Signal, bool) {
	if b.callback != nil {
		return core.Signal{}, false
	}
	select {
	case sig, ok := <-b.ch:
		return sig, ok
	default:
		return core.Signal{}, false
	}
}

// Len returns the number of undelivered signals.
func (b *Bus) Len() int {
	return len(b.ch)
}

func (b *Bus) Emitted() int64 { return b.emitted.Load() }
func (b *Bus) Missed() int64  { return b.missed.Load() }

// Close stops accepting signals and waits until the callback has seen every
// signal emitted before. Buffered signals stay poppable.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.callback != nil {
		close(b.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) deliver() {
	for sig := range b.ch {
		var pc panics.Catcher
		pc.Try(func() { b.callback(sig) })
		if r := pc.Recovered(); r != nil {
			b.logger.Error().
				Str("signal", string(sig.Type)).
				Str("stream_id", sig.StreamID.String()).
				Str("panic", r.String()).
				Msg("signal callback panicked")
		}
	}
}
