// Package correlator pairs WS-API responses with the requests that caused them.
package correlator

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Callback receives the response frame of one request.
type Callback func(core.Frame)

// Waiter is a one-shot slot for the response of one request.
type Waiter struct {
	id     string
	ch     chan core.Frame
	parent *Correlator
}

// ID returns the request id the waiter is registered for.
func (w *Waiter) ID() string {
	return w.id
}

// Wait blocks until the response arrives, timeout elapses or ctx is done.
// An abandoned request is remembered for a while so that a late response is
// dropped instead of reaching the stream's sink.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (core.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-w.ch:
		return f, nil
	case <-timer.C:
		w.parent.abandon(w.id)
		w.parent.log().Warn().Str("request_id", w.id).Dur("timeout", timeout).Msg("request timed out")
		return core.Frame{}, fmt.Errorf("request %s: %w after %s", w.id, core.ErrResponseTimeout, timeout)
	case <-ctx.Done():
		w.parent.abandon(w.id)
		return core.Frame{}, ctx.Err()
	}
}

const (
	// abandonedTTL is how long a late response to an abandoned request is
	// recognised and dropped.
	abandonedTTL = 5 * time.Minute
	maxAbandoned = 1024
)

// Correlator holds pending requests keyed by id. Waiters and callbacks live
// in separate maps, each behind its own lock.
type Correlator struct {
	waitersMu sync.Mutex
	waiters   map[string]*Waiter

	callbacksMu sync.Mutex
	callbacks   map[string]Callback

	abandonedMu sync.Mutex
	abandoned   map[string]time.Time

	logger      atomic.Pointer[zerolog.Logger]
	onUserError atomic.Pointer[func(error)]
}

func New() *Correlator {
	c := &Correlator{
		waiters:   make(map[string]*Waiter),
		callbacks: make(map[string]Callback),
		abandoned: make(map[string]time.Time),
	}
	c.SetLogger(zerolog.Nop())
	return c
}

// SetLogger sets the logger for dropped responses and failing callbacks.
func (c *Correlator) SetLogger(logger zerolog.Logger) {
	c.logger.Store(&logger)
}

func (c *Correlator) log() *zerolog.Logger {
	return c.logger.Load()
}

// OnUserError registers fn to be told about response callbacks that panic.
func (c *Correlator) OnUserError(fn func(error)) {
	c.onUserError.Store(&fn)
}

// Await registers a waiter for id. Registering an id twice replaces the
// earlier waiter, which then only returns on timeout.
func (c *Correlator) Await(id string) *Waiter {
	w := &Waiter{id: id, ch: make(chan core.Frame, 1), parent: c}
	c.waitersMu.Lock()
	c.waiters[id] = w
	c.waitersMu.Unlock()
	return w
}

// OnResponse registers fn to be called with the response to id.
func (c *Correlator) OnResponse(id string, fn Callback) {
	c.callbacksMu.Lock()
	c.callbacks[id] = fn
	c.callbacksMu.Unlock()
}

// Cancel forgets id.
func (c *Correlator) Cancel(id string) {
	c.waitersMu.Lock()
	delete(c.waiters, id)
	c.waitersMu.Unlock()

	c.callbacksMu.Lock()
	delete(c.callbacks, id)
	c.callbacksMu.Unlock()
}

// Pending returns the number of requests awaiting a response.
func (c *Correlator) Pending() int {
	c.waitersMu.Lock()
	n := len(c.waiters)
	c.waitersMu.Unlock()

	c.callbacksMu.Lock()
	n += len(c.callbacks)
	c.callbacksMu.Unlock()
	return n
}

// abandon forgets id and remembers it as timed out.
func (c *Correlator) abandon(id string) {
	c.Cancel(id)

	now := time.Now()
	c.abandonedMu.Lock()
	defer c.abandonedMu.Unlock()
	if len(c.abandoned) >= maxAbandoned {
		for old, at := range c.abandoned {
			if now.Sub(at) > abandonedTTL {
				delete(c.abandoned, old)
			}
		}
		for old := range c.abandoned {
			if len(c.abandoned) < maxAbandoned {
				break
			}
			delete(c.abandoned, old)
		}
	}
	c.abandoned[id] = now
}

// dropLate reports whether id belongs to an abandoned request and forgets it.
func (c *Correlator) dropLate(id string) bool {
	c.abandonedMu.Lock()
	at, found := c.abandoned[id]
	if found {
		delete(c.abandoned, id)
	}
	c.abandonedMu.Unlock()
	return found && time.Since(at) <= abandonedTTL
}

// Resolve hands f to the waiter or callback of its request id and reports
// whether anyone claimed it. A waiter wins over a callback for the same id.
// Responses to abandoned requests are claimed and dropped.
//
// Candidates are found by scanning the raw text for pending ids; the id
// field of the decoded frame must then match exactly.
func (c *Correlator) Resolve(f core.Frame) bool {
	if !c.candidate(f.Raw) {
		return false
	}
	id, ok := responseID(f)
	if !ok {
		return false
	}

	c.waitersMu.Lock()
	w, found := c.waiters[id]
	if found {
		delete(c.waiters, id)
	}
	c.waitersMu.Unlock()
	if found {
		w.ch <- f
		c.callbacksMu.Lock()
		delete(c.callbacks, id)
		c.callbacksMu.Unlock()
		return true
	}

	c.callbacksMu.Lock()
	fn, found := c.callbacks[id]
	if found {
		delete(c.callbacks, id)
	}
	c.callbacksMu.Unlock()
	if found {
		c.call(id, f, fn)
		return true
	}

	if c.dropLate(id) {
		c.log().Warn().Str("request_id", id).Msg("late response dropped")
		return true
	}
	return false
}

// call runs a response callback. A panic is logged and reported as a user
// code error; it never reaches the worker.
func (c *Correlator) call(id string, f core.Frame, fn Callback) {
	var pc panics.Catcher
	pc.Try(func() { fn(f) })
	r := pc.Recovered()
	if r == nil {
		return
	}

	uerr := &core.StreamError{Kind: core.KindUserCode, StreamID: f.StreamID.String(), Message: "response callback failed", Err: r.AsError()}
	c.log().Error().Err(uerr).Str("request_id", id).Str("stream_id", f.StreamID.String()).Msg("user callback failed")
	if report := c.onUserError.Load(); report != nil {
		(*report)(uerr)
	}
}

func (c *Correlator) candidate(raw []byte) bool {
	c.waitersMu.Lock()
	for id := range c.waiters {
		if bytes.Contains(raw, []byte(id)) {
			c.waitersMu.Unlock()
			return true
		}
	}
	c.waitersMu.Unlock()

	c.callbacksMu.Lock()
	for id := range c.callbacks {
		if bytes.Contains(raw, []byte(id)) {
			c.callbacksMu.Unlock()
			return true
		}
	}
	c.callbacksMu.Unlock()

	c.abandonedMu.Lock()
	defer c.abandonedMu.Unlock()
	for id := range c.abandoned {
		if bytes.Contains(raw, []byte(id)) {
			return true
		}
	}
	return false
}

// responseID extracts the top-level id of f as a string.
func responseID(f core.Frame) (string, bool) {
	if m, ok := f.Map(); ok {
		return idString(m["id"])
	}
	var envelope struct {
		ID any `json:"id"`
	}
	if err := sonic.Unmarshal(f.Raw, &envelope); err != nil {
		return "", false
	}
	return idString(envelope.ID)
}

func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return fmt.Sprintf("%.0f", id), true
	case int64:
		return fmt.Sprintf("%d", id), true
	case int:
		return fmt.Sprintf("%d", id), true
	case fmt.Stringer:
		return id.String(), true
	default:
		return "", false
	}
}
