// Package dispatch routes decoded frames to the one sink of their stream.
package dispatch

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Route is a sink bound to its storage. Streams hold one route each.
type Route struct {
	sink  Sink
	ring  *Ring[core.Frame]
	queue *PullQueue
}

func (r *Route) Sink() Sink { return r.sink }

// Queue returns the pull queue of a SinkPullQueue route, nil otherwise.
func (r *Route) Queue() *PullQueue { return r.queue }

// Dispatcher delivers frames to routes and feeds the error and result rings.
type Dispatcher struct {
	buffers     *Buffers
	defaultSize int
	logger      zerolog.Logger
	onUserError func(streamID string, err error)
}

// New creates a dispatcher over buffers. Pull queues without an explicit
// size get queueSize.
func New(buffers *Buffers, queueSize int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{buffers: buffers, defaultSize: queueSize, logger: logger}
}

// OnUserError registers fn to be told about failing callbacks.
func (d *Dispatcher) OnUserError(fn func(streamID string, err error)) {
	d.onUserError = fn
}

func (d *Dispatcher) Buffers() *Buffers {
	return d.buffers
}

// Bind allocates the storage of sink.
func (d *Dispatcher) Bind(sink Sink) *Route {
	r := &Route{sink: sink}
	switch sink.kind {
	case SinkBuffer:
		r.ring = d.buffers.Named(sink.name)
	case SinkGlobalBuffer, SinkNone:
		r.sink = GlobalBufferSink()
		r.ring = d.buffers.Global()
	case SinkPullQueue:
		size := sink.size
		if size <= 0 {
			size = d.defaultSize
		}
		r.queue = NewPullQueue(size)
	}
	return r
}

// Deliver hands f to the sink of route. Frames carrying an error or result
// field are copied to the matching global ring first. Callback failures are
// logged as user-code errors and swallowed; only a cancelled ctx while
// waiting on a full pull queue is returned.
func (d *Dispatcher) Deliver(ctx context.Context, route *Route, f core.Frame) error {
	if hasField(f, "error") {
		d.buffers.errors.Push(f)
	}
	if hasField(f, "result") {
		d.buffers.results.Push(f)
	}

	switch route.sink.kind {
	case SinkPullQueue:
		return route.queue.Put(ctx, f)
	case SinkCallback:
		d.call(f, func() error {
			route.sink.callback(f)
			return nil
		})
	case SinkAsyncCallback:
		d.call(f, func() error {
			return route.sink.async(ctx, f)
		})
	default:
		route.ring.Push(f)
	}
	return nil
}

func (d *Dispatcher) call(f core.Frame, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	uerr := &core.StreamError{Kind: core.KindUserCode, StreamID: f.StreamID.String(), Message: "sink callback failed", Err: err}
	d.logger.Error().Err(uerr).Str("stream_id", f.StreamID.String()).Msg("user callback failed")
	if d.onUserError != nil {
		d.onUserError(f.StreamID.String(), uerr)
	}
}

// hasField reports whether the top-level object of f has key.
func hasField(f core.Frame, key string) bool {
	if m, ok := f.Map(); ok {
		_, found := m[key]
		return found
	}
	if !bytes.Contains(f.Raw, []byte(`"`+key+`"`)) {
		return false
	}
	node, err := sonic.Get(f.Raw, key)
	return err == nil && node.Exists()
}
