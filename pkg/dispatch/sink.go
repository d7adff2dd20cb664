package dispatch

import (
	"context"
	"fmt"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// SinkKind tags the variant of a Sink.
type SinkKind int

const (
	SinkNone SinkKind = iota
	SinkGlobalBuffer
	SinkBuffer
	SinkPullQueue
	SinkCallback
	SinkAsyncCallback
)

func (k SinkKind) String() string {
	return [...]string{"none", "global_buffer", "buffer", "pull_queue", "callback", "async_callback"}[k]
}

// Sink is the destination of the frames of one stream. It is chosen when the
// stream is created and never changes.
type Sink struct {
	kind     SinkKind
	name     string
	size     int
	callback func(core.Frame)
	async    func(context.Context, core.Frame) error
}

// BufferSink delivers into the named ring buffer shared by every stream
// using the same name.
func BufferSink(name string) Sink {
	if name == "" {
		return GlobalBufferSink()
	}
	return Sink{kind: SinkBuffer, name: name}
}

// GlobalBufferSink delivers into the manager-wide default ring buffer.
func GlobalBufferSink() Sink {
	return Sink{kind: SinkGlobalBuffer}
}

// PullQueueSink delivers into a per-stream bounded queue. A size of zero
// uses the manager default.
func PullQueueSink(size int) Sink {
	return Sink{kind: SinkPullQueue, size: size}
}

// CallbackSink calls fn on the worker goroutine for every frame. fn must
// return quickly; a slow callback stalls the stream.
func CallbackSink(fn func(core.Frame)) Sink {
	return Sink{kind: SinkCallback, callback: fn}
}

// AsyncCallbackSink calls fn with the stream context and waits for it; the
// worker does not read further frames until fn returns.
func AsyncCallbackSink(fn func(context.Context, core.Frame) error) Sink {
	return Sink{kind: SinkAsyncCallback, async: fn}
}

func (s Sink) Kind() SinkKind { return s.kind }

// Name returns the buffer name of a SinkBuffer.
func (s Sink) Name() string { return s.name }

// Size returns the requested capacity of a SinkPullQueue.
func (s Sink) Size() int { return s.size }

func (s Sink) IsZero() bool { return s.kind == SinkNone }

func (s Sink) String() string {
	if s.kind == SinkBuffer {
		return fmt.Sprintf("%s(%s)", s.kind, s.name)
	}
	return s.kind.String()
}

// Select returns the one configured sink among sinks, or fallback when none
// is configured. More than one configured sink is an error.
func Select(fallback Sink, sinks ...Sink) (Sink, error) {
	var chosen Sink
	for _, s := range sinks {
		if s.IsZero() {
			continue
		}
		if !chosen.IsZero() {
			return Sink{}, core.NewStreamError(core.KindConfiguration,
				fmt.Sprintf("%s and %s both requested", chosen, s), core.ErrMultipleSinks)
		}
		if (s.kind == SinkCallback && s.callback == nil) || (s.kind == SinkAsyncCallback && s.async == nil) {
			return Sink{}, core.NewStreamError(core.KindConfiguration, s.String()+" without a function", core.ErrInvalidConfig)
		}
		chosen = s
	}
	if chosen.IsZero() {
		chosen = fallback
	}
	if chosen.IsZero() {
		chosen = GlobalBufferSink()
	}
	return chosen, nil
}
