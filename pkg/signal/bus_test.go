package signal

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

func TestBus_CallbackPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []core.SignalType
	b := New(16, WithCallback(func(s core.Signal) {
		mu.Lock()
		got = append(got, s.Type)
		mu.Unlock()
	}))

	id := uuid.New()
	order := []core.SignalType{
		core.SignalNewStreamStarted,
		core.SignalConnect,
		core.SignalFirstReceivedData,
		core.SignalDisconnect,
	}
	for _, typ := range order {
		require.True(t, b.Emit(core.Signal{Type: typ, StreamID: id}))
	}
	b.Close()

	assert.Equal(t, order, got)
	assert.Equal(t, int64(4), b.Emitted())
	assert.Equal(t, int64(0), b.Missed())
}

func TestBus_CallbackPanicIsContained(t *testing.T) {
	var count int
	b := New(4, WithCallback(func(s core.Signal) {
		count++
		if s.Type == core.SignalConnect {
			panic("user bug")
		}
	}))

	b.Emit(core.Signal{Type: core.SignalConnect})
	b.Emit(core.Signal{Type: core.SignalDisconnect})
	b.Close()
	assert.Equal(t, 2, count)
}

func TestBus_BufferCountsMissed(t *testing.T) {
	b := New(2, WithBuffer())

	assert.True(t, b.Emit(core.Signal{Type: core.SignalConnect}))
	assert.True(t, b.Emit(core.Signal{Type: core.SignalFirstReceivedData}))
	assert.False(t, b.Emit(core.Signal{Type: core.SignalDisconnect}))
	assert.Equal(t, int64(1), b.Missed())
	assert.Equal(t, 2, b.Len())

	sig, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, core.SignalConnect, sig.Type)
	assert.False(t, sig.Timestamp.IsZero())

	b.Close()
	assert.False(t, b.Emit(core.Signal{Type: core.SignalConnect}), "closed bus misses")
	sig, ok = b.Pop()
	require.True(t, ok, "buffered signals survive Close")
	assert.Equal(t, core.SignalFirstReceivedData, sig.Type)
	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestBus_Disabled(t *testing.T) {
	b := New(1)
	assert.False(t, b.Enabled())
	assert.True(t, b.Emit(core.Signal{Type: core.SignalConnect}))
	assert.True(t, b.Emit(core.Signal{Type: core.SignalConnect}))
	assert.Equal(t, int64(0), b.Missed())
	_, ok := b.Pop()
	assert.False(t, ok)
	b.Close()
	b.Close()
}
