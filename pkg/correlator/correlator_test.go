package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

func rawFrame(s string) core.Frame {
	return core.Frame{Mode: core.OutputRaw, Raw: []byte(s)}
}

func TestCorrelator_WaiterReceivesResponse(t *testing.T) {
	c := New()
	w := c.Await("a1b2")
	assert.Equal(t, 1, c.Pending())

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, c.Resolve(rawFrame(`{"id":"a1b2","status":200,"result":{}}`)))
	}()

	f, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Contains(t, f.String(), `"status":200`)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_Timeout(t *testing.T) {
	c := New()
	w := c.Await("slow")

	_, err := w.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrResponseTimeout)
	assert.Equal(t, 0, c.Pending())
	assert.True(t, c.Resolve(rawFrame(`{"id":"slow","result":{}}`)), "late responses are claimed and dropped")
	assert.False(t, c.Resolve(rawFrame(`{"id":"slow","result":{}}`)), "only the first late response is dropped")
	assert.False(t, c.Resolve(rawFrame(`{"id":"other","result":{}}`)))
}

func TestCorrelator_ContextCancel(t *testing.T) {
	c := New()
	w := c.Await("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_Callback(t *testing.T) {
	c := New()
	var mu sync.Mutex
	var got []string
	c.OnResponse("cb-1", func(f core.Frame) {
		mu.Lock()
		got = append(got, f.String())
		mu.Unlock()
	})

	frame := `{"id":"cb-1","status":200}`
	assert.True(t, c.Resolve(rawFrame(frame)))
	assert.False(t, c.Resolve(rawFrame(frame)), "callbacks fire once")
	assert.Equal(t, []string{frame}, got)
}

func TestCorrelator_CallbackPanic(t *testing.T) {
	c := New()
	var reported []error
	c.OnUserError(func(err error) { reported = append(reported, err) })
	c.OnResponse("boom", func(core.Frame) { panic("callback bug") })

	f := rawFrame(`{"id":"boom","status":200}`)
	f.StreamID = uuid.New()
	assert.NotPanics(t, func() { assert.True(t, c.Resolve(f)) })

	require.Len(t, reported, 1)
	var se *core.StreamError
	require.ErrorAs(t, reported[0], &se)
	assert.Equal(t, core.KindUserCode, se.Kind)
	assert.Equal(t, f.StreamID.String(), se.StreamID)
	assert.Contains(t, se.Error(), "callback bug")
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_WaiterWinsOverCallback(t *testing.T) {
	c := New()
	called := false
	c.OnResponse("dup", func(core.Frame) { called = true })
	w := c.Await("dup")

	assert.True(t, c.Resolve(rawFrame(`{"id":"dup"}`)))
	_, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_StrictIDMatch(t *testing.T) {
	tests := []struct {
		name  string
		frame core.Frame
		want  bool
	}{
		{"id only in payload", rawFrame(`{"e":"trade","note":"req-7","id":"other"}`), false},
		{"nested id", rawFrame(`{"result":{"id":"req-7"}}`), false},
		{"exact id", rawFrame(`{"id":"req-7","result":null}`), true},
		{"numeric id", rawFrame(`{"id":7,"result":null}`), false},
		{"decoded frame", core.Frame{Mode: core.OutputDict, Raw: []byte(`{"id":"req-7"}`), Data: map[string]any{"id": "req-7"}}, true},
		{"not json", rawFrame(`req-7`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			c.Await("req-7")
			assert.Equal(t, tt.want, c.Resolve(tt.frame))
		})
	}
}

func TestCorrelator_NumericIDs(t *testing.T) {
	c := New()
	w := c.Await("42")

	assert.True(t, c.Resolve(rawFrame(`{"result":null,"id":42}`)))
	f, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"result":null,"id":42}`, f.String())
}

func TestCorrelator_Cancel(t *testing.T) {
	c := New()
	c.Await("a")
	c.OnResponse("b", func(core.Frame) {})
	assert.Equal(t, 2, c.Pending())

	c.Cancel("a")
	c.Cancel("b")
	c.Cancel("missing")
	assert.Equal(t, 0, c.Pending())
	assert.False(t, c.Resolve(rawFrame(`{"id":"a"}`)))
}
