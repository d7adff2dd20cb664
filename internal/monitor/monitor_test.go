package monitor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Evaluate(t *testing.T) {
	tests := []struct {
		name  string
		snap  Snapshot
		level Level
		text  string
	}{
		{
			name:  "all running",
			snap:  Snapshot{Running: 3, Subscriptions: 12},
			level: LevelOK,
			text:  "OK - 3 streams running|streams=3 restarting=0 crashed=0 unrepairable=0 subscriptions=12 stream_buffer=0 bytes=0B frames=0c reconnects=0c",
		},
		{
			name:  "restarting",
			snap:  Snapshot{Running: 2, Restarting: 1},
			level: LevelWarning,
			text:  "WARNING - 2 streams running, 1 restarting|",
		},
		{
			name:  "buffer above threshold",
			snap:  Snapshot{Running: 1, StreamBufferLength: 11},
			level: LevelWarning,
			text:  "WARNING - 1 streams running, stream buffer holds 11 items|",
		},
		{
			name:  "unrepairable wins",
			snap:  Snapshot{Running: 1, Restarting: 1, Unrepairable: 1},
			level: LevelCritical,
			text:  "CRITICAL - 1 streams running, 1 restarting, 0 crashed, 1 unrepairable|",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.snap
			snap.Evaluate(10)
			assert.Equal(t, tt.level, snap.Level)
			assert.Contains(t, snap.Text, tt.text)
		})
	}
}

func TestLevel_ExitCode(t *testing.T) {
	assert.Equal(t, 0, LevelOK.ExitCode())
	assert.Equal(t, 1, LevelWarning.ExitCode())
	assert.Equal(t, 2, LevelCritical.ExitCode())
	assert.Equal(t, 3, Level("UNKNOWN").ExitCode())
}

func testProvider() Provider {
	return ProviderFunc(func() Snapshot {
		s := Snapshot{Running: 1, Crashed: 1, Streams: []StreamState{{ID: "a", Status: "running"}}}
		s.Evaluate(0)
		return s
	})
}

func TestServer_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New("127.0.0.1:0", testProvider(), zerolog.Nop())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/icinga", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Check-Return-Code"))
	assert.Contains(t, w.Body.String(), "CRITICAL - 1 streams running")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap Snapshot
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, LevelCritical, snap.Level)
	require.Len(t, snap.Streams, 1)
	assert.Equal(t, "running", snap.Streams[0].Status)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New("127.0.0.1:0", testProvider(), zerolog.Nop())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/status/icinga")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "CRITICAL")

	require.NoError(t, s.Shutdown(context.Background()))
	_, err = http.Get("http://" + s.Addr() + "/status/icinga")
	assert.Error(t, err)
}
