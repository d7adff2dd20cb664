package manager

import (
	"sort"
	"time"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/internal/monitor"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// MonitoringStatus aggregates the state of every stream into a check result.
func (m *Manager) MonitoringStatus() monitor.Snapshot {
	snap := monitor.Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(m.startedAt).Seconds(),
		StreamBufferLength: m.buffers.Global().Len(),
		MissedSignals:      m.signals.Missed(),
	}
	for _, name := range m.buffers.Names() {
		snap.StreamBufferLength += m.buffers.Len(name)
	}

	for _, s := range m.snapshot() {
		info := s.Info()
		switch info.Status {
		case core.StatusRunning:
			snap.Running++
			snap.Subscriptions += info.Subscriptions
		case core.StatusStarting, core.StatusRestarting:
			snap.Restarting++
		case core.StatusStopped, core.StatusStopping:
			snap.Stopped++
		case core.StatusCrashed:
			snap.Crashed++
		case core.StatusUnrepairable:
			snap.Unrepairable++
		}
		snap.BytesReceived += info.BytesReceived
		snap.FramesReceived += info.FramesProcessed
		snap.PayloadsSent += info.PayloadsSent
		snap.Reconnects += info.Reconnects
		snap.Streams = append(snap.Streams, monitor.StreamState{
			ID:         info.ID.String(),
			Label:      info.Label,
			Exchange:   string(info.Exchange),
			Status:     info.Status.String(),
			LastSignal: string(info.LastSignal.Type),
			SignalAt:   info.LastSignal.Timestamp,
			Reconnects: info.Reconnects,
		})
	}
	sort.Slice(snap.Streams, func(i, j int) bool { return snap.Streams[i].ID < snap.Streams[j].ID })

	snap.Evaluate(monitor.DefaultBufferWarning)
	return snap
}

// MonitoringAddr returns the address of the status endpoint, empty when disabled.
func (m *Manager) MonitoringAddr() string {
	if m.monitor == nil {
		return ""
	}
	return m.monitor.Addr()
}
