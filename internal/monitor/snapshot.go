// Package monitor serves the stream manager's health in Icinga/Nagios check
// format and as JSON.
package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Level is a check result in Nagios plugin semantics.
type Level string

const (
	LevelOK       Level = "OK"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// ExitCode returns the Nagios plugin return code of the level.
func (l Level) ExitCode() int {
	switch l {
	case LevelOK:
		return 0
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	default:
		return 3
	}
}

// DefaultBufferWarning is the stream buffer length above which the check warns.
const DefaultBufferWarning = 5000

// StreamState is the part of a stream the check looks at.
type StreamState struct {
	ID         string    `json:"stream_id"`
	Label      string    `json:"stream_label,omitempty"`
	Exchange   string    `json:"exchange"`
	Status     string    `json:"status"`
	LastSignal string    `json:"last_signal,omitempty"`
	SignalAt   time.Time `json:"last_signal_time,omitzero"`
	Reconnects int64     `json:"reconnects"`
}

// Snapshot is the aggregated state of one manager.
type Snapshot struct {
	Level     Level     `json:"status"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime_seconds"`

	Running      int `json:"active_streams"`
	Restarting   int `json:"restarting_streams"`
	Stopped      int `json:"stopped_streams"`
	Crashed      int `json:"crashed_streams"`
	Unrepairable int `json:"unrepairable_streams"`

	Subscriptions      int   `json:"subscriptions"`
	StreamBufferLength int   `json:"stream_buffer_length"`
	BytesReceived      int64 `json:"total_received_bytes"`
	FramesReceived     int64 `json:"total_received_frames"`
	PayloadsSent       int64 `json:"total_transmitted_payloads"`
	Reconnects         int64 `json:"reconnects"`
	MissedSignals      int64 `json:"missed_signals"`

	Streams []StreamState `json:"streams"`
}

// Evaluate sets Level and Text from the counters. Crashed or unrepairable
// streams are critical; restarts in progress or a stream buffer above
// bufferWarning are a warning.
func (s *Snapshot) Evaluate(bufferWarning int) {
	if bufferWarning <= 0 {
		bufferWarning = DefaultBufferWarning
	}

	var problems []string
	s.Level = LevelOK
	if s.Restarting > 0 {
		s.Level = LevelWarning
		problems = append(problems, fmt.Sprintf("%d restarting", s.Restarting))
	}
	if s.StreamBufferLength > bufferWarning {
		s.Level = LevelWarning
		problems = append(problems, fmt.Sprintf("stream buffer holds %d items", s.StreamBufferLength))
	}
	if s.Crashed > 0 || s.Unrepairable > 0 {
		s.Level = LevelCritical
		problems = append(problems, fmt.Sprintf("%d crashed, %d unrepairable", s.Crashed, s.Unrepairable))
	}

	summary := fmt.Sprintf("%d streams running", s.Running)
	if len(problems) > 0 {
		summary += ", " + strings.Join(problems, ", ")
	}
	s.Text = fmt.Sprintf("%s - %s|%s", s.Level, summary, s.perfData())
}

func (s *Snapshot) perfData() string {
	return fmt.Sprintf("streams=%d restarting=%d crashed=%d unrepairable=%d subscriptions=%d stream_buffer=%d bytes=%dB frames=%dc reconnects=%dc",
		s.Running, s.Restarting, s.Crashed, s.Unrepairable, s.Subscriptions,
		s.StreamBufferLength, s.BytesReceived, s.FramesReceived, s.Reconnects)
}
