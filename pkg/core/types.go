package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a stream.
type Status int32

// Stream lifecycle states. A stream in StatusStopped or StatusUnrepairable
// never returns to StatusRunning.
const (
	// StatusNew indicates the stream has been registered but its worker has not started.
	StatusNew Status = iota
	// StatusStarting indicates the worker is resolving the URI and connecting.
	StatusStarting
	// StatusRunning indicates the connection is open and frames are flowing.
	StatusRunning
	// StatusRestarting indicates the worker is waiting before reconnecting.
	StatusRestarting
	// StatusStopping indicates a stop was requested and the connection is closing.
	StatusStopping
	// StatusStopped indicates the worker has exited after a stop request.
	StatusStopped
	// StatusCrashed indicates the worker exited on an unexpected panic.
	StatusCrashed
	// StatusUnrepairable indicates the exchange rejected the stream permanently.
	StatusUnrepairable
)

var statusNames = [...]string{
	"new",
	"starting",
	"running",
	"restarting",
	"stopping",
	"stopped",
	"crashed",
	"unrepairable",
}

// String returns the lowercase name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// IsTerminal reports whether the worker of a stream in this status has exited.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusCrashed || s == StatusUnrepairable
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OutputMode selects how received frames are decoded before dispatch.
type OutputMode string

const (
	// OutputRaw delivers the frame text untouched.
	OutputRaw OutputMode = "raw"
	// OutputDict delivers the JSON-decoded frame.
	OutputDict OutputMode = "dict"
	// OutputNormalized delivers the frame after the normalizer has been applied.
	OutputNormalized OutputMode = "normalized"
)

// ParseOutputMode parses an output mode name. "UnicornFy" is accepted as an
// alias of OutputNormalized and the empty string selects OutputRaw.
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return OutputRaw, nil
	case "dict":
		return OutputDict, nil
	case "normalized", "unicornfy":
		return OutputNormalized, nil
	default:
		return "", fmt.Errorf("%w: output mode %q", ErrInvalidConfig, s)
	}
}

// Credentials holds the API key pair used for user-data streams and
// signed WS-API requests.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" yaml:"api_key"`
	// APISecret is the private key used for signing requests.
	APISecret string `json:"api_secret" yaml:"api_secret"`
}

// IsZero reports whether no key material is set.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// Frame is one message received from a stream connection.
//
// Raw always carries a private copy of the received bytes. Data is set for
// OutputDict and OutputNormalized, Normalized only for OutputNormalized.
type Frame struct {
	StreamID   uuid.UUID  `json:"stream_id"`
	SocketID   uint64     `json:"socket_id"`
	Mode       OutputMode `json:"mode"`
	Raw        []byte     `json:"-"`
	Data       any        `json:"data,omitempty"`
	Normalized any        `json:"normalized,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Value returns the representation selected by the frame's output mode.
func (f Frame) Value() any {
	switch f.Mode {
	case OutputNormalized:
		if f.Normalized != nil {
			return f.Normalized
		}
		return f.Data
	case OutputDict:
		return f.Data
	default:
		return string(f.Raw)
	}
}

// Map returns the decoded frame as an object when it is one.
func (f Frame) Map() (map[string]any, bool) {
	m, ok := f.Data.(map[string]any)
	return m, ok
}

// String returns the raw frame text.
func (f Frame) String() string {
	return string(f.Raw)
}

// SignalType identifies a stream lifecycle event.
type SignalType string

// Signal types, emitted in state-machine order per stream.
const (
	SignalConnect            SignalType = "CONNECT"
	SignalFirstReceivedData  SignalType = "FIRST_RECEIVED_DATA"
	SignalDisconnect         SignalType = "DISCONNECT"
	SignalStreamUnrepairable SignalType = "STREAM_UNREPAIRABLE"
	SignalNewStreamStarted   SignalType = "NEW_STREAM_STARTED"
	SignalAllStreamsStopped  SignalType = "ALL_STREAMS_STOPPED"
)

// Signal is a lifecycle event about a stream, delivered out of band from data frames.
type Signal struct {
	Type      SignalType `json:"type"`
	StreamID  uuid.UUID  `json:"stream_id"`
	Timestamp time.Time  `json:"timestamp"`
	Data      any        `json:"data,omitempty"`
	Error     string     `json:"error,omitempty"`
}
