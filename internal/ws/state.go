package ws

import (
	"sync/atomic"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// State provides thread-safe atomic access to a stream status. It is shared
// by the connection owner and everyone inspecting the stream.
type State struct {
	state atomic.Int32
}

// Load returns the current status.
func (s *State) Load() core.Status {
	return core.Status(s.state.Load())
}

// Store sets the status unconditionally.
func (s *State) Store(status core.Status) {
	s.state.Store(int32(status))
}

// CompareAndSwap atomically swaps old for new and reports whether it did.
func (s *State) CompareAndSwap(old, new core.Status) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}

// Advance moves to next unless the current status is terminal. A stopped or
// unrepairable stream never comes back.
func (s *State) Advance(next core.Status) bool {
	for {
		cur := s.Load()
		if cur.IsTerminal() {
			return false
		}
		if s.CompareAndSwap(cur, next) {
			return true
		}
	}
}
