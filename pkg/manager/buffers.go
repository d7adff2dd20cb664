package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// PopStreamDataFromStreamBuffer removes the oldest frame of the named
// stream buffer, or of the global buffer when name is empty.
func (m *Manager) PopStreamDataFromStreamBuffer(name string) (core.Frame, bool) {
	return m.buffers.Pop(name)
}

// GetStreamBufferLength returns the frame count of the named stream buffer.
func (m *Manager) GetStreamBufferLength(name string) int {
	return m.buffers.Len(name)
}

// ClearStreamBuffer empties the named stream buffer.
func (m *Manager) ClearStreamBuffer(name string) {
	m.buffers.Clear(name)
}

// GetStreamBufferNames lists the named stream buffers in use.
func (m *Manager) GetStreamBufferNames() []string {
	return m.buffers.Names()
}

// PopErrorFromEndpoints removes the oldest frame that carried an error field.
func (m *Manager) PopErrorFromEndpoints() (core.Frame, bool) {
	return m.buffers.Errors().Pop()
}

// PopResultFromEndpoints removes the oldest frame that carried a result field.
func (m *Manager) PopResultFromEndpoints() (core.Frame, bool) {
	return m.buffers.Results().Pop()
}

// PopStreamSignalFromStreamSignalBuffer removes the oldest buffered signal.
// It always reports false when a signal callback is installed.
func (m *Manager) PopStreamSignalFromStreamSignalBuffer() (core.Signal, bool) {
	return m.signals.Pop()
}

// GetStreamDataFromQueue blocks for the next frame of a pull-queue stream.
// Call QueueTaskDone once the frame is processed.
func (m *Manager) GetStreamDataFromQueue(ctx context.Context, id uuid.UUID) (core.Frame, error) {
	s, err := m.get(id)
	if err != nil {
		return core.Frame{}, err
	}
	q := s.Route.Queue()
	if q == nil {
		return core.Frame{}, fmt.Errorf("%w: stream %s has no pull queue", core.ErrInvalidConfig, id)
	}
	return q.Get(ctx)
}

// QueueTaskDone marks one frame from GetStreamDataFromQueue as processed.
func (m *Manager) QueueTaskDone(id uuid.UUID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	q := s.Route.Queue()
	if q == nil {
		return fmt.Errorf("%w: stream %s has no pull queue", core.ErrInvalidConfig, id)
	}
	q.TaskDone()
	return nil
}
