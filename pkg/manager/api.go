package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/exchange"
	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/stream"
)

// Request is one WS-API call.
type Request struct {
	// ID is the request id; a UUID is generated when empty.
	ID     string
	Method string
	Params map[string]any
	// Signed adds apiKey, timestamp and signature from the stream's credentials.
	Signed bool
	// ReturnResponse makes SendRequest wait up to Timeout for the response.
	ReturnResponse bool
	Timeout        time.Duration
	// Callback receives the response instead of the stream's sink.
	Callback func(core.Frame)
}

type responseEnvelope struct {
	Status int `json:"status"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// GetTheOneActiveWebsocketAPI returns the single WS-API stream that has not
// stopped. None or more than one is an error.
func (m *Manager) GetTheOneActiveWebsocketAPI() (uuid.UUID, error) {
	var found []uuid.UUID
	for _, s := range m.snapshot() {
		if s.IsAPI() && !s.Status().IsTerminal() && !s.IsStopRequested() {
			found = append(found, s.ID)
		}
	}
	switch len(found) {
	case 0:
		return uuid.Nil, core.ErrNoActiveAPIStream
	case 1:
		return found[0], nil
	default:
		return uuid.Nil, fmt.Errorf("%w: %d streams", core.ErrAmbiguousAPIStream, len(found))
	}
}

// SendRequest queues a WS-API call on stream id, or on the one active WS-API
// stream when id is uuid.Nil. With ReturnResponse it blocks for the response
// and turns an error response into an *core.ExchangeError; otherwise it
// returns at once with a zero frame.
func (m *Manager) SendRequest(ctx context.Context, id uuid.UUID, req Request) (core.Frame, error) {
	if req.ReturnResponse && req.Timeout <= 0 {
		return core.Frame{}, core.NewStreamError(core.KindConfiguration, "return_response needs a timeout", core.ErrInvalidConfig)
	}
	if id == uuid.Nil {
		var err error
		if id, err = m.GetTheOneActiveWebsocketAPI(); err != nil {
			return core.Frame{}, err
		}
	}
	s, err := m.get(id)
	if err != nil {
		return core.Frame{}, err
	}
	if !s.IsAPI() {
		return core.Frame{}, fmt.Errorf("%w: %s", core.ErrNotAPIStream, id)
	}

	call := exchange.NewAPIRequest(req.Method, req.Params)
	if req.ID != "" {
		call.ID = req.ID
	}
	if req.Signed {
		m.syncClock(ctx)
		if err := call.Sign(s.Credentials, m.clock); err != nil {
			return core.Frame{}, core.NewStreamError(core.KindConfiguration, "sign request", err)
		}
		m.keys.MarkUsed(id.String())
	}

	switch {
	case req.ReturnResponse:
		w := s.Correlator().Await(call.ID)
		if err := s.AddPayload(call); err != nil {
			s.Correlator().Cancel(call.ID)
			return core.Frame{}, err
		}
		f, err := w.Wait(ctx, req.Timeout)
		if err != nil {
			return core.Frame{}, err
		}
		return f, m.responseError(id, f)
	case req.Callback != nil:
		s.Correlator().OnResponse(call.ID, req.Callback)
		if err := s.AddPayload(call); err != nil {
			s.Correlator().Cancel(call.ID)
			return core.Frame{}, err
		}
	default:
		if err := s.AddPayload(call); err != nil {
			return core.Frame{}, err
		}
	}
	return core.Frame{}, nil
}

// syncClock measures the server clock offset once, before the first signed
// request. A failure leaves the local clock in use.
func (m *Manager) syncClock(ctx context.Context) {
	if m.clockSynced.Swap(true) {
		return
	}
	if _, err := m.keeper.SyncClock(ctx, m.clock); err != nil {
		m.logger.Warn().Err(err).Msg("clock sync failed, signing with local time")
	}
}

func (m *Manager) responseError(id uuid.UUID, f core.Frame) error {
	var env responseEnvelope
	if err := sonic.Unmarshal(f.Raw, &env); err != nil || env.Error == nil {
		return nil
	}
	exErr := core.NewExchangeError(string(m.profile.Name), exchange.ClassifyCode(env.Error.Code), env.Status, env.Error.Code, env.Error.Msg)
	if core.IsUnrepairableCode(env.Error.Code) {
		m.keys.OnError(id.String(), true)
	}
	return exErr
}

// GetStreamSubscriptions asks the exchange for the subscriptions active on
// the stream's current connection and waits up to timeout for the answer.
func (m *Manager) GetStreamSubscriptions(ctx context.Context, id uuid.UUID, timeout time.Duration) ([]string, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if s.IsAPI() {
		return nil, core.NewStreamError(core.KindConfiguration, "websocket api streams have no subscriptions", core.ErrInvalidConfig)
	}
	return listSubscriptions(ctx, s, timeout)
}

func listSubscriptions(ctx context.Context, s *stream.Stream, timeout time.Duration) ([]string, error) {
	reqID, key := s.NextRequestKey()
	w := s.Correlator().Await(key)
	if err := s.AddPayload(exchange.ListSubscriptionsPayload(reqID)); err != nil {
		s.Correlator().Cancel(key)
		return nil, err
	}
	f, err := w.Wait(ctx, timeout)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result []string `json:"result"`
	}
	if err := sonic.Unmarshal(f.Raw, &resp); err != nil {
		return nil, fmt.Errorf("decode subscription list: %w", err)
	}
	return resp.Result, nil
}
