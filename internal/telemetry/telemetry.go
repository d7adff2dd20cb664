// Package telemetry records stream statistics as OpenTelemetry instruments.
// Nothing is exported unless the host process installs a meter provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001"

// Recorder holds the instruments. A nil Recorder records nothing.
type Recorder struct {
	framesCounter     metric.Int64Counter
	bytesCounter      metric.Int64Counter
	reconnectCounter  metric.Int64Counter
	payloadCounter    metric.Int64Counter
	signalCounter     metric.Int64Counter
	userErrorCounter  metric.Int64Counter
	activeStreamGauge metric.Int64UpDownCounter
}

// New creates a Recorder on the global meter provider.
func New() *Recorder {
	r, _ := NewWithMeter(otel.Meter(meterName))
	return r
}

// NewWithMeter creates a Recorder on meter.
func NewWithMeter(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.framesCounter, err = meter.Int64Counter("stream.frames.received",
		metric.WithDescription("Number of frames received from the exchange"),
		metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if r.bytesCounter, err = meter.Int64Counter("stream.bytes.received",
		metric.WithDescription("Number of payload bytes received from the exchange"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if r.reconnectCounter, err = meter.Int64Counter("stream.reconnects",
		metric.WithDescription("Number of stream restarts after a connection loss"),
		metric.WithUnit("{reconnect}")); err != nil {
		return nil, err
	}
	if r.payloadCounter, err = meter.Int64Counter("stream.payloads.sent",
		metric.WithDescription("Number of payloads written to the exchange"),
		metric.WithUnit("{payload}")); err != nil {
		return nil, err
	}
	if r.signalCounter, err = meter.Int64Counter("stream.signals",
		metric.WithDescription("Number of stream signals emitted"),
		metric.WithUnit("{signal}")); err != nil {
		return nil, err
	}
	if r.userErrorCounter, err = meter.Int64Counter("stream.callback.errors",
		metric.WithDescription("Number of failed user callbacks"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if r.activeStreamGauge, err = meter.Int64UpDownCounter("stream.active",
		metric.WithDescription("Number of streams with a running worker"),
		metric.WithUnit("{stream}")); err != nil {
		return nil, err
	}
	return r, nil
}

func exchangeAttr(exchange string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("exchange", exchange))
}

// FrameReceived records one received frame of n bytes.
func (r *Recorder) FrameReceived(ctx context.Context, exchange string, n int) {
	if r == nil {
		return
	}
	attrs := exchangeAttr(exchange)
	r.framesCounter.Add(ctx, 1, attrs)
	r.bytesCounter.Add(ctx, int64(n), attrs)
}

func (r *Recorder) Reconnect(ctx context.Context, exchange, reason string) {
	if r == nil {
		return
	}
	r.reconnectCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("exchange", exchange),
		attribute.String("reason", reason),
	))
}

func (r *Recorder) PayloadSent(ctx context.Context, exchange string) {
	if r == nil {
		return
	}
	r.payloadCounter.Add(ctx, 1, exchangeAttr(exchange))
}

func (r *Recorder) Signal(ctx context.Context, signalType string) {
	if r == nil {
		return
	}
	r.signalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", signalType)))
}

func (r *Recorder) UserError(ctx context.Context) {
	if r == nil {
		return
	}
	r.userErrorCounter.Add(ctx, 1)
}

// StreamActive moves the active stream gauge by delta.
func (r *Recorder) StreamActive(ctx context.Context, exchange string, delta int64) {
	if r == nil {
		return
	}
	r.activeStreamGauge.Add(ctx, delta, exchangeAttr(exchange))
}
