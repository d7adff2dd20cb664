package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an error returned by an exchange endpoint.
type ErrorType int

// Error type constants categorize exchange responses for retry decisions.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates rate limit was exceeded.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid or expired credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates the requested resource does not exist.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"NOT_FOUND",
		"SERVER_ERROR",
	}[t]
}

// Kind is the handling class of an error: it decides whether a worker
// restarts, gives up, or whether the caller sees the error synchronously.
type Kind int

const (
	// KindUnknown is an error that carries no classification; workers treat it as transient.
	KindUnknown Kind = iota
	// KindTransient covers resets, HTTP 429/5xx and close code 1006. The worker restarts.
	KindTransient
	// KindProtocolFatal covers the unrepairable exchange codes, HTTP 400 and close code 1008.
	KindProtocolFatal
	// KindConfiguration is raised synchronously and no worker is spawned.
	KindConfiguration
	// KindQuota is raised when a stream would exceed its subscription cap.
	KindQuota
	// KindUserCode covers errors and panics from user callbacks.
	KindUserCode
	// KindListenKey is raised when a listen key could not be kept alive.
	KindListenKey
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return [...]string{
		"UNKNOWN",
		"TRANSIENT",
		"PROTOCOL_FATAL",
		"CONFIGURATION",
		"QUOTA",
		"USER_CODE",
		"LISTEN_KEY",
	}[k]
}

// Sentinel errors for common error conditions.
var (
	// ErrInvalidConfig is returned when configuration or request parameters fail validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownExchange is returned for exchange names outside the supported table.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrMaximumSubscriptionsExceeded is returned when a stream would exceed its subscription cap.
	ErrMaximumSubscriptionsExceeded = errors.New("maximum subscriptions exceeded")
	// ErrStreamNotFound is returned for unknown stream ids and labels.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrStreamStopped is returned when controlling a stream that has reached a terminal state.
	ErrStreamStopped = errors.New("stream is stopped")
	// ErrPayloadQueueFull is returned when the outbound payload queue of a stream is full.
	ErrPayloadQueueFull = errors.New("payload queue is full")
	// ErrResponseTimeout is returned when no response arrived for a request id in time.
	ErrResponseTimeout = errors.New("response timeout")
	// ErrNoActiveAPIStream is returned when no WS-API stream is running.
	ErrNoActiveAPIStream = errors.New("no active websocket api stream")
	// ErrAmbiguousAPIStream is returned when more than one WS-API stream could serve a request.
	ErrAmbiguousAPIStream = errors.New("more than one active websocket api stream")
	// ErrNotAPIStream is returned when a WS-API request targets a subscription stream.
	ErrNotAPIStream = errors.New("stream is not a websocket api stream")
	// ErrManagerStopping is returned once StopManager has been called.
	ErrManagerStopping = errors.New("manager is stopping")
	// ErrMultipleSinks is returned when a stream request names more than one sink.
	ErrMultipleSinks = errors.New("more than one sink configured")
	// ErrLabelInUse is returned when a stream label already maps to another stream.
	ErrLabelInUse = errors.New("stream label already in use")
	// ErrNoCredentials is returned when a stream needs API credentials and none were given.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrSocks5ProxyConnection is returned when the SOCKS5 proxy cannot be reached.
	ErrSocks5ProxyConnection = errors.New("socks5 proxy connection error")
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCircuitBreakerOpen is returned when the REST circuit breaker rejects a call.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrMaximumSubscriptionsExceeded, KindQuota},
	{ErrInvalidConfig, KindConfiguration},
	{ErrUnknownExchange, KindConfiguration},
	{ErrMultipleSinks, KindConfiguration},
	{ErrLabelInUse, KindConfiguration},
	{ErrNoCredentials, KindConfiguration},
	{ErrSocks5ProxyConnection, KindTransient},
	{ErrConnectionClosed, KindTransient},
	{ErrCircuitBreakerOpen, KindTransient},
	{ErrResponseTimeout, KindTransient},
}

// StreamError is the classified error type used across the module.
type StreamError struct {
	// Kind decides how workers and callers react to the error.
	Kind Kind `json:"kind"`
	// StreamID is the affected stream, if any.
	StreamID string `json:"stream_id,omitempty"`
	// Code is the exchange error code, zero when the exchange sent none.
	Code int `json:"code,omitempty"`
	// StatusCode is the HTTP status of a REST call or WS handshake.
	StatusCode int `json:"status_code,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Err is the wrapped cause.
	Err error `json:"-"`
}

// NewStreamError creates a StreamError of the given kind wrapping err.
func NewStreamError(kind Kind, message string, err error) *StreamError {
	return &StreamError{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.StreamID != "" {
		msg = fmt.Sprintf("stream %s: %s", e.StreamID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the wrapped cause.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// WithStream returns a copy of the error scoped to a stream id.
func (e *StreamError) WithStream(id string) *StreamError {
	c := *e
	c.StreamID = id
	return &c
}

// ExchangeError represents a structured error body returned from a Binance
// REST endpoint or WebSocket frame, e.g. {"code":-2014,"msg":"API-key format invalid."}.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code from the response.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific error code.
	Code int `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[%s] %s (%d/%d): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, e.Message)
}

// Kind classifies the exchange error.
func (e *ExchangeError) Kind() Kind {
	if IsUnrepairableCode(e.Code) || e.StatusCode == 400 {
		return KindProtocolFatal
	}
	return KindTransient
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, errorType ErrorType, statusCode, code int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// KindOf returns the handling class of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind()
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsUnrepairable returns true if the error requires human action and the
// stream must not be restarted.
func IsUnrepairable(err error) bool {
	return KindOf(err) == KindProtocolFatal
}

// IsTransient returns true if the worker should restart after err.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown, KindListenKey:
		return true
	}
	return false
}

// IsConfigurationError returns true for errors raised synchronously on bad input.
func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}
