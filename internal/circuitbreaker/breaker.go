package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	Name             string        `json:"name"`
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// Breaker guards an unreliable dependency, here the listen-key REST API.
// After FailThreshold consecutive failures it rejects calls for Timeout,
// then lets calls through half-open until SuccessThreshold of them succeed.
type Breaker struct {
	name             string
	failThreshold    int
	successThreshold int
	timeout          time.Duration
	onStateChange    func(name string, from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time

	metrics *Metrics
}

type Metrics struct {
	totalRequests    atomic.Int64
	successRequests  atomic.Int64
	failedRequests   atomic.Int64
	rejectedRequests atomic.Int64
	stateChanges     atomic.Int32
}

func New(config Config) *Breaker {
	return &Breaker{
		name:             config.Name,
		failThreshold:    max(config.FailThreshold, 1),
		successThreshold: max(config.SuccessThreshold, 1),
		timeout:          config.Timeout,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		now:              time.Now,
		metrics:          &Metrics{},
	}
}

// Allow reports whether a call may proceed. An open breaker whose timeout
// has elapsed moves to half-open and allows the call.
func (b *Breaker) Allow() bool {
	b.metrics.totalRequests.Add(1)

	b.mu.Lock()
	var from State
	changed := false
	allowed := true
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.timeout {
			from, changed = b.transitionLocked(StateHalfOpen)
		} else {
			allowed = false
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	if !allowed {
		b.metrics.rejectedRequests.Add(1)
	}
	return allowed
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	if success {
		b.metrics.successRequests.Add(1)
	} else {
		b.metrics.failedRequests.Add(1)
	}

	b.mu.Lock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		b.transitionLocked(StateHalfOpen)
	}

	from := b.state
	to := b.state
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.failThreshold {
				to = StateOpen
			}
		}
	case StateHalfOpen:
		if success {
			b.successes++
			if b.successes >= b.successThreshold {
				to = StateClosed
			}
		} else {
			to = StateOpen
		}
	}
	if to != from {
		b.transitionLocked(to)
	}
	b.mu.Unlock()

	if to != from {
		b.notify(from, to)
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Errors for which isFailure returns false count as successes; a nil
// isFailure counts every error.
func (b *Breaker) Execute(fn func() error, isFailure func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	b.Record(!failed)
	return err
}

func (b *Breaker) transitionLocked(to State) (State, bool) {
	from := b.state
	if from == to {
		return from, false
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	b.metrics.stateChanges.Add(1)
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:    b.metrics.totalRequests.Load(),
		SuccessRequests:  b.metrics.successRequests.Load(),
		FailedRequests:   b.metrics.failedRequests.Load(),
		RejectedRequests: b.metrics.rejectedRequests.Load(),
		StateChanges:     b.metrics.stateChanges.Load(),
		CurrentState:     b.State().String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	RejectedRequests int64
	StateChanges     int32
	CurrentState     string
}
