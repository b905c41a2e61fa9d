package chunkserver

import (
	"sync"
	"time"

	conaryerrors "github.com/conarylabs/conary/pkg/errors"
	"github.com/conarylabs/conary/pkg/log"
)

// breakerState is the state of an upstreamBreaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "CLOSED"
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breakerCounts tracks request outcomes within the breaker's current window.
type breakerCounts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *breakerCounts) onRequest() { c.Requests++ }

func (c *breakerCounts) onSuccess() {
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *breakerCounts) onFailure() {
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *breakerCounts) clear() {
	c.Requests = 0
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
}

// upstreamBreaker trips when pull-through upstream requests are failing
// enough that continuing to try only adds latency to the requesting
// client's GET. The server holds one breaker shared by every configured
// upstream: while it is open, fetchFromUpstream is skipped for each of
// them and pullThrough returns a not-found error.
type upstreamBreaker struct {
	name string

	maxHalfOpenRequests uint32
	openInterval        time.Duration
	openTimeout         time.Duration

	logger *log.Logger

	mu     sync.Mutex
	state  breakerState
	counts breakerCounts
	expiry time.Time
}

// newUpstreamBreaker builds a breaker that trips after 5 consecutive
// upstream failures and re-probes the upstream after timeout.
func newUpstreamBreaker(name string, timeout time.Duration, logger *log.Logger) *upstreamBreaker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &upstreamBreaker{
		name:                name,
		maxHalfOpenRequests: 1,
		openInterval:        timeout,
		openTimeout:         timeout,
		logger:              logger,
		state:               breakerClosed,
		expiry:              time.Now().Add(timeout),
	}
}

func errBreakerOpen(name string) error {
	return conaryerrors.New(conaryerrors.KindIO, "chunkserver: upstream circuit open").
		WithComponent("chunkserver").WithOperation("pull-through").
		WithDetail("upstream", name)
}

func errBreakerBusy(name string) error {
	return conaryerrors.New(conaryerrors.KindIO, "chunkserver: upstream circuit half-open, too many probes in flight").
		WithComponent("chunkserver").WithOperation("pull-through").
		WithDetail("upstream", name)
}

// Execute runs fn if the breaker is closed or half-open with a probe slot
// available, and records the outcome. It trips the breaker to open after 5
// consecutive failures, and closes it again after a successful half-open
// probe.
func (b *upstreamBreaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

func (b *upstreamBreaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)

	if state == breakerOpen {
		return errBreakerOpen(b.name)
	}
	if state == breakerHalfOpen && b.counts.Requests >= b.maxHalfOpenRequests {
		return errBreakerBusy(b.name)
	}
	b.counts.onRequest()
	return nil
}

func (b *upstreamBreaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)

	if err == nil {
		b.counts.onSuccess()
		if state == breakerHalfOpen {
			b.setStateLocked(breakerClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case breakerClosed:
		if b.counts.ConsecutiveFailures >= 5 {
			b.setStateLocked(breakerOpen, now)
		}
	case breakerHalfOpen:
		b.setStateLocked(breakerOpen, now)
	}
}

func (b *upstreamBreaker) currentStateLocked(now time.Time) breakerState {
	switch b.state {
	case breakerClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.openInterval)
		}
	case breakerOpen:
		if b.expiry.Before(now) {
			b.setStateLocked(breakerHalfOpen, now)
		}
	}
	return b.state
}

func (b *upstreamBreaker) setStateLocked(state breakerState, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	b.counts.clear()

	switch state {
	case breakerClosed:
		b.expiry = now.Add(b.openInterval)
	case breakerOpen:
		b.expiry = now.Add(b.openTimeout)
	case breakerHalfOpen:
		b.expiry = time.Time{}
	}

	if b.logger != nil {
		b.logger.Info("upstream circuit state changed", map[string]interface{}{
			"upstream": b.name, "from": prev.String(), "to": state.String(),
		})
	}
}

// State reports the breaker's current state, useful for the cache stats
// admin endpoint.
func (b *upstreamBreaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked(time.Now())
}
