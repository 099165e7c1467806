// Package circuitbreaker guards each upstream endpoint against repeated
// failures. After a run of consecutive failures the breaker opens and blocks
// requests for a cooldown; the first request after the cooldown runs in a
// half-open trial state, and enough trial successes close the breaker again.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Failure threshold exceeded, requests blocked
	StateHalfOpen              // Testing if the endpoint recovered
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

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// CircuitBreaker tracks consecutive failures against one named endpoint.
// All operations take the exclusive lock; hold times are short and each
// endpoint has its own breaker, so contention is negligible.
type CircuitBreaker struct {
	name string

	failureThreshold uint32
	resetTimeout     time.Duration
	successThreshold uint32

	mu              sync.Mutex
	state           State
	failureCount    uint32
	successCount    uint32
	lastFailure     time.Time // zero until the first failure
	lastStateChange time.Time
	totalTrips      uint64
}

// New creates a breaker that trips after failureThreshold consecutive
// failures, blocks for resetTimeout, and needs successThreshold half-open
// successes to close again.
func New(name string, failureThreshold uint32, resetTimeout time.Duration, successThreshold uint32) *CircuitBreaker {
	log.WithFields(log.Fields{
		"name":              name,
		"failure_threshold": failureThreshold,
		"reset_timeout":     resetTimeout,
		"success_threshold": successThreshold,
	}).Info("circuit breaker initialized")

	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		successThreshold: successThreshold,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a request may proceed. While open, the first call
// after the reset timeout flips the breaker to half-open and lets a single
// test request through; earlier calls are blocked.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.lastFailure.IsZero() {
			// Open without a recorded failure time; let it through.
			return true
		}
		elapsed := time.Since(cb.lastFailure)
		if elapsed < cb.resetTimeout {
			log.WithFields(log.Fields{
				"name":     cb.name,
				"retry_in": (cb.resetTimeout - elapsed).Round(time.Second),
			}).Warn("circuit breaker open, request blocked")
			return false
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.lastStateChange = time.Now()
		log.WithField("name", cb.name).Info("circuit breaker transitioning OPEN -> HALF_OPEN")
		return true
	}
	return true
}

// RecordSuccess notes a successful request. A success while closed breaks
// the consecutive-failure run; enough successes while half-open close the
// breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.lastStateChange = time.Now()
			log.WithField("name", cb.name).Info("circuit breaker transitioning HALF_OPEN -> CLOSED")
		}
	case StateOpen:
		log.WithField("name", cb.name).Warn("success recorded while circuit is open")
	}
}

// RecordFailure notes a failed request. Failures while open re-stamp the
// failure time, which extends the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.lastFailure = time.Now()
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.totalTrips++
			cb.lastStateChange = time.Now()
			log.WithFields(log.Fields{
				"name":     cb.name,
				"failures": cb.failureCount,
			}).Warn("circuit breaker tripped, CLOSED -> OPEN")
		} else {
			log.WithFields(log.Fields{
				"name":      cb.name,
				"failures":  cb.failureCount,
				"threshold": cb.failureThreshold,
			}).Warn("failure recorded")
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.failureCount = cb.failureThreshold // stays maxed until a recovery
		cb.lastFailure = time.Now()
		cb.totalTrips++
		cb.lastStateChange = time.Now()
		log.WithField("name", cb.name).Warn("test request failed, HALF_OPEN -> OPEN")
	case StateOpen:
		cb.lastFailure = time.Now()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TotalTrips returns how many times this breaker has opened.
func (cb *CircuitBreaker) TotalTrips() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalTrips
}

// Snapshot is a point-in-time view of one breaker for the ops endpoints.
type Snapshot struct {
	Name                   string `json:"name"`
	State                  string `json:"state"`
	FailureCount           uint32 `json:"failure_count"`
	SuccessCount           uint32 `json:"success_count"`
	TotalTrips             uint64 `json:"total_trips"`
	TimeInCurrentStateSecs uint64 `json:"time_in_current_state_secs"`
}

// Snapshot captures the current counters and time in state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                   cb.name,
		State:                  cb.state.String(),
		FailureCount:           cb.failureCount,
		SuccessCount:           cb.successCount,
		TotalTrips:             cb.totalTrips,
		TimeInCurrentStateSecs: uint64(time.Since(cb.lastStateChange).Seconds()),
	}
}

// ============================================================================
// CIRCUIT BREAKER MANAGER
// ============================================================================

// Manager hands out one breaker per endpoint, all sharing the configured
// thresholds.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold uint32
	resetTimeout     time.Duration
	successThreshold uint32
}

// NewManager creates a manager whose breakers all use the given thresholds.
func NewManager(failureThreshold uint32, resetTimeout time.Duration, successThreshold uint32) *Manager {
	return &Manager{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		successThreshold: successThreshold,
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cb = New(name, m.failureThreshold, m.resetTimeout, m.successThreshold)
	m.breakers[name] = cb
	return cb
}

// Snapshots returns the snapshots of all breakers, ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(m.breakers))
	for _, cb := range m.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// TotalTrips sums trip counts across all breakers.
func (m *Manager) TotalTrips() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, cb := range m.breakers {
		total += cb.TotalTrips()
	}
	return total
}
