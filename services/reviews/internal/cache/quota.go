package cache

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQuotaExceeded is returned when an API has used its call budget for the current window.
	ErrQuotaExceeded = errors.New("cache: api quota exceeded")

	// ErrBackingOff is returned while an API is cooling down after failures.
	ErrBackingOff = errors.New("cache: api backing off after failures")
)

// QuotaConfig bounds calls to one upstream API.
type QuotaConfig struct {
	Limit       int
	Window      time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultQuotaConfig allows 60 calls a minute with backoff from 1s up to 5m.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Limit:       60,
		Window:      time.Minute,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

type apiState struct {
	cfg          QuotaConfig
	windowStart  time.Time
	calls        int
	failures     int
	backoffUntil time.Time
}

// QuotaTracker counts calls per API in fixed windows and enforces an
// exponential backoff after consecutive failures.
type QuotaTracker struct {
	mu       sync.Mutex
	defaults QuotaConfig
	apis     map[string]*apiState
	now      func() time.Time
}

// NewQuotaTracker creates a tracker whose unknown APIs use defaults.
func NewQuotaTracker(defaults QuotaConfig) *QuotaTracker {
	return &QuotaTracker{
		defaults: defaults,
		apis:     make(map[string]*apiState),
		now:      time.Now,
	}
}

// Configure sets the quota for api, resetting its counters.
func (q *QuotaTracker) Configure(api string, cfg QuotaConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.apis[api] = &apiState{cfg: cfg}
}

func (q *QuotaTracker) state(api string) *apiState {
	st, ok := q.apis[api]
	if !ok {
		st = &apiState{cfg: q.defaults}
		q.apis[api] = st
	}
	return st
}

// Acquire reserves one call to api. It fails while the API is backing off or
// its window budget is spent.
func (q *QuotaTracker) Acquire(api string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	st := q.state(api)

	if now.Before(st.backoffUntil) {
		return ErrBackingOff
	}
	if st.cfg.Window > 0 && now.Sub(st.windowStart) >= st.cfg.Window {
		st.windowStart = now
		st.calls = 0
	}
	if st.cfg.Limit > 0 && st.calls >= st.cfg.Limit {
		return ErrQuotaExceeded
	}
	st.calls++
	return nil
}

// RecordSuccess clears the failure streak of api.
func (q *QuotaTracker) RecordSuccess(api string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.state(api)
	st.failures = 0
	st.backoffUntil = time.Time{}
}

// RecordFailure extends the backoff of api, doubling per consecutive failure.
// It returns the backoff applied.
func (q *QuotaTracker) RecordFailure(api string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.state(api)
	st.failures++

	d := st.cfg.BaseBackoff
	for i := 1; i < st.failures && d < st.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if st.cfg.MaxBackoff > 0 && d > st.cfg.MaxBackoff {
		d = st.cfg.MaxBackoff
	}
	st.backoffUntil = q.now().Add(d)
	return d
}

// Remaining returns the calls left in the current window of api.
func (q *QuotaTracker) Remaining(api string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.state(api)
	if st.cfg.Limit <= 0 {
		return -1
	}
	if st.cfg.Window > 0 && q.now().Sub(st.windowStart) >= st.cfg.Window {
		return st.cfg.Limit
	}
	return max(0, st.cfg.Limit-st.calls)
}
