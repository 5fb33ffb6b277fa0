// Package recovery implements a per-surface failover chain: primary
// adapter with typed-backoff retries, an optional CDP-fallback function,
// an ordered list of alternative adapters, and a circuit breaker + health
// record shared by every caller for a surface.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/surface"
)

// Config tunes the Manager's retry/backoff/circuit-breaker behavior.
type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Threshold   int           // consecutive failures before the breaker opens
	ResetMs     time.Duration // time the breaker stays open before half-open
}

// DefaultConfig returns the manager's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Threshold:  5,
		ResetMs:    60 * time.Second,
	}
}

// Strategy names how a RecoveryResult's success was achieved.
type Strategy string

const (
	StrategyPrimary        Strategy = "primary"
	StrategyCDPFallback    Strategy = "cdp_fallback"
	StrategyAlternative    Strategy = "alternative_surface"
	StrategyNone           Strategy = ""
)

// Result is the outcome of one Manager.Execute call.
type Result struct {
	Success      bool
	Strategy     Strategy
	Attempts     int
	TotalElapsed time.Duration
	Errors       []string // ordered classified error strings, one per failed attempt
	Response     *surface.Response
}

// CDPFallback is invoked once, after the primary chain is exhausted, if
// configured for the call.
type CDPFallback func(ctx context.Context, req surface.Request) (surface.Response, error)

// surfaceState bundles the circuit breaker and health record for one
// surface. Process-wide, shared by every Executor worker — guarded
// internally by gobreaker's own locking plus a mutex over the Health
// snapshot fields that gobreaker does not track (LastErrorCode).
type surfaceState struct {
	breaker *gobreaker.CircuitBreaker[surface.Response]

	mu            sync.Mutex
	lastSuccess   *time.Time
	lastFailure   *time.Time
	lastErrorCode string
}

// Manager is the per-process Recovery Manager. One instance is shared by
// every Executor worker; per-surface state lives in a map guarded by its
// own RWMutex so reads (the common case — one breaker check per call)
// rarely contend with the rare write of registering a new surface.
type Manager struct {
	cfg Config

	mu     sync.RWMutex
	states map[string]*surfaceState
}

// NewManager constructs a Manager with the given tuning.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, states: make(map[string]*surfaceState)}
}

func (m *Manager) stateFor(surfaceID string) *surfaceState {
	m.mu.RLock()
	st, ok := m.states[surfaceID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[surfaceID]; ok {
		return st
	}

	settings := gobreaker.Settings{
		Name:        surfaceID,
		MaxRequests: 1,
		Interval:    0, // never reset closed-state counts on a timer; only on success
		Timeout:     m.cfg.ResetMs,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(m.cfg.Threshold)
		},
	}
	st = &surfaceState{breaker: gobreaker.NewCircuitBreaker[surface.Response](settings)}
	m.states[surfaceID] = st
	return st
}

// Health returns a point-in-time copy of surfaceID's health record.
func (m *Manager) Health(surfaceID string) surface.Health {
	st := m.stateFor(surfaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var circuitState surface.CircuitState
	switch st.breaker.State() {
	case gobreaker.StateOpen:
		circuitState = surface.CircuitOpen
	case gobreaker.StateHalfOpen:
		circuitState = surface.CircuitHalfOpen
	default:
		circuitState = surface.CircuitClosed
	}

	counts := st.breaker.Counts()
	return surface.Health{
		SurfaceID:     surfaceID,
		LastSuccess:   st.lastSuccess,
		LastFailure:   st.lastFailure,
		FailureCount:  int(counts.ConsecutiveFailures),
		Circuit:       circuitState,
		LastErrorCode: st.lastErrorCode,
	}
}

// Execute runs the failover chain for one cell's query against one
// surface: primary adapter with typed-backoff retries, then an optional
// CDP fallback, then ordered alternative adapters.
func (m *Manager) Execute(ctx context.Context, surfaceID string, req surface.Request, primary surface.Adapter, alternatives []surface.Adapter, cdpFallback CDPFallback) Result {
	start := time.Now()
	st := m.stateFor(surfaceID)

	result := Result{}

	resp, err := st.breaker.Execute(func() (surface.Response, error) {
		return m.runPrimaryWithRetries(ctx, req, primary, &result)
	})
	if err == nil {
		result.Success = true
		result.Strategy = StrategyPrimary
		result.Response = &resp
		st.recordSuccess()
		result.TotalElapsed = time.Since(start)
		return result
	}

	if errors.Is(err, gobreaker.ErrOpenState) {
		result.Errors = append(result.Errors, string(apierror.CircuitOpen))
		result.TotalElapsed = time.Since(start)
		return result
	}

	if ctx.Err() != nil {
		result.TotalElapsed = time.Since(start)
		return result
	}

	if cdpFallback != nil {
		cdpResp, cdpErr := cdpFallback(ctx, req)
		if cdpErr == nil && cdpResp.Success {
			result.Success = true
			result.Strategy = StrategyCDPFallback
			result.Response = &cdpResp
			st.recordSuccess()
			st.absorbFallbackSuccess(cdpResp)
			result.TotalElapsed = time.Since(start)
			return result
		}
		if cdpErr != nil {
			result.Errors = append(result.Errors, string(Classify(cdpErr)))
		}
	}

	for _, alt := range alternatives {
		if ctx.Err() != nil {
			break
		}
		altResp, altErr := alt.Query(ctx, req)
		result.Attempts++
		if altErr == nil && altResp.Success {
			result.Success = true
			result.Strategy = StrategyAlternative
			result.Response = &altResp
			st.recordSuccess()
			st.absorbFallbackSuccess(altResp)
			result.TotalElapsed = time.Since(start)
			return result
		}
		if altErr != nil {
			result.Errors = append(result.Errors, string(Classify(altErr)))
		}
	}

	st.recordFailure(lastCode(result.Errors))
	result.TotalElapsed = time.Since(start)
	return result
}

// absorbFallbackSuccess tells the breaker about a successful CDP-fallback
// or alternative-adapter outcome, so a primary failure that a fallback
// covers doesn't, by itself, push the surface toward tripping — the
// breaker only sees a net failure once CDP and every alternative has
// also failed. It's a no-op if the breaker is open, which can't happen
// here: an open breaker short-circuits Execute before any fallback runs.
func (st *surfaceState) absorbFallbackSuccess(resp surface.Response) {
	st.breaker.Execute(func() (surface.Response, error) { return resp, nil })
}

// runPrimaryWithRetries makes up to maxRetries attempts against the
// primary adapter, classifying each failure and deciding whether/how
// long to wait before the next attempt.
func (m *Manager) runPrimaryWithRetries(ctx context.Context, req surface.Request, primary surface.Adapter, result *Result) (surface.Response, error) {
	var lastErr error

	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return surface.Response{}, ctx.Err()
		}

		resp, err := primary.Query(ctx, req)
		result.Attempts++

		if err == nil && resp.Success {
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("adapter reported unsuccessful response")
		}

		code := Classify(err)
		result.Errors = append(result.Errors, string(code))
		lastErr = err

		switch code {
		case apierror.AntiBot, apierror.SessionExpired:
			return surface.Response{}, lastErr
		case apierror.UpstreamRateLimit:
			if !sleepCancellable(ctx, rateLimitDelay(m.cfg, attempt)) {
				return surface.Response{}, ctx.Err()
			}
		default:
			if !sleepCancellable(ctx, m.cfg.BaseDelay) {
				return surface.Response{}, ctx.Err()
			}
		}
	}

	return surface.Response{}, lastErr
}

// rateLimitDelay computes min(base*2^attempt + jitter, cap) using
// cenkalti/backoff's exponential backoff for the base progression, with
// the doubling driven explicitly by attempt.
func rateLimitDelay(cfg Config, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.Reset()

	delay := eb.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	if delay <= 0 || delay == backoff.Stop {
		delay = cfg.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(cfg.BaseDelay) + 1))
	delay += jitter
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// sleepCancellable waits d or returns false immediately if ctx is
// cancelled first — the cancellation suspension point checked before
// each retry sleep.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func lastCode(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[len(errs)-1]
}

func (st *surfaceState) recordSuccess() {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.lastSuccess = &now
	st.lastErrorCode = ""
}

func (st *surfaceState) recordFailure(code string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.lastFailure = &now
	st.lastErrorCode = code
}
