// Package surface defines the uniform Adapter contract every queryable
// AI endpoint implements, whether it is a REST JSON API, a browser-driven
// chatbot adapter, or a CDP-mediated fallback that drives an existing
// tab. The core depends only on this interface; concrete adapters are
// external collaborators — pkg/surface/httpadapter and pkg/surface/mockadapter
// are the two families the core ships to exercise the contract in tests
// and local runs.
package surface

import (
	"context"
	"time"
)

// Request is one query to execute against a surface.
type Request struct {
	QueryText          string
	ModelOverride      string
	SystemPrompt       string
	ConversationHistory []string
	Temperature        *float64
	MaxTokens           *int
	LocationOverride    string
	EvidenceDirectives  map[string]any
}

// Citation mirrors job.Citation without importing pkg/job, keeping the
// adapter contract free of a dependency on the job-matrix package.
type Citation struct {
	Title string
	URL   string
}

// TokenUsage mirrors job.TokenUsage for the same reason.
type TokenUsage struct {
	Input        int
	Output       int
	Total        int
	CostEstimate float64
}

// Response is the result of one Query call. Adapters report a failure
// through Query's error return, which pkg/recovery/classify.go maps to a
// stable code; the adapters in this module do not set Err.
type Response struct {
	Success bool

	ResponseText string
	Citations    []Citation

	TotalMS int64
	TTFBMS  *int64

	TokenUsage *TokenUsage
	RawProvenance []byte

	Err error
}

// Adapter is the uniform capability surface every AI endpoint exposes.
// Implementations must make Query safe for concurrent use by multiple
// Executor workers (the Recovery Manager never shares one in-flight call
// across workers, but a surface's adapter instance may be invoked by
// several workers concurrently for different cells).
type Adapter interface {
	// Query executes req and returns a Response. It must respect ctx
	// cancellation promptly: every suspension point (network I/O,
	// internal waits) observes ctx.Done().
	Query(ctx context.Context, req Request) (Response, error)

	// HealthCheck performs a minimal synthetic query to verify the
	// surface is reachable and responsive.
	HealthCheck(ctx context.Context) error

	// Close releases any session resources the adapter holds. Safe to
	// call multiple times.
	Close(ctx context.Context) error
}

// Factory constructs an Adapter for a given surface id and per-surface
// options taken from the manifest's SurfaceRef.Options. Factories are
// registered at process start (see Registry) and never mutated at
// runtime.
type Factory func(surfaceID string, options map[string]any) (Adapter, error)

// CircuitState mirrors the three states a per-surface circuit breaker
// can be in; re-exported here so callers outside pkg/recovery can read
// SurfaceHealth.Circuit without importing gobreaker directly.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Health is the per-surface health record: a process-wide, shared
// read/write structure. Callers obtain a point-in-time copy from
// recovery.Manager.Health(surfaceID); the mutable original is never
// handed out.
type Health struct {
	SurfaceID        string
	LastSuccess      *time.Time
	LastFailure      *time.Time
	FailureCount     int
	Circuit          CircuitState
	LastErrorCode    string
}
