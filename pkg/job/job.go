// Package job holds the Job (cell) runtime record and its deterministic
// identity derivation.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// namespace is a fixed UUID namespace used to derive deterministic cell
// identities via uuid.NewSHA1, analogous to uuid.NameSpaceOID but scoped
// to this project so ids never collide with another system's.
var namespace = uuid.MustParse("6e746f6c-6f67-7962-656e-7468616d0001")

// DeriveID computes the deterministic id for the cell
// (studyID, queryIndex, surfaceID, locationID). Cell identity is the
// idempotency key: the same four inputs always yield the same job id,
// so re-admitting or re-deriving a study's job matrix is safe.
func DeriveID(studyID uuid.UUID, queryIndex int, surfaceID, locationID string) uuid.UUID {
	name := fmt.Sprintf("%s/%d/%s/%s", studyID, queryIndex, surfaceID, locationID)
	return uuid.NewSHA1(namespace, []byte(name))
}

// Citation is a single cited source in a response.
type Citation struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// TokenUsage captures input/output token counts and an estimated cost.
type TokenUsage struct {
	Input      int     `json:"input"`
	Output     int     `json:"output"`
	Total      int     `json:"total"`
	CostEstimate float64 `json:"costEstimate"`
}

// ValidationSummary is the outcome of applying a manifest's quality gates
// to a response.
type ValidationSummary struct {
	QualityGatesPassed bool `json:"qualityGatesPassed"`
	IsActualContent    bool `json:"isActualContent"`
	Length             int  `json:"length"`
}

// SessionContext records which adapter session served this cell.
type SessionContext struct {
	SessionID string `json:"sessionId,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Result is the immutable-once-written outcome of executing a cell.
type Result struct {
	Success bool `json:"success"`

	ResponseText string     `json:"responseText,omitempty"`
	Citations    []Citation `json:"citations,omitempty"`

	TotalMS int64  `json:"totalMs"`
	TTFBMS  *int64 `json:"ttfbMs,omitempty"`

	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`

	Validation ValidationSummary `json:"validation"`
	Session    SessionContext    `json:"session"`
}

// Job is the runtime record for one (query, surface, location) cell.
type Job struct {
	ID         uuid.UUID
	StudyID    uuid.UUID
	QueryIndex int
	SurfaceID  string
	LocationID string

	Status       Status
	Attempts     int
	LastErrorCode string // classified failure code, empty if none yet
	Result       *Result
}

// Cell identifies the (query, surface, location) triple this job covers.
type Cell struct {
	StudyID    uuid.UUID
	QueryIndex int
	SurfaceID  string
	LocationID string
}

func (c Cell) ID() uuid.UUID {
	return DeriveID(c.StudyID, c.QueryIndex, c.SurfaceID, c.LocationID)
}

// Age is a convenience for computing elapsed time since a reference
// instant (e.g. study creation).
func Age(since time.Time) time.Duration { return time.Since(since) }
