// Package study holds the Study runtime-state type and its status DAG.
// A Study is the admitted, running form of a tenant's Manifest.
package study

import (
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/manifest"
)

// Status is the study's lifecycle state. The wire/external name for
// Executing is "running" — External() performs that mapping; Status
// itself stays internal-canonical.
type Status string

const (
	Validating Status = "validating"
	Queued     Status = "queued"
	Executing  Status = "executing"
	Paused     Status = "paused"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Cancelled  Status = "cancelled"
)

// External returns the status name as exposed over the HTTP surface.
func (s Status) External() string {
	if s == Executing {
		return "running"
	}
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal edges of the status DAG.
var transitions = map[Status]map[Status]bool{
	Validating: {Queued: true, Failed: true},
	Queued:     {Executing: true, Failed: true, Cancelled: true},
	Executing:  {Paused: true, Completed: true, Failed: true, Cancelled: true},
	Paused:     {Executing: true, Failed: true, Cancelled: true},
	Completed:  {},
	Failed:     {},
	Cancelled:  {},
}

// CanTransition reports whether from -> to is a legal edge of the DAG.
func CanTransition(from, to Status) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Cost tracks a study's estimated and actual spend in a single currency.
type Cost struct {
	Currency  string             `json:"currency"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Total     float64            `json:"total"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"` // keyed by surface id
}

// Study is the runtime state for an admitted manifest.
//
// Status transitions are serialized via a compare-and-set discipline on
// the owning repository (repository.StudyUpdate.ExpectedStatus), so two
// concurrent pause calls cannot both succeed, without the domain type
// itself holding a lock: the in-memory repository enforces it under its
// own mutex, the Postgres repository with the expected status in the
// UPDATE statement's WHERE clause.
type Study struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Manifest manifest.Manifest

	Status Status

	TotalCells     int
	CompletedCells int
	FailedCells    int

	Cancelled bool // cooperative cancellation flag checked by Executor workers

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	EstimatedCost Cost
	ActualCost    Cost

	FailureCause string // e.g. "DEADLINE_EXCEEDED", set when Status becomes Failed
}

// PendingCells returns the number of cells neither completed nor failed.
func (s *Study) PendingCells() int {
	p := s.TotalCells - s.CompletedCells - s.FailedCells
	if p < 0 {
		return 0
	}
	return p
}

// CompletionPercentage rounds (completed+failed)/total to the nearest
// integer percentage.
func (s *Study) CompletionPercentage() int {
	if s.TotalCells == 0 {
		return 0
	}
	done := s.CompletedCells + s.FailedCells
	pct := float64(done) / float64(s.TotalCells) * 100
	return int(pct + 0.5)
}

// Clone returns a value copy safe to hand to callers outside the
// repository's own lock.
func (s *Study) Clone() Study {
	return *s
}
