// Package repository defines the storage interfaces the Orchestrator and
// Executor depend on. The persistence backend itself is an external
// collaborator; this package
// only names the contract. pkg/repository/memstore and
// pkg/repository/postgres are two concrete implementations shipped so
// the core is runnable without an external dependency in tests and in
// small deployments.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/study"
)

// ErrNotFound is returned by FindX methods when no matching, tenant-owned
// record exists. Callers must treat "does not exist" and "exists but
// belongs to another tenant" identically — both surface as ErrNotFound
// from a tenant-scoped Find call.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict is returned by a compare-and-set Update call whose
// expected prior state did not match (e.g. claiming an already-claimed
// job).
var ErrConflict = errors.New("repository: conflict")

// StudyUpdate is a sparse set of fields to apply to a study. Only
// non-nil fields are written; counters are applied as deltas so
// concurrent Executor workers can update them without clobbering each
// other: an atomic delta update, last-writer-wins semantics applying
// only to strictly additive counters.
type StudyUpdate struct {
	ExpectedStatus *study.Status // CAS guard; nil means unconditional
	Status         *study.Status
	CompletedDelta int
	FailedDelta    int
	StartedAt      *bool // set StartedAt=now if true and not already set
	CompletedAt    *bool
	Cancelled      *bool
	FailureCause   *string
	ActualCost     *study.Cost
}

// StudyRepository persists Study records, scoped to the owning tenant on
// every read.
type StudyRepository interface {
	CreateStudy(ctx context.Context, s *study.Study) error
	// FindStudy returns ErrNotFound if the study does not exist or is
	// not owned by tenantID — the two cases are indistinguishable by
	// design.
	FindStudy(ctx context.Context, tenantID, studyID uuid.UUID) (*study.Study, error)
	// UpdateStudyStatus applies u to the study. If u.ExpectedStatus is
	// non-nil and the stored status does not match, it returns
	// ErrConflict and applies nothing — this is the CAS guard two
	// concurrent pause/resume/cancel calls race against.
	UpdateStudyStatus(ctx context.Context, tenantID, studyID uuid.UUID, u StudyUpdate) error
	FindStudiesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*study.Study, error)
	// FindStudyByID looks up a study without a tenant check. It exists for
	// the Executor, which discovers work by study id alone and must never
	// be handed a tenant-scoping responsibility — that stays the
	// Gateway/Orchestrator's job. Never call this from a tenant-facing path.
	FindStudyByID(ctx context.Context, studyID uuid.UUID) (*study.Study, error)
	// FindActiveStudies returns every study in queued or executing status,
	// across all tenants, for the Executor's work-discovery scan.
	FindActiveStudies(ctx context.Context) ([]*study.Study, error)
}

// JobUpdate is a sparse set of fields to apply to a job via a
// compare-and-set Update.
type JobUpdate struct {
	ExpectedStatus *job.Status // CAS guard; nil means unconditional
	Status         *job.Status
	AttemptsDelta  int
	LastErrorCode  *string
	Result         *job.Result
}

// JobRepository persists Job records for a study.
type JobRepository interface {
	CreateJob(ctx context.Context, j *job.Job) error
	FindJob(ctx context.Context, studyID, jobID uuid.UUID) (*job.Job, error)
	// UpdateJob applies u to the job. If u.ExpectedStatus is non-nil and
	// the stored status does not match, UpdateJob returns ErrConflict
	// and applies nothing — this is the worker-claim compare-and-set a
	// job transitions through before execution begins.
	UpdateJob(ctx context.Context, studyID, jobID uuid.UUID, u JobUpdate) error
	FindJobsByStudy(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error)
	FindPendingJobs(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error)
}

// Repository bundles both interfaces; most callers (Orchestrator,
// Executor) depend on this rather than the two halves separately.
type Repository interface {
	StudyRepository
	JobRepository
}
