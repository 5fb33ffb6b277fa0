// Package orchestrator implements the Study Orchestrator:
// admission, lifecycle transitions, and tenant-scoped status/results
// queries. It never talks to a repository's underlying driver directly —
// only through the repository.Repository interface — and never executes
// a job itself; it hands the emitted job matrix to a Runner and lets the
// Executor pool drain it.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/study"
)

// Runner is the Executor-side hook the Orchestrator kicks after admitting
// a study. Kick is non-blocking: it signals the worker pool to start
// claiming this study's jobs; it does not itself run anything.
type Runner interface {
	Kick(studyID uuid.UUID)
}

// Orchestrator implements the tenant-facing study operations.
type Orchestrator struct {
	repo      repository.Repository
	validator manifest.Validator
	runner    Runner
	now       func() time.Time
}

// New constructs an Orchestrator.
func New(repo repository.Repository, validator manifest.Validator, runner Runner) *Orchestrator {
	return &Orchestrator{repo: repo, validator: validator, runner: runner, now: time.Now}
}

// CreatedStudy is the result of a successful CreateStudy call.
type CreatedStudy struct {
	StudyID   uuid.UUID
	Status    string
	CreatedAt time.Time
}

// CreateStudy validates m, persists the Study and its job matrix, and
// kicks the Executor. On validation failure it returns apierror.ValidationError
// without persisting anything.
func (o *Orchestrator) CreateStudy(ctx context.Context, tenantID uuid.UUID, m manifest.Manifest) (*CreatedStudy, error) {
	result := o.validator.Validate(&m)
	if !result.OK {
		return nil, apierror.New(apierror.ValidationError, result.Errors[0])
	}

	now := o.now()
	st := &study.Study{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Manifest:   m,
		Status:     study.Validating,
		TotalCells: m.CellCount(),
		CreatedAt:  now,
	}

	if err := o.repo.CreateStudy(ctx, st); err != nil {
		return nil, fmt.Errorf("persisting study: %w", err)
	}

	if err := o.emitJobMatrix(ctx, st); err != nil {
		return nil, fmt.Errorf("emitting job matrix: %w", err)
	}

	queued := study.Queued
	if err := o.repo.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{Status: &queued}); err != nil {
		return nil, fmt.Errorf("transitioning study to queued: %w", err)
	}

	o.runner.Kick(st.ID)

	// The create response reports the study's state as admitted — validating
	// — rather than the queued state it has already moved to internally by
	// the time this call returns; callers learn of the queued/executing
	// transition through the status endpoint or event stream.
	return &CreatedStudy{StudyID: st.ID, Status: study.Validating.External(), CreatedAt: now}, nil
}

// emitJobMatrix creates one Job per (query, surface, location) cell, in
// lexicographic (query index, surface index, location index) order —
// a deterministic emission order, observable only as the initial pending
// layout since the Executor may run cells in any order afterward.
func (o *Orchestrator) emitJobMatrix(ctx context.Context, st *study.Study) error {
	m := st.Manifest
	for qi := range m.Queries {
		for _, surf := range m.Surfaces {
			for _, loc := range m.Locations {
				cell := job.Cell{StudyID: st.ID, QueryIndex: qi, SurfaceID: surf.SurfaceID, LocationID: loc.ID}
				j := &job.Job{
					ID:         cell.ID(),
					StudyID:    st.ID,
					QueryIndex: qi,
					SurfaceID:  surf.SurfaceID,
					LocationID: loc.ID,
					Status:     job.Pending,
				}
				if err := o.repo.CreateJob(ctx, j); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// StatusView is the tenant-facing status/progress projection of a Study.
type StatusView struct {
	StudyID              uuid.UUID
	Status                string
	TotalCells            int
	CompletedCells        int
	FailedCells           int
	PendingCells          int
	CompletionPercentage  int
	SurfaceBreakdown      map[string]SurfaceProgress
	CreatedAt             time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
}

// SurfaceProgress is per-surface cell coverage within a study.
type SurfaceProgress struct {
	Total     int
	Succeeded int
	Failed    int
}

// GetStudyStatus returns nil, nil when studyID does not exist or is not
// owned by tenantID — the two cases are indistinguishable by design;
// callers map a nil result to 404 STUDY_NOT_FOUND.
func (o *Orchestrator) GetStudyStatus(ctx context.Context, tenantID, studyID uuid.UUID) (*StatusView, error) {
	st, err := o.repo.FindStudy(ctx, tenantID, studyID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	jobs, err := o.repo.FindJobsByStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("loading jobs: %w", err)
	}

	breakdown := make(map[string]SurfaceProgress)
	for _, j := range jobs {
		p := breakdown[j.SurfaceID]
		p.Total++
		switch j.Status {
		case job.Succeeded:
			p.Succeeded++
		case job.Failed:
			p.Failed++
		}
		breakdown[j.SurfaceID] = p
	}

	return &StatusView{
		StudyID:              st.ID,
		Status:               st.Status.External(),
		TotalCells:           st.TotalCells,
		CompletedCells:       st.CompletedCells,
		FailedCells:          st.FailedCells,
		PendingCells:         st.PendingCells(),
		CompletionPercentage: st.CompletionPercentage(),
		SurfaceBreakdown:     breakdown,
		CreatedAt:            st.CreatedAt,
		StartedAt:            st.StartedAt,
		CompletedAt:          st.CompletedAt,
	}, nil
}

// CellResult is one row of a study's results listing.
type CellResult struct {
	JobID      uuid.UUID
	QueryText  string
	SurfaceID  string
	LocationID string
	Result     *job.Result
	Attempts   int
}

// ResultsSummary aggregates a study's cell results.
type ResultsSummary struct {
	Total                int
	SuccessfulQueries    int
	FailedQueries        int
	AverageResponseMS    float64
}

// ResultsView is the tenant-facing results projection of a Study.
type ResultsView struct {
	Cells   []CellResult
	Summary ResultsSummary
}

// GetStudyResults returns nil, nil when studyID does not exist or is not
// owned by tenantID, mirroring GetStudyStatus's ambiguity policy. Cells
// are returned in job-matrix order (query, surface, location).
func (o *Orchestrator) GetStudyResults(ctx context.Context, tenantID, studyID uuid.UUID) (*ResultsView, error) {
	st, err := o.repo.FindStudy(ctx, tenantID, studyID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	jobs, err := o.repo.FindJobsByStudy(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("loading jobs: %w", err)
	}

	// Repositories return jobs in no particular order; walk the matrix.
	byID := make(map[uuid.UUID]*job.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	ordered := make([]*job.Job, 0, len(jobs))
	for qi := range st.Manifest.Queries {
		for _, surf := range st.Manifest.Surfaces {
			for _, loc := range st.Manifest.Locations {
				if j, ok := byID[job.Cell{StudyID: st.ID, QueryIndex: qi, SurfaceID: surf.SurfaceID, LocationID: loc.ID}.ID()]; ok {
					ordered = append(ordered, j)
				}
			}
		}
	}
	jobs = ordered

	view := ResultsView{Cells: make([]CellResult, 0, len(jobs))}
	var totalMS int64
	var succeededWithTiming int

	for _, j := range jobs {
		queryText := ""
		if j.QueryIndex >= 0 && j.QueryIndex < len(st.Manifest.Queries) {
			queryText = st.Manifest.Queries[j.QueryIndex].Text
		}
		view.Cells = append(view.Cells, CellResult{
			JobID:      j.ID,
			QueryText:  queryText,
			SurfaceID:  j.SurfaceID,
			LocationID: j.LocationID,
			Result:     j.Result,
			Attempts:   j.Attempts,
		})

		view.Summary.Total++
		switch j.Status {
		case job.Succeeded:
			view.Summary.SuccessfulQueries++
			if j.Result != nil {
				totalMS += j.Result.TotalMS
				succeededWithTiming++
			}
		case job.Failed:
			view.Summary.FailedQueries++
		}
	}

	if succeededWithTiming > 0 {
		view.Summary.AverageResponseMS = float64(totalMS) / float64(succeededWithTiming)
	}

	return &view, nil
}

// CostView is the tenant-facing cost projection of a Study.
type CostView struct {
	Total     float64
	Currency  string
	Breakdown map[string]float64
}

// GetStudyCost returns nil, nil when studyID does not exist or is not
// owned by tenantID, mirroring GetStudyStatus's ambiguity policy. It
// reports the study's recorded actual cost when that has a non-zero total
// or a currency, and the recorded estimate otherwise; the currency
// defaults to USD. The Executor does not write actual cost per cell.
func (o *Orchestrator) GetStudyCost(ctx context.Context, tenantID, studyID uuid.UUID) (*CostView, error) {
	st, err := o.repo.FindStudy(ctx, tenantID, studyID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	cost := st.ActualCost
	if cost.Total == 0 && cost.Currency == "" {
		cost = st.EstimatedCost
	}
	currency := cost.Currency
	if currency == "" {
		currency = "USD"
	}

	return &CostView{Total: cost.Total, Currency: currency, Breakdown: cost.Breakdown}, nil
}

// PauseStudy transitions an executing study to paused. Returns false with
// a nil error for an unknown/unowned study, false with a apierror.Conflict
// error for a study that exists but isn't executing.
func (o *Orchestrator) PauseStudy(ctx context.Context, tenantID, studyID uuid.UUID) (bool, error) {
	return o.transition(ctx, tenantID, studyID, study.Executing, study.Paused, nil)
}

// ResumeStudy transitions a paused study back to executing.
func (o *Orchestrator) ResumeStudy(ctx context.Context, tenantID, studyID uuid.UUID) (bool, error) {
	ok, err := o.transition(ctx, tenantID, studyID, study.Paused, study.Executing, nil)
	if ok {
		o.runner.Kick(studyID)
	}
	return ok, err
}

// CancelStudy transitions a queued, executing or paused study to
// cancelled. Returns false with a apierror.Conflict error if the study
// exists but is already terminal or still validating (the DAG has no
// validating -> cancelled edge); false with a nil error if the study
// doesn't exist at all or isn't owned by tenantID.
func (o *Orchestrator) CancelStudy(ctx context.Context, tenantID, studyID uuid.UUID) (bool, error) {
	st, err := o.repo.FindStudy(ctx, tenantID, studyID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if st.Status.Terminal() || !study.CanTransition(st.Status, study.Cancelled) {
		return false, illegalTransitionErr(st.Status, study.Cancelled)
	}

	from := st.Status
	cancelled := true
	cancelledStatus := study.Cancelled
	err = o.repo.UpdateStudyStatus(ctx, tenantID, studyID, repository.StudyUpdate{
		ExpectedStatus: &from,
		Status:         &cancelledStatus,
		Cancelled:      &cancelled,
	})
	if err != nil {
		if isConflict(err) {
			return false, illegalTransitionErr(from, study.Cancelled)
		}
		return false, err
	}
	return true, nil
}

// transition applies a CAS-guarded from->to status change if from->to is a
// legal DAG edge. It returns false with a nil error when the study doesn't
// exist or isn't owned by tenantID — that case can't be distinguished from
// "never existed" and maps to 404 — and false with a apierror.Conflict
// error when the study exists but is in a status that can't reach to,
// which maps to 409.
func (o *Orchestrator) transition(ctx context.Context, tenantID, studyID uuid.UUID, from, to study.Status, extra func(*repository.StudyUpdate)) (bool, error) {
	st, err := o.repo.FindStudy(ctx, tenantID, studyID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if st.Status != from || !study.CanTransition(from, to) {
		return false, illegalTransitionErr(st.Status, to)
	}

	u := repository.StudyUpdate{ExpectedStatus: &from, Status: &to}
	if extra != nil {
		extra(&u)
	}

	if err := o.repo.UpdateStudyStatus(ctx, tenantID, studyID, u); err != nil {
		if isConflict(err) {
			return false, illegalTransitionErr(from, to)
		}
		return false, err
	}
	return true, nil
}

func illegalTransitionErr(from, to study.Status) error {
	return apierror.New(apierror.Conflict, fmt.Sprintf("cannot transition study from %s to %s", from, to))
}

func isNotFound(err error) bool { return err == repository.ErrNotFound }
func isConflict(err error) bool { return err == repository.ErrConflict }
