// Package executor implements the worker pool that drains a study's
// pending jobs through the Recovery Manager (pkg/recovery) and writes
// their outcomes back to the repository. It runs a poll-or-kick loop: a
// periodic scan picks up work on its own, but a freshly admitted study is
// kicked so it starts draining immediately instead of waiting for the
// next tick.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/internal/telemetry"
	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/recovery"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/study"
	"github.com/benthamhq/bentham/pkg/surface"
)

// Pool is the Executor: it drains each active study in its own goroutine,
// claiming and running that study's pending jobs in batches of at most
// concurrency at a time.
type Pool struct {
	repo     repository.Repository
	recovery *recovery.Manager
	registry *surface.Registry
	logger   *slog.Logger

	concurrency  int
	pollInterval time.Duration

	kick     chan uuid.UUID
	inFlight sync.Map // studyID -> struct{}, prevents two goroutines draining the same study

	publisher Publisher
}

// New constructs a Pool. concurrency is the process-wide default worker
// count per study; a manifest's own Concurrency field overrides it.
func New(repo repository.Repository, mgr *recovery.Manager, registry *surface.Registry, logger *slog.Logger, concurrency int, pollInterval time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Pool{
		repo:         repo,
		recovery:     mgr,
		registry:     registry,
		logger:       logger,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		kick:         make(chan uuid.UUID, 256),
		publisher:    NewBroker(),
	}
}

// UsePublisher replaces the pool's outcome Publisher, e.g. with a
// RedisPublisher for cross-process fan-out. Call before Run; not safe to
// swap concurrently with job execution.
func (p *Pool) UsePublisher(pub Publisher) {
	p.publisher = pub
}

// Kick implements orchestrator.Runner: it signals the pool to start
// draining studyID's jobs without waiting for the next poll tick. Never
// blocks — a full kick channel just means the next scheduled scan will
// pick the study up instead.
func (p *Pool) Kick(studyID uuid.UUID) {
	select {
	case p.kick <- studyID:
	default:
	}
}

// Run drains active studies until ctx is cancelled, polling at
// pollInterval and reacting immediately to Kick signals in between.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("executor pool started", "concurrency", p.concurrency, "poll_interval", p.pollInterval)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("executor pool stopped")
			return
		case <-ticker.C:
			p.scan(ctx)
		case studyID := <-p.kick:
			p.dispatch(ctx, studyID)
		}
	}
}

func (p *Pool) scan(ctx context.Context) {
	studies, err := p.repo.FindActiveStudies(ctx)
	if err != nil {
		p.logger.Error("scanning for active studies", "error", err)
		return
	}
	for _, st := range studies {
		p.dispatch(ctx, st.ID)
	}
}

// dispatch starts draining studyID in its own goroutine unless one is
// already running for it.
func (p *Pool) dispatch(ctx context.Context, studyID uuid.UUID) {
	if _, already := p.inFlight.LoadOrStore(studyID, struct{}{}); already {
		return
	}
	go func() {
		defer p.inFlight.Delete(studyID)
		p.drainStudy(ctx, studyID)
	}()
}

// drainStudy repeatedly claims and runs batches of pending jobs for one
// study until it is paused, cancelled, completed, past its deadline, or
// out of pending work for now.
func (p *Pool) drainStudy(ctx context.Context, studyID uuid.UUID) {
	st, err := p.repo.FindStudyByID(ctx, studyID)
	if err != nil {
		p.logger.Error("loading study for execution", "study_id", studyID, "error", err)
		return
	}

	if st.Status == study.Queued {
		st = p.transitionToExecuting(ctx, st)
		if st == nil {
			return
		}
	}

	concurrency := st.Manifest.Concurrency
	if concurrency <= 0 {
		concurrency = p.concurrency
	}

	for {
		current, err := p.repo.FindStudyByID(ctx, studyID)
		if err != nil {
			p.logger.Error("reloading study", "study_id", studyID, "error", err)
			return
		}

		switch current.Status {
		case study.Cancelled:
			p.failRemainingPending(ctx, current, string(apierror.Cancelled))
			return
		case study.Paused, study.Completed, study.Failed:
			return
		case study.Executing:
		default:
			return
		}

		if !current.Manifest.Deadline.IsZero() && time.Now().After(current.Manifest.Deadline) {
			p.failStudyDeadline(ctx, current)
			return
		}

		pending, err := p.repo.FindPendingJobs(ctx, studyID)
		if err != nil {
			p.logger.Error("loading pending jobs", "study_id", studyID, "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		batch := pending
		if len(batch) > concurrency {
			batch = batch[:concurrency]
		}

		p.runBatch(ctx, current, batch)
	}
}

// runBatch runs one round of jobs concurrently, watching for the study
// being cancelled mid-round so in-flight cells abort promptly instead of
// waiting for the round to finish on its own.
func (p *Pool) runBatch(ctx context.Context, st *study.Study, batch []*job.Job) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, j := range batch {
		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			p.runCell(roundCtx, ctx, st, j)
		}(j)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := p.repo.FindStudyByID(ctx, st.ID)
			if err == nil && current.Status == study.Cancelled {
				cancel()
				<-done
				return
			}
		}
	}
}

// runCell claims, executes, and finalizes one (query, surface, location)
// cell. execCtx aborts the adapter call when the round is cancelled;
// writeCtx is the pool's own lifetime context, used for the repository
// writes that must still land even after execCtx dies.
func (p *Pool) runCell(execCtx, writeCtx context.Context, st *study.Study, j *job.Job) {
	pending, running := job.Pending, job.Running
	if err := p.repo.UpdateJob(writeCtx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &pending, Status: &running}); err != nil {
		return // claimed by another worker already
	}

	ref := surfaceRef(st.Manifest, j.SurfaceID)
	primary, err := p.registry.Resolve(j.SurfaceID, ref.Options)
	if err != nil {
		p.finishFailed(writeCtx, st, j, apierror.SurfaceUnavailable, 0)
		return
	}
	defer primary.Close(writeCtx)

	alternates := p.resolveAlternates(st.Manifest, j.SurfaceID)
	defer closeAdapters(writeCtx, alternates)

	cellCtx := execCtx
	if !st.Manifest.Deadline.IsZero() {
		var cancel context.CancelFunc
		cellCtx, cancel = context.WithDeadline(execCtx, st.Manifest.Deadline)
		defer cancel()
	}

	req := surface.Request{
		QueryText:        queryText(st.Manifest, j.QueryIndex),
		LocationOverride: j.LocationID,
	}

	result := p.recovery.Execute(cellCtx, j.SurfaceID, req, primary, alternates, nil)
	telemetry.RecoveryStrategyTotal.WithLabelValues(j.SurfaceID, string(result.Strategy)).Inc()
	telemetry.JobDuration.WithLabelValues(j.SurfaceID).Observe(result.TotalElapsed.Seconds())

	if result.Success {
		p.finishSucceeded(writeCtx, st, j, result)
		return
	}

	if execCtx.Err() != nil {
		// The round was aborted out from under this cell (study cancelled
		// or pool shutting down) — it never gets another chance to retry.
		p.finishFailed(writeCtx, st, j, apierror.Cancelled, 1)
		return
	}

	cause := lastErrorCode(result.Errors)
	if j.Attempts+1 > st.Manifest.CompletionCriteria.MaxRetriesPerCell {
		p.finishFailed(writeCtx, st, j, apierror.Code(cause), 1)
		return
	}
	p.requeue(writeCtx, st, j, cause)
}

func (p *Pool) finishSucceeded(ctx context.Context, st *study.Study, j *job.Job, result recovery.Result) {
	succeeded := job.Succeeded
	jobResult := toJobResult(result.Response, st.Manifest.QualityGates)

	if err := p.repo.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{Status: &succeeded, AttemptsDelta: 1, Result: jobResult}); err != nil {
		p.logger.Error("recording succeeded job", "job_id", j.ID, "error", err)
		return
	}
	if err := p.repo.UpdateStudyStatus(ctx, st.TenantID, st.ID, repository.StudyUpdate{CompletedDelta: 1}); err != nil {
		p.logger.Error("incrementing completed counter", "study_id", st.ID, "error", err)
	}
	telemetry.JobsExecutedTotal.WithLabelValues(j.SurfaceID, "succeeded").Inc()
	p.publisher.Publish(ctx, Event{StudyID: st.ID.String(), JobID: j.ID.String(), SurfaceID: j.SurfaceID, Status: "succeeded"})
	p.evaluateCompletion(ctx, st.TenantID, st.ID)
}

func (p *Pool) finishFailed(ctx context.Context, st *study.Study, j *job.Job, code apierror.Code, attemptsDelta int) {
	failed := job.Failed
	codeStr := string(code)
	if err := p.repo.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{Status: &failed, AttemptsDelta: attemptsDelta, LastErrorCode: &codeStr}); err != nil {
		p.logger.Error("recording failed job", "job_id", j.ID, "error", err)
		return
	}
	if err := p.repo.UpdateStudyStatus(ctx, st.TenantID, st.ID, repository.StudyUpdate{FailedDelta: 1}); err != nil {
		p.logger.Error("incrementing failed counter", "study_id", st.ID, "error", err)
	}
	telemetry.JobsExecutedTotal.WithLabelValues(j.SurfaceID, "failed").Inc()
	p.publisher.Publish(ctx, Event{StudyID: st.ID.String(), JobID: j.ID.String(), SurfaceID: j.SurfaceID, Status: "failed"})
	p.evaluateCompletion(ctx, st.TenantID, st.ID)
}

func (p *Pool) requeue(ctx context.Context, st *study.Study, j *job.Job, cause string) {
	pendingAgain := job.Pending
	if err := p.repo.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{Status: &pendingAgain, AttemptsDelta: 1, LastErrorCode: &cause}); err != nil {
		p.logger.Error("requeuing job", "job_id", j.ID, "error", err)
	}
}

// failRemainingPending marks every still-pending job failed with cause,
// used on cancellation: every remaining pending job transitions to failed
// with cause CANCELLED.
func (p *Pool) failRemainingPending(ctx context.Context, st *study.Study, cause string) {
	pending, err := p.repo.FindPendingJobs(ctx, st.ID)
	if err != nil {
		p.logger.Error("loading pending jobs for cancellation", "study_id", st.ID, "error", err)
		return
	}

	expected, target := job.Pending, job.Failed
	for _, j := range pending {
		if err := p.repo.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &expected, Status: &target, LastErrorCode: &cause}); err != nil {
			continue // claimed by a worker finishing its own in-flight attempt
		}
		if err := p.repo.UpdateStudyStatus(ctx, st.TenantID, st.ID, repository.StudyUpdate{FailedDelta: 1}); err != nil {
			p.logger.Error("incrementing failed counter on cancel", "study_id", st.ID, "error", err)
		}
		telemetry.JobsExecutedTotal.WithLabelValues(j.SurfaceID, "cancelled").Inc()
	}
}

func (p *Pool) failStudyDeadline(ctx context.Context, st *study.Study) {
	p.failStudyExecuting(ctx, st, apierror.DeadlineExceeded)
}

// failStudyExecuting CAS-transitions a study from executing to failed,
// recording cause as the failure reason.
func (p *Pool) failStudyExecuting(ctx context.Context, st *study.Study, cause apierror.Code) {
	expected, failedStatus := st.Status, study.Failed
	completedAt := true
	causeStr := string(cause)
	err := p.repo.UpdateStudyStatus(ctx, st.TenantID, st.ID, repository.StudyUpdate{
		ExpectedStatus: &expected, Status: &failedStatus, CompletedAt: &completedAt, FailureCause: &causeStr,
	})
	if err != nil {
		if err != repository.ErrConflict {
			p.logger.Error("failing study", "study_id", st.ID, "cause", cause, "error", err)
		}
		return
	}
	telemetry.StudiesCompletedTotal.WithLabelValues("failed").Inc()
	p.publisher.Publish(ctx, Event{StudyID: st.ID.String(), Status: "failed"})
}

// evaluateCompletion applies the study's completion criteria: every
// required surface's coverage ratio meets the threshold and every
// non-succeeded job has exhausted its retries. Once every job is
// terminal, the study resolves one way or the other — to completed if
// coverage was met, to failed if it wasn't — it never lingers in
// executing with nothing left to run.
func (p *Pool) evaluateCompletion(ctx context.Context, tenantID, studyID uuid.UUID) {
	st, err := p.repo.FindStudyByID(ctx, studyID)
	if err != nil || st.Status != study.Executing {
		return
	}

	jobs, err := p.repo.FindJobsByStudy(ctx, studyID)
	if err != nil {
		p.logger.Error("loading jobs for completion check", "study_id", studyID, "error", err)
		return
	}
	if !allJobsTerminal(st.Manifest, jobs) {
		return
	}
	if !completionCriteriaMet(st.Manifest, jobs) {
		p.failStudyExecuting(ctx, st, apierror.CoverageNotMet)
		return
	}

	expected, completed := study.Executing, study.Completed
	completedAt := true
	err = p.repo.UpdateStudyStatus(ctx, tenantID, studyID, repository.StudyUpdate{
		ExpectedStatus: &expected, Status: &completed, CompletedAt: &completedAt,
	})
	if err != nil {
		if err != repository.ErrConflict {
			p.logger.Error("completing study", "study_id", studyID, "error", err)
		}
		return
	}
	telemetry.StudiesCompletedTotal.WithLabelValues("completed").Inc()
	p.publisher.Publish(ctx, Event{StudyID: studyID.String(), Status: "completed"})
}

// allJobsTerminal reports whether every job has either succeeded or
// failed — i.e. nothing is left pending or running. A job with retries
// left is requeued as pending, so a failed job is final.
func allJobsTerminal(m manifest.Manifest, jobs []*job.Job) bool {
	for _, j := range jobs {
		if j.Status != job.Succeeded && j.Status != job.Failed {
			return false // still pending or running
		}
	}
	return true
}

// completionCriteriaMet reports whether coverage across every required
// surface meets the manifest's threshold. Callers check allJobsTerminal
// first; coverage is only meaningful once nothing is left to run.
func completionCriteriaMet(m manifest.Manifest, jobs []*job.Job) bool {
	type coverage struct{ total, succeeded int }
	bySurface := make(map[string]coverage, len(m.Surfaces))

	for _, j := range jobs {
		c := bySurface[j.SurfaceID]
		c.total++
		if j.Status == job.Succeeded {
			c.succeeded++
		}
		bySurface[j.SurfaceID] = c
	}

	for _, surfaceID := range m.CompletionCriteria.RequiredSurfaceIDs {
		c, ok := bySurface[surfaceID]
		if !ok || c.total == 0 {
			return false
		}
		if float64(c.succeeded)/float64(c.total) < m.CompletionCriteria.CoverageThreshold {
			return false
		}
	}
	return true
}

func (p *Pool) transitionToExecuting(ctx context.Context, st *study.Study) *study.Study {
	expected, executing := study.Queued, study.Executing
	started := true
	err := p.repo.UpdateStudyStatus(ctx, st.TenantID, st.ID, repository.StudyUpdate{
		ExpectedStatus: &expected, Status: &executing, StartedAt: &started,
	})
	if err == nil {
		st.Status = study.Executing
		return st
	}
	if err == repository.ErrConflict {
		fresh, ferr := p.repo.FindStudyByID(ctx, st.ID)
		if ferr != nil {
			return nil
		}
		return fresh
	}
	p.logger.Error("transitioning study to executing", "study_id", st.ID, "error", err)
	return nil
}

func (p *Pool) resolveAlternates(m manifest.Manifest, excludeSurfaceID string) []surface.Adapter {
	var out []surface.Adapter
	for _, s := range m.Surfaces {
		if s.SurfaceID == excludeSurfaceID {
			continue
		}
		a, err := p.registry.Resolve(s.SurfaceID, s.Options)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

func closeAdapters(ctx context.Context, adapters []surface.Adapter) {
	for _, a := range adapters {
		_ = a.Close(ctx)
	}
}

func surfaceRef(m manifest.Manifest, surfaceID string) manifest.SurfaceRef {
	for _, s := range m.Surfaces {
		if s.SurfaceID == surfaceID {
			return s
		}
	}
	return manifest.SurfaceRef{SurfaceID: surfaceID}
}

func queryText(m manifest.Manifest, index int) string {
	if index < 0 || index >= len(m.Queries) {
		return ""
	}
	return m.Queries[index].Text
}

func lastErrorCode(errs []string) string {
	if len(errs) == 0 {
		return string(apierror.Unknown)
	}
	return errs[len(errs)-1]
}

func toJobResult(resp *surface.Response, gates manifest.QualityGates) *job.Result {
	if resp == nil {
		return nil
	}

	r := &job.Result{
		Success:      resp.Success,
		ResponseText: resp.ResponseText,
		TotalMS:      resp.TotalMS,
		TTFBMS:       resp.TTFBMS,
	}
	for _, c := range resp.Citations {
		r.Citations = append(r.Citations, job.Citation{Title: c.Title, URL: c.URL})
	}
	if resp.TokenUsage != nil {
		r.TokenUsage = &job.TokenUsage{
			Input:        resp.TokenUsage.Input,
			Output:       resp.TokenUsage.Output,
			Total:        resp.TokenUsage.Total,
			CostEstimate: resp.TokenUsage.CostEstimate,
		}
	}

	isActualContent := r.ResponseText != ""
	passed := len(r.ResponseText) >= gates.MinResponseLength
	if gates.RequireActualContent {
		passed = passed && isActualContent
	}
	r.Validation = job.ValidationSummary{
		QualityGatesPassed: passed,
		IsActualContent:    isActualContent,
		Length:             len(r.ResponseText),
	}
	return r
}
