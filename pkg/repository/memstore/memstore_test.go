package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/repository/memstore"
	"github.com/benthamhq/bentham/pkg/study"
)

func newStudy(tenantID uuid.UUID) *study.Study {
	return &study.Study{
		ID:       uuid.New(),
		TenantID: tenantID,
		Manifest: manifest.Manifest{Name: "m"},
		Status:   study.Queued,
	}
}

func TestFindStudyScopesToTenant(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	owner, intruder := uuid.New(), uuid.New()

	st := newStudy(owner)
	if err := s.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	if _, err := s.FindStudy(ctx, owner, st.ID); err != nil {
		t.Errorf("FindStudy by owner: %v", err)
	}
	if _, err := s.FindStudy(ctx, intruder, st.ID); err != repository.ErrNotFound {
		t.Errorf("FindStudy by non-owner: got %v, want ErrNotFound", err)
	}
}

func TestUpdateStudyStatusCASConflict(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tenantID := uuid.New()
	st := newStudy(tenantID)
	if err := s.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	wrongExpected, target := study.Paused, study.Executing
	err := s.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{ExpectedStatus: &wrongExpected, Status: &target})
	if err != repository.ErrConflict {
		t.Fatalf("stale CAS: got %v, want ErrConflict", err)
	}

	correctExpected := study.Queued
	if err := s.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{ExpectedStatus: &correctExpected, Status: &target}); err != nil {
		t.Fatalf("valid CAS: %v", err)
	}
}

func TestUpdateStudyStatusAppliesDeltasAndTimestampsOnce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	tenantID := uuid.New()
	st := newStudy(tenantID)
	if err := s.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	started := true
	if err := s.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{CompletedDelta: 1, StartedAt: &started}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{CompletedDelta: 2, StartedAt: &started}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := s.FindStudy(ctx, tenantID, st.ID)
	if err != nil {
		t.Fatalf("FindStudy: %v", err)
	}
	if got.CompletedCells != 3 {
		t.Errorf("CompletedCells = %d, want 3 (delta accumulates)", got.CompletedCells)
	}
	if got.StartedAt == nil {
		t.Fatal("StartedAt should be set")
	}
	firstStartedAt := *got.StartedAt

	time.Sleep(time.Millisecond)
	if err := s.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{StartedAt: &started}); err != nil {
		t.Fatalf("third update: %v", err)
	}
	got, _ = s.FindStudy(ctx, tenantID, st.ID)
	if !got.StartedAt.Equal(firstStartedAt) {
		t.Error("StartedAt should not move once already set")
	}
}

func TestUpdateJobClaimIsCompareAndSet(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	st := newStudy(uuid.New())
	if err := s.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	j := &job.Job{ID: uuid.New(), StudyID: st.ID, SurfaceID: "chatgpt", LocationID: "us-east", Status: job.Pending}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	pending, running := job.Pending, job.Running
	if err := s.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &pending, Status: &running}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &pending, Status: &running}); err != repository.ErrConflict {
		t.Errorf("second claim: got %v, want ErrConflict", err)
	}
}

func TestFindPendingJobsFiltersByStatus(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	st := newStudy(uuid.New())
	if err := s.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	pendingJob := &job.Job{ID: uuid.New(), StudyID: st.ID, SurfaceID: "chatgpt", Status: job.Pending}
	succeededJob := &job.Job{ID: uuid.New(), StudyID: st.ID, SurfaceID: "chatgpt", Status: job.Succeeded}
	if err := s.CreateJob(ctx, pendingJob); err != nil {
		t.Fatalf("CreateJob pending: %v", err)
	}
	if err := s.CreateJob(ctx, succeededJob); err != nil {
		t.Fatalf("CreateJob succeeded: %v", err)
	}

	pending, err := s.FindPendingJobs(ctx, st.ID)
	if err != nil {
		t.Fatalf("FindPendingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != pendingJob.ID {
		t.Errorf("FindPendingJobs = %+v, want only the pending job", pending)
	}
}

func TestFindActiveStudiesOnlyReturnsQueuedAndExecuting(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	queued := newStudy(uuid.New())
	queued.Status = study.Queued
	executing := newStudy(uuid.New())
	executing.Status = study.Executing
	completed := newStudy(uuid.New())
	completed.Status = study.Completed

	for _, st := range []*study.Study{queued, executing, completed} {
		if err := s.CreateStudy(ctx, st); err != nil {
			t.Fatalf("CreateStudy: %v", err)
		}
	}

	active, err := s.FindActiveStudies(ctx)
	if err != nil {
		t.Fatalf("FindActiveStudies: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("FindActiveStudies returned %d studies, want 2", len(active))
	}
}
