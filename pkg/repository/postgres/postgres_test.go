package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/repository/postgres"
	"github.com/benthamhq/bentham/pkg/study"
)

// connectOrSkip opens a pool against BENTHAM_TEST_DATABASE_URL, skipping
// the test entirely when it's unset or unreachable. These tests exercise
// real SQL and are not run by default in an environment with no Postgres.
func connectOrSkip(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("BENTHAM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BENTHAM_TEST_DATABASE_URL not set, skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Skipf("connecting to postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("pinging postgres: %v", err)
	}
	return pool
}

func testManifest() manifest.Manifest {
	return manifest.Manifest{
		Name:      "integration-test",
		Queries:   []manifest.Query{{Text: "q1"}},
		Surfaces:  []manifest.SurfaceRef{{SurfaceID: "chatgpt", Required: true}},
		Locations: []manifest.Location{{ID: "us-east"}},
		CompletionCriteria: manifest.CompletionCriteria{
			RequiredSurfaceIDs: []string{"chatgpt"},
			CoverageThreshold:  1,
		},
		Deadline: time.Now().Add(time.Hour),
	}
}

func TestStoreCreateAndFindStudyRoundTrips(t *testing.T) {
	pool := connectOrSkip(t)
	defer pool.Close()
	store := postgres.New(pool)
	ctx := context.Background()

	tenantID := uuid.New()
	st := &study.Study{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Manifest:   testManifest(),
		Status:     study.Queued,
		TotalCells: 1,
		CreatedAt:  time.Now().Truncate(time.Microsecond),
	}
	if err := store.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	got, err := store.FindStudy(ctx, tenantID, st.ID)
	if err != nil {
		t.Fatalf("FindStudy: %v", err)
	}
	if got.Status != study.Queued || got.Manifest.Name != "integration-test" {
		t.Errorf("FindStudy round-trip mismatch: %+v", got)
	}

	if _, err := store.FindStudy(ctx, uuid.New(), st.ID); err != repository.ErrNotFound {
		t.Errorf("FindStudy with wrong tenant: got %v, want ErrNotFound", err)
	}
}

func TestUpdateStudyStatusEnforcesCAS(t *testing.T) {
	pool := connectOrSkip(t)
	defer pool.Close()
	store := postgres.New(pool)
	ctx := context.Background()

	tenantID := uuid.New()
	st := &study.Study{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Manifest:   testManifest(),
		Status:     study.Queued,
		TotalCells: 1,
		CreatedAt:  time.Now().Truncate(time.Microsecond),
	}
	if err := store.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	wrongExpected := study.Executing
	executing := study.Executing
	err := store.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{ExpectedStatus: &wrongExpected, Status: &executing})
	if err != repository.ErrConflict {
		t.Fatalf("UpdateStudyStatus with stale expected status: got %v, want ErrConflict", err)
	}

	correctExpected := study.Queued
	if err := store.UpdateStudyStatus(ctx, tenantID, st.ID, repository.StudyUpdate{ExpectedStatus: &correctExpected, Status: &executing}); err != nil {
		t.Fatalf("UpdateStudyStatus with correct expected status: %v", err)
	}

	got, err := store.FindStudy(ctx, tenantID, st.ID)
	if err != nil {
		t.Fatalf("FindStudy: %v", err)
	}
	if got.Status != study.Executing {
		t.Errorf("Status = %q, want executing", got.Status)
	}
}

func TestJobUpdateClaimIsCompareAndSet(t *testing.T) {
	pool := connectOrSkip(t)
	defer pool.Close()
	store := postgres.New(pool)
	ctx := context.Background()

	st := &study.Study{ID: uuid.New(), TenantID: uuid.New(), Manifest: testManifest(), Status: study.Queued, TotalCells: 1, CreatedAt: time.Now()}
	if err := store.CreateStudy(ctx, st); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	j := &job.Job{ID: uuid.New(), StudyID: st.ID, SurfaceID: "chatgpt", LocationID: "us-east", Status: job.Pending}
	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	pending, running := job.Pending, job.Running
	if err := store.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &pending, Status: &running}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// A second worker claiming the same job should be rejected: it is no
	// longer pending.
	if err := store.UpdateJob(ctx, st.ID, j.ID, repository.JobUpdate{ExpectedStatus: &pending, Status: &running}); err != repository.ErrConflict {
		t.Errorf("second claim: got %v, want ErrConflict", err)
	}
}
