package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/orchestrator"
	"github.com/benthamhq/bentham/pkg/repository/memstore"
)

func assertConflict(t *testing.T, err error) {
	t.Helper()
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) || apiErr.Code != apierror.Conflict {
		t.Errorf("err = %v, want a apierror.Conflict", err)
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	kicked []uuid.UUID
}

func (r *fakeRunner) Kick(studyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked = append(r.kicked, studyID)
}

func (r *fakeRunner) kickedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kicked)
}

func validManifest() manifest.Manifest {
	return manifest.Manifest{
		Name:      "competitor-visibility",
		Queries:   []manifest.Query{{Text: "best crm for startups"}, {Text: "top project management tools"}},
		Surfaces:  []manifest.SurfaceRef{{SurfaceID: "chatgpt", Required: true}, {SurfaceID: "perplexity"}},
		Locations: []manifest.Location{{ID: "us-east"}, {ID: "eu-west"}},
		CompletionCriteria: manifest.CompletionCriteria{
			RequiredSurfaceIDs: []string{"chatgpt"},
			CoverageThreshold:  1,
			MaxRetriesPerCell:  2,
		},
		Deadline: time.Now().Add(time.Hour),
	}
}

func newOrchestrator() (*orchestrator.Orchestrator, *fakeRunner) {
	repo := memstore.New()
	runner := &fakeRunner{}
	return orchestrator.New(repo, manifest.NewDefaultValidator(), runner), runner
}

func TestCreateStudyEmitsFullJobMatrixAndKicksRunner(t *testing.T) {
	o, runner := newOrchestrator()
	tenantID := uuid.New()

	created, err := o.CreateStudy(context.Background(), tenantID, validManifest())
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	if created.Status != "validating" {
		t.Errorf("Status = %q, want validating", created.Status)
	}
	if runner.kickedCount() != 1 {
		t.Errorf("runner kicked %d times, want 1", runner.kickedCount())
	}

	status, err := o.GetStudyStatus(context.Background(), tenantID, created.StudyID)
	if err != nil {
		t.Fatalf("GetStudyStatus: %v", err)
	}
	if status == nil {
		t.Fatal("GetStudyStatus returned nil for a study that was just created")
	}
	if status.TotalCells != 8 { // 2 queries * 2 surfaces * 2 locations
		t.Errorf("TotalCells = %d, want 8", status.TotalCells)
	}
	if status.PendingCells != 8 {
		t.Errorf("PendingCells = %d, want 8", status.PendingCells)
	}
}

func TestCreateStudyRejectsInvalidManifest(t *testing.T) {
	o, runner := newOrchestrator()
	m := validManifest()
	m.Queries = nil

	_, err := o.CreateStudy(context.Background(), uuid.New(), m)
	if err == nil {
		t.Fatal("CreateStudy should reject a manifest with no queries")
	}
	if runner.kickedCount() != 0 {
		t.Error("runner should not be kicked on validation failure")
	}
}

func TestGetStudyStatusIsAmbiguousForUnownedStudy(t *testing.T) {
	o, _ := newOrchestrator()
	tenantA, tenantB := uuid.New(), uuid.New()

	created, err := o.CreateStudy(context.Background(), tenantA, validManifest())
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	status, err := o.GetStudyStatus(context.Background(), tenantB, created.StudyID)
	if err != nil {
		t.Fatalf("GetStudyStatus: %v", err)
	}
	if status != nil {
		t.Error("GetStudyStatus should return nil for a study owned by a different tenant")
	}

	status, err = o.GetStudyStatus(context.Background(), tenantA, uuid.New())
	if err != nil {
		t.Fatalf("GetStudyStatus: %v", err)
	}
	if status != nil {
		t.Error("GetStudyStatus should return nil for a nonexistent study id, same as an unowned one")
	}
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	o, runner := newOrchestrator()
	tenantID := uuid.New()
	created, err := o.CreateStudy(context.Background(), tenantID, validManifest())
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	// Pause is illegal while the study is still only queued (not executing);
	// the study exists, so this comes back as a conflict, not a not-found.
	ok, err := o.PauseStudy(context.Background(), tenantID, created.StudyID)
	if ok {
		t.Error("PauseStudy should be illegal from queued")
	}
	assertConflict(t, err)

	ok, err = o.CancelStudy(context.Background(), tenantID, created.StudyID)
	if err != nil {
		t.Fatalf("CancelStudy: %v", err)
	}
	if !ok {
		t.Error("CancelStudy should succeed from queued")
	}

	ok, err = o.CancelStudy(context.Background(), tenantID, created.StudyID)
	if ok {
		t.Error("CancelStudy should be illegal once already cancelled (terminal)")
	}
	assertConflict(t, err)

	if runner.kickedCount() != 1 {
		t.Errorf("runner kicked %d times, want 1 (only from CreateStudy)", runner.kickedCount())
	}
}

func TestCancelStudyUnknownReturnsFalse(t *testing.T) {
	o, _ := newOrchestrator()
	ok, err := o.CancelStudy(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CancelStudy: %v", err)
	}
	if ok {
		t.Error("CancelStudy should return false for an unknown study")
	}
}

func TestGetStudyResultsOrdersCellsAndSummarizes(t *testing.T) {
	o, _ := newOrchestrator()
	tenantID := uuid.New()
	m := validManifest()
	m.Surfaces = []manifest.SurfaceRef{{SurfaceID: "chatgpt", Required: true}}
	m.Locations = []manifest.Location{{ID: "us-east"}}
	m.CompletionCriteria.RequiredSurfaceIDs = []string{"chatgpt"}

	created, err := o.CreateStudy(context.Background(), tenantID, m)
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}

	results, err := o.GetStudyResults(context.Background(), tenantID, created.StudyID)
	if err != nil {
		t.Fatalf("GetStudyResults: %v", err)
	}
	if results == nil {
		t.Fatal("GetStudyResults returned nil for an owned study")
	}
	if len(results.Cells) != 2 {
		t.Fatalf("len(Cells) = %d, want 2", len(results.Cells))
	}
	for i, c := range results.Cells {
		if c.QueryText != m.Queries[i].Text {
			t.Errorf("Cells[%d].QueryText = %q, want %q", i, c.QueryText, m.Queries[i].Text)
		}
		if c.Result != nil {
			t.Errorf("Cells[%d].Result should be nil before execution", i)
		}
	}
	if results.Summary.Total != 2 {
		t.Errorf("Summary.Total = %d, want 2", results.Summary.Total)
	}
}
