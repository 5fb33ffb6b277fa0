package study_test

import (
	"testing"

	"github.com/benthamhq/bentham/pkg/study"
)

func TestExternalRendersExecutingAsRunning(t *testing.T) {
	if got := study.Executing.External(); got != "running" {
		t.Errorf("Executing.External() = %q, want %q", got, "running")
	}
	if got := study.Paused.External(); got != "paused" {
		t.Errorf("Paused.External() = %q, want %q", got, "paused")
	}
}

func TestTerminal(t *testing.T) {
	terminal := []study.Status{study.Completed, study.Failed, study.Cancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q.Terminal() = false, want true", s)
		}
	}
	nonTerminal := []study.Status{study.Validating, study.Queued, study.Executing, study.Paused}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%q.Terminal() = true, want false", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to study.Status
		want     bool
	}{
		{study.Validating, study.Queued, true},
		{study.Queued, study.Executing, true},
		{study.Executing, study.Paused, true},
		{study.Paused, study.Executing, true},
		{study.Executing, study.Cancelled, true},
		{study.Completed, study.Executing, false},
		{study.Validating, study.Executing, false},
		{study.Cancelled, study.Queued, false},
	}
	for _, c := range cases {
		if got := study.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPendingCellsNeverNegative(t *testing.T) {
	s := &study.Study{TotalCells: 3, CompletedCells: 2, FailedCells: 2}
	if got := s.PendingCells(); got != 0 {
		t.Errorf("PendingCells() = %d, want 0", got)
	}
}

func TestCompletionPercentageRoundsToNearestInt(t *testing.T) {
	s := &study.Study{TotalCells: 3, CompletedCells: 1, FailedCells: 0}
	if got := s.CompletionPercentage(); got != 33 {
		t.Errorf("CompletionPercentage() = %d, want 33", got)
	}

	s2 := &study.Study{TotalCells: 0}
	if got := s2.CompletionPercentage(); got != 0 {
		t.Errorf("CompletionPercentage() with zero cells = %d, want 0", got)
	}
}

func TestCloneIsIndependentCopy(t *testing.T) {
	s := &study.Study{Status: study.Queued, TotalCells: 5}
	cp := s.Clone()
	cp.Status = study.Executing
	if s.Status != study.Queued {
		t.Error("mutating the clone mutated the original")
	}
}
