package manifest_test

import (
	"testing"
	"time"

	"github.com/benthamhq/bentham/pkg/manifest"
)

func validManifest() manifest.Manifest {
	return manifest.Manifest{
		Name:      "valid",
		Queries:   []manifest.Query{{Text: "who makes the best espresso machine"}},
		Surfaces:  []manifest.SurfaceRef{{SurfaceID: "chatgpt", Required: true}},
		Locations: []manifest.Location{{ID: "us-east"}},
		CompletionCriteria: manifest.CompletionCriteria{
			RequiredSurfaceIDs: []string{"chatgpt"},
			CoverageThreshold:  1,
		},
		Deadline: time.Now().Add(time.Hour),
	}
}

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	result := v.Validate(&m)
	if !result.OK {
		t.Fatalf("Validate() = %+v, want OK", result)
	}
}

func TestValidateRejectsPastDeadline(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	m.Deadline = time.Now().Add(-time.Hour)
	result := v.Validate(&m)
	if result.OK {
		t.Fatal("Validate() accepted a manifest with a past deadline")
	}
}

func TestValidateRejectsEmptyQueries(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	m.Queries = nil
	result := v.Validate(&m)
	if result.OK {
		t.Fatal("Validate() accepted a manifest with no queries")
	}
}

func TestValidateRejectsUnknownRequiredSurface(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	m.CompletionCriteria.RequiredSurfaceIDs = []string{"does-not-exist"}
	result := v.Validate(&m)
	if result.OK {
		t.Fatal("Validate() accepted completionCriteria referencing an unregistered surface")
	}
}

func TestValidateRejectsCoverageThresholdOutOfRange(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	m.CompletionCriteria.CoverageThreshold = 1.5
	result := v.Validate(&m)
	if result.OK {
		t.Fatal("Validate() accepted coverageThreshold > 1")
	}
}

func TestValidateRejectsUnknownEvidenceLevel(t *testing.T) {
	v := manifest.NewDefaultValidator()
	m := validManifest()
	m.EvidenceLevel = "holographic"
	result := v.Validate(&m)
	if result.OK {
		t.Fatal("Validate() accepted an unknown evidenceLevel")
	}
}

func TestCellCount(t *testing.T) {
	m := manifest.Manifest{
		Queries:   []manifest.Query{{Text: "a"}, {Text: "b"}},
		Surfaces:  []manifest.SurfaceRef{{SurfaceID: "chatgpt"}, {SurfaceID: "perplexity"}},
		Locations: []manifest.Location{{ID: "us-east"}, {ID: "eu-west"}, {ID: "apac"}},
	}
	if got := m.CellCount(); got != 12 {
		t.Errorf("CellCount() = %d, want 12", got)
	}
}

func TestRequiredSurfaceIDs(t *testing.T) {
	m := manifest.Manifest{
		Surfaces: []manifest.SurfaceRef{
			{SurfaceID: "chatgpt", Required: true},
			{SurfaceID: "perplexity", Required: false},
		},
	}
	got := m.RequiredSurfaceIDs()
	if len(got) != 1 || got[0] != "chatgpt" {
		t.Errorf("RequiredSurfaceIDs() = %v, want [chatgpt]", got)
	}
}
