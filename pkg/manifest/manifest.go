// Package manifest describes the declarative study manifest a tenant
// submits: the matrix of queries x surfaces x locations to execute, plus
// completion criteria and quality gates. Validation of manifest
// well-formedness lives alongside it (pkg/manifest.Validator); scoring
// and analysis of the resulting responses is tenant-owned and out of
// scope here.
package manifest

import "time"

// EvidenceLevel controls how much provenance the Executor captures per cell.
type EvidenceLevel string

const (
	EvidenceMetadata    EvidenceLevel = "metadata"
	EvidenceScreenshots EvidenceLevel = "screenshots"
	EvidenceFull        EvidenceLevel = "full"
)

// SessionIsolation names how adapter sessions are scoped across cells
// (shared, per-tenant, per-query). The value is validated and stored with
// the study; the Executor does not read it and resolves a fresh adapter
// for every cell whichever mode is set.
type SessionIsolation string

const (
	SessionShared    SessionIsolation = "shared"
	SessionPerTenant SessionIsolation = "per-tenant"
	SessionPerQuery  SessionIsolation = "per-query"
)

// Query is one text prompt in the study, optionally tagged by category.
type Query struct {
	Text       string   `json:"text" validate:"required"`
	Categories []string `json:"categories,omitempty"`
}

// SurfaceRef names one surface to execute the study's queries against.
// Options is an opaque configuration map so each surface family can carry
// its own knobs (model override, browser profile, search region...)
// without the core needing to know their shape. The manifest validator
// does not inspect its contents; it is passed as-is to the surface's
// adapter factory.
type SurfaceRef struct {
	SurfaceID string         `json:"surfaceId" validate:"required"`
	Required  bool           `json:"required"`
	Options   map[string]any `json:"options,omitempty"`
}

// Location is a geographic execution point.
type Location struct {
	ID         string `json:"id" validate:"required"`
	ProxyType  string `json:"proxyType,omitempty"`
	Sticky     bool   `json:"sticky"`
}

// CompletionCriteria decides when a study is considered complete.
type CompletionCriteria struct {
	RequiredSurfaceIDs  []string `json:"requiredSurfaceIds" validate:"required,min=1"`
	CoverageThreshold   float64  `json:"coverageThreshold" validate:"gte=0,lte=1"`
	MaxRetriesPerCell   int      `json:"maxRetriesPerCell" validate:"gte=0"`
}

// QualityGates are the minimum bars a JobResult must clear to count as
// a usable response; evaluated by the Executor when writing a result.
type QualityGates struct {
	MinResponseLength  int  `json:"minResponseLength" validate:"gte=0"`
	RequireActualContent bool `json:"requireActualContent"`
}

// Manifest is the tenant-submitted, declarative study description.
type Manifest struct {
	Name             string              `json:"name" validate:"required"`
	Queries          []Query             `json:"queries" validate:"required,min=1,dive"`
	Surfaces         []SurfaceRef        `json:"surfaces" validate:"required,min=1,dive"`
	Locations        []Location          `json:"locations" validate:"required,min=1,dive"`
	CompletionCriteria CompletionCriteria `json:"completionCriteria"`
	QualityGates     QualityGates        `json:"qualityGates"`
	EvidenceLevel    EvidenceLevel       `json:"evidenceLevel"`
	LegalHold        bool                `json:"legalHold"`
	Deadline         time.Time           `json:"deadline" validate:"required"`
	SessionIsolation SessionIsolation    `json:"sessionIsolation"`
	// Concurrency bounds the Executor worker pool for this study. Zero
	// means the process-wide default configured at startup applies.
	Concurrency int `json:"concurrency,omitempty"`
}

// CellCount returns the total number of (query, surface, location) cells
// this manifest emits: Q*S*L.
func (m *Manifest) CellCount() int {
	return len(m.Queries) * len(m.Surfaces) * len(m.Locations)
}

// RequiredSurfaceIDs returns the surface ids marked required=true.
func (m *Manifest) RequiredSurfaceIDs() []string {
	var ids []string
	for _, s := range m.Surfaces {
		if s.Required {
			ids = append(ids, s.SurfaceID)
		}
	}
	return ids
}
