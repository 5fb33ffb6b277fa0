package manifest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Result is the outcome of validating a manifest: ok plus a flat list of
// human-readable error strings (field-level detail is collapsed here —
// the Gateway's request-decoding layer has the field-level variant for
// malformed JSON; manifest validation is a coarser, domain-level check).
type Result struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// Validator checks a manifest for well-formedness. It is deterministic
// and tenant-agnostic — it never consults tenant-specific policy.
type Validator interface {
	Validate(m *Manifest) Result
}

// structValidator is a package-level, concurrency-safe validator engine
// shared by every call — struct-tag validation is stateless and safe for
// concurrent use per the validator/v10 docs.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// DefaultValidator implements well-formedness checks beyond what struct
// tags express: deadline strictly in the future, threshold bounds, and
// non-empty required collections restated as actionable messages.
type DefaultValidator struct{}

// NewDefaultValidator returns the default, tenant-agnostic Validator.
func NewDefaultValidator() *DefaultValidator { return &DefaultValidator{} }

func (DefaultValidator) Validate(m *Manifest) Result {
	var errs []string

	if err := structValidator.Struct(m); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				errs = append(errs, fmt.Sprintf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if len(m.Queries) == 0 {
		errs = append(errs, "manifest must contain at least one query")
	}
	if len(m.Surfaces) == 0 {
		errs = append(errs, "manifest must contain at least one surface")
	}
	if len(m.Locations) == 0 {
		errs = append(errs, "manifest must contain at least one location")
	}
	if !m.Deadline.IsZero() && !m.Deadline.After(time.Now()) {
		errs = append(errs, "deadline must be strictly in the future")
	}
	if m.CompletionCriteria.CoverageThreshold < 0 || m.CompletionCriteria.CoverageThreshold > 1 {
		errs = append(errs, "completionCriteria.coverageThreshold must be in [0,1]")
	}
	if len(m.CompletionCriteria.RequiredSurfaceIDs) == 0 {
		errs = append(errs, "completionCriteria.requiredSurfaceIds must be non-empty")
	}

	known := make(map[string]bool, len(m.Surfaces))
	for _, s := range m.Surfaces {
		known[s.SurfaceID] = true
	}
	for _, id := range m.CompletionCriteria.RequiredSurfaceIDs {
		if !known[id] {
			errs = append(errs, fmt.Sprintf("completionCriteria references unknown surface %q", id))
		}
	}

	switch m.EvidenceLevel {
	case "", EvidenceMetadata, EvidenceScreenshots, EvidenceFull:
	default:
		errs = append(errs, fmt.Sprintf("unknown evidenceLevel %q", m.EvidenceLevel))
	}

	switch m.SessionIsolation {
	case "", SessionShared, SessionPerTenant, SessionPerQuery:
	default:
		errs = append(errs, fmt.Sprintf("unknown sessionIsolation %q", m.SessionIsolation))
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}
