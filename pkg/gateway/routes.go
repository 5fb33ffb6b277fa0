// Package gateway mounts the tenant-facing HTTP API onto
// internal/httpserver.Server.V1Router: study admission, lifecycle
// control, results, and cost retrieval, all authenticated by API key and
// scoped to the caller's tenant. It holds no domain logic of its own —
// every handler is a thin decode/validate/respond wrapper around the
// Orchestrator's public operations.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/benthamhq/bentham/internal/httpserver"
	"github.com/benthamhq/bentham/internal/telemetry"
	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/apikey"
	"github.com/benthamhq/bentham/pkg/manifest"
	"github.com/benthamhq/bentham/pkg/orchestrator"
	"github.com/benthamhq/bentham/pkg/ratelimit"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// Gateway holds the dependencies every route handler needs.
type Gateway struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// New constructs a Gateway over orch.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Gateway {
	return &Gateway{orch: orch, logger: logger}
}

// Mount registers the authenticated study routes on router, with the
// middleware chain APIKeyAuth -> RateLimit -> TenantScope ahead of every
// one of them, and GET /health alongside (unauthenticated, mirroring the
// unauthenticated /healthz this same process also exposes).
func Mount(router chi.Router, orch *orchestrator.Orchestrator, resolver *apikey.Resolver, limiter *ratelimit.Limiter, health http.HandlerFunc, logger *slog.Logger) {
	g := New(orch, logger)

	router.Get("/health", health)

	router.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(resolver, logger))
		r.Use(RateLimit(limiter))
		r.Use(TenantScope(logger))

		r.Post("/studies", g.handleCreateStudy)
		r.Get("/studies/{id}", g.handleGetStudyStatus)
		r.Get("/studies/{id}/results", g.handleGetStudyResults)
		r.Post("/studies/{id}/pause", g.handlePauseStudy)
		r.Post("/studies/{id}/resume", g.handleResumeStudy)
		r.Delete("/studies/{id}", g.handleCancelStudy)
		r.Get("/costs/{id}", g.handleGetStudyCost)
	})
}

// createStudyResponse is the 201 body for POST /v1/studies.
type createStudyResponse struct {
	StudyID   uuid.UUID `json:"studyId"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"createdAt"`
}

func (g *Gateway) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, apierror.Unauthorized, "authentication required")
		return
	}

	var m manifest.Manifest
	if !httpserver.DecodeAndValidate(w, r, &m) {
		return
	}

	created, err := g.orch.CreateStudy(r.Context(), id.TenantID, m)
	if err != nil {
		g.respondOrchestratorError(w, r, err)
		return
	}

	telemetry.StudiesCreatedTotal.WithLabelValues(id.TenantID.String()).Inc()
	httpserver.Respond(w, http.StatusCreated, createStudyResponse{
		StudyID:   created.StudyID,
		Status:    created.Status,
		CreatedAt: created.CreatedAt.Format(timeLayout),
	})
}

func (g *Gateway) handleGetStudyStatus(w http.ResponseWriter, r *http.Request) {
	id, studyID, ok := g.identityAndStudyID(w, r)
	if !ok {
		return
	}

	status, err := g.orch.GetStudyStatus(r.Context(), id.TenantID, studyID)
	if err != nil {
		g.respondOrchestratorError(w, r, err)
		return
	}
	if status == nil {
		httpserver.RespondError(w, apierror.StudyNotFound, "study not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, status)
}

func (g *Gateway) handleGetStudyResults(w http.ResponseWriter, r *http.Request) {
	id, studyID, ok := g.identityAndStudyID(w, r)
	if !ok {
		return
	}

	results, err := g.orch.GetStudyResults(r.Context(), id.TenantID, studyID)
	if err != nil {
		g.respondOrchestratorError(w, r, err)
		return
	}
	if results == nil {
		httpserver.RespondError(w, apierror.StudyNotFound, "study not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, results)
}

func (g *Gateway) handleGetStudyCost(w http.ResponseWriter, r *http.Request) {
	id, studyID, ok := g.identityAndStudyID(w, r)
	if !ok {
		return
	}

	cost, err := g.orch.GetStudyCost(r.Context(), id.TenantID, studyID)
	if err != nil {
		g.respondOrchestratorError(w, r, err)
		return
	}
	if cost == nil {
		httpserver.RespondError(w, apierror.StudyNotFound, "study not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, cost)
}

type statusResponse struct {
	Status string `json:"status"`
}

// transitionFunc is the shape shared by PauseStudy, ResumeStudy, and
// CancelStudy: tenant-scoped, returns (applied, error).
type transitionFunc func(ctx context.Context, tenantID, studyID uuid.UUID) (bool, error)

func (g *Gateway) handlePauseStudy(w http.ResponseWriter, r *http.Request) {
	g.handleTransition(w, r, g.orch.PauseStudy, "paused")
}

func (g *Gateway) handleResumeStudy(w http.ResponseWriter, r *http.Request) {
	g.handleTransition(w, r, g.orch.ResumeStudy, "running")
}

func (g *Gateway) handleCancelStudy(w http.ResponseWriter, r *http.Request) {
	g.handleTransition(w, r, g.orch.CancelStudy, "cancelled")
}

// handleTransition runs the shared not-found/illegal-transition handling
// for pause/resume/cancel: each only differs in which Orchestrator method
// it calls and the status string a success echoes back. op returns a false
// result with a nil error only when the study doesn't exist or isn't owned
// by this tenant, which this reports as 404; an illegal transition on a
// study that does exist comes back as a apierror.Conflict error and is
// reported as 409 through respondOrchestratorError.
func (g *Gateway) handleTransition(w http.ResponseWriter, r *http.Request, op transitionFunc, onSuccess string) {
	id, studyID, ok := g.identityAndStudyID(w, r)
	if !ok {
		return
	}

	applied, err := op(r.Context(), id.TenantID, studyID)
	if err != nil {
		g.respondOrchestratorError(w, r, err)
		return
	}
	if !applied {
		httpserver.RespondError(w, apierror.StudyNotFound, "study not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, statusResponse{Status: onSuccess})
}

// identityAndStudyID extracts the authenticated Identity and the {id}
// path parameter, writing an error response and returning ok=false on
// either failure.
func (g *Gateway) identityAndStudyID(w http.ResponseWriter, r *http.Request) (Identity, uuid.UUID, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, apierror.Unauthorized, "authentication required")
		return Identity{}, uuid.Nil, false
	}

	studyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, apierror.StudyNotFound, "study not found")
		return Identity{}, uuid.Nil, false
	}

	return id, studyID, true
}

func (g *Gateway) respondOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		httpserver.RespondAPIError(w, apiErr)
		return
	}
	LoggerFromContext(r.Context(), g.logger).Error("gateway: orchestrator call failed", "error", err, "path", r.URL.Path)
	httpserver.RespondError(w, apierror.Internal, "internal error")
}
