package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// ServerConfig configures cross-cutting HTTP concerns.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// Server holds the HTTP server dependencies. Router carries the
// unauthenticated surface (health, metrics); V1Router is where
// pkg/gateway mounts the authenticated, tenant-scoped API.
type Server struct {
	Router    *chi.Mux
	V1Router  chi.Router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with the ambient middleware chain and
// health/metrics endpoints mounted. DB and Redis may be nil (e.g. the
// in-memory repository wiring); readiness checks skip a nil dependency.
func NewServer(cfg ServerConfig, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(NoServerHeader)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/v1", func(r chi.Router) {
		s.V1Router = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			s.Logger.Error("readiness check: database ping failed", "error", err)
			writeUnavailable(w, "database not ready")
			return
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			writeUnavailable(w, "redis not ready")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"SURFACE_UNAVAILABLE","message":"` + message + `"}}`))
}

// StatusResponse is returned by the unauthenticated status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HandleStatus reports process uptime. The app wiring does not mount it;
// only healthz and readyz are routed.
func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// healthResponse is the body for GET /v1/health and /health: liveness
// plus a per-dependency check breakdown.
type healthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

// NewHealthHandler returns a handler reporting database, Redis, and
// orchestrator liveness in one response. orchestratorUp is consulted
// directly rather than pinged, since the orchestrator has no external
// connection of its own to fail — it is live whenever the process is.
func (s *Server) NewHealthHandler(orchestratorUp func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]bool{"orchestrator": orchestratorUp()}

		checks["database"] = true
		if s.DB != nil {
			checks["database"] = s.DB.Ping(ctx) == nil
		}

		checks["redis"] = true
		if s.Redis != nil {
			checks["redis"] = s.Redis.Ping(ctx).Err() == nil
		}

		status := "ok"
		httpStatus := http.StatusOK
		for _, ok := range checks {
			if !ok {
				status = "degraded"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		writeEnvelope(w, httpStatus, envelope{Success: status == "ok", Data: healthResponse{Status: status, Checks: checks}})
	}
}
