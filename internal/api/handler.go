package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/gateway"
	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch   *orchestrator.Orchestrator
	gw     *gateway.Gateway
	logger *zap.Logger
}

// NewHandler creates a new API handler. gw may be nil when no chat gateway
// is configured.
func NewHandler(orch *orchestrator.Orchestrator, gw *gateway.Gateway, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, gw: gw, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	metricsHandler := h.orch.Metrics().Handler()
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.chat)

		r.Get("/skills", h.listSkills)
		r.Post("/skills/reload", h.reloadSkills)

		r.Post("/breakers/reset", h.resetAllBreakers)
		r.Post("/breakers/{name}/reset", h.resetBreaker)

		r.Get("/health", h.healthCheck)
		r.Get("/system/status", h.systemStatus)
		r.Method(http.MethodGet, "/metrics", metricsHandler)
		r.Get("/metrics/snapshot", h.metricsSnapshot)

		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := h.orch.Handle(r.Context(), &req)
	if err != nil {
		var verr *skill.ValidationError
		switch {
		case errors.Is(err, orchestrator.ErrEmptyMessage):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
				"skill": verr.Skill,
				"param": verr.Param,
			})
		default:
			h.logger.Error("chat failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Skills())
}

func (h *Handler) reloadSkills(w http.ResponseWriter, r *http.Request) {
	report, err := h.orch.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) resetAllBreakers(w http.ResponseWriter, r *http.Request) {
	h.orch.ResetAllBreakers()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "scope": "all"})
}

func (h *Handler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.ResetBreaker(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrUnknownSkill) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "scope": name})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Health())
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

func (h *Handler) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Metrics().Snapshot())
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusOK, []gateway.AdapterStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.gw.StatusAll())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
