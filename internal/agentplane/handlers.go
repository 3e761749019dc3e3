package agentplane

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/audit"
	"github.com/clusterguard/inspector/internal/httputil"
	"github.com/clusterguard/inspector/internal/middleware"
	"github.com/clusterguard/inspector/internal/run"
)

// registerRateLimit{RPS,Burst} bound POST /agents tighter than the general
// API limit: it is the one unauthenticated call in this surface and mints a
// bearer token on success, so it is worth its own strict limiter.
const (
	registerRateLimitRPS   = 0.5
	registerRateLimitBurst = 3
)

// Handlers serves the /agents HTTP surface (spec §6): operator-facing
// register/list, plus the bearer-token-authenticated agent-plane protocol.
type Handlers struct {
	coordinator *Coordinator
	audit       *audit.Store
}

func NewHandlers(coordinator *Coordinator, auditStore *audit.Store) *Handlers {
	return &Handlers{coordinator: coordinator, audit: auditStore}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	strictLimit := middleware.StrictRateLimitMiddleware(registerRateLimitRPS, registerRateLimitBurst)
	r.Handle("/agents", strictLimit(http.HandlerFunc(h.handleRegister))).Methods(http.MethodPost)
	r.HandleFunc("/agents", h.handleList).Methods(http.MethodGet)

	plane := r.PathPrefix("/agents/{id}").Subrouter()
	plane.Use(AuthMiddleware(h.coordinator))
	plane.HandleFunc("/heartbeat", h.handleHeartbeat).Methods(http.MethodPost)
	plane.HandleFunc("/tasks", h.handlePullTasks).Methods(http.MethodGet)
	plane.HandleFunc("/results", h.handleSubmitResult).Methods(http.MethodPost)
	plane.HandleFunc("/fail", h.handleReportFailure).Methods(http.MethodPost)
}

type registerRequest struct {
	Name          string  `json:"name"`
	ClusterID     *string `json:"cluster_id,omitempty"`
	Description   string  `json:"description,omitempty"`
	PrometheusURL string  `json:"prometheus_url,omitempty"`
}

type registerResponse struct {
	*Agent
	Token string `json:"token"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Name == "" {
		httputil.WriteAppError(w, apperr.Validation("name is required"))
		return
	}

	a, token, err := h.coordinator.Register(r.Context(), req.Name, req.ClusterID, req.Description, req.PrometheusURL)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.audit.Record(r.Context(), "", "agent_registered", a.ID, a.Name)
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{Agent: a, Token: token})
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	agents, err := h.coordinator.agents.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if agents == nil {
		agents = []*Agent{}
	}
	httputil.WriteJSON(w, http.StatusOK, agents)
}

func (h *Handlers) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	a := agentFromContext(r.Context())
	if err := h.coordinator.Heartbeat(r.Context(), a.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handlePullTasks(w http.ResponseWriter, r *http.Request) {
	a := agentFromContext(r.Context())
	const maxTasks = 5

	tasks, err := h.coordinator.PullTasks(r.Context(), a.ID, maxTasks)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

type submitResultRequest struct {
	RunID      string            `json:"run_id"`
	ItemID     string            `json:"item_id"`
	Status     run.ResultStatus  `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

func (h *Handlers) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	a := agentFromContext(r.Context())

	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RunID == "" || req.ItemID == "" {
		httputil.WriteAppError(w, apperr.Validation("run_id and item_id are required"))
		return
	}

	updated, err := h.coordinator.SubmitResult(r.Context(), a.ID, req.RunID, req.ItemID, req.Status, req.Detail, req.Suggestion)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

type reportFailureRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	a := agentFromContext(r.Context())

	var req reportFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RunID == "" {
		httputil.WriteAppError(w, apperr.Validation("run_id is required"))
		return
	}

	updated, err := h.coordinator.ReportRunFailure(r.Context(), a.ID, req.RunID, req.Reason)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.audit.Record(r.Context(), a.ID, "agent_reported_run_failure", req.RunID, req.Reason)
	httputil.WriteJSON(w, http.StatusOK, updated)
}
