package run

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/httputil"
	"github.com/clusterguard/inspector/internal/license"
)

// Handlers serves the /inspection-runs HTTP surface (spec §6).
type Handlers struct {
	orchestrator *Orchestrator
	guard        *license.Guard
}

func NewHandlers(orchestrator *Orchestrator, guard *license.Guard) *Handlers {
	return &Handlers{orchestrator: orchestrator, guard: guard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/inspection-runs").Subrouter()
	api.HandleFunc("", h.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/cancel", h.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/{id}/report", h.handleReport).Methods(http.MethodGet)
}

type createRunRequest struct {
	ClusterID string   `json:"cluster_id"`
	ItemIDs   []string `json:"item_ids"`
	Operator  string   `json:"operator,omitempty"`
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.ClusterID == "" {
		httputil.WriteAppError(w, apperr.Validation("cluster_id is required"))
		return
	}

	run, err := h.orchestrator.CreateRun(r.Context(), req.ClusterID, req.Operator, req.ItemIDs)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, run)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := h.orchestrator.ListRuns(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := h.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleteFiles, _ := strconv.ParseBool(r.URL.Query().Get("delete_files"))

	detail, err := h.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := h.orchestrator.store.DeleteRun(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if deleteFiles && detail.ReportPath != "" {
		_ = os.Remove(detail.ReportPath)
		_ = os.Remove(mdPathFor(detail.ReportPath))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.orchestrator.CancelRun(r.Context(), id, r.URL.Query().Get("operator"))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}

// handleReport streams the run's report artefact. format=pdf (default) or
// format=md (spec §6), gated on the reports license feature.
func (h *Handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Require("reports"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]

	run, err := h.orchestrator.store.GetRun(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if run.ReportPath == "" {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "report not yet available for this run")
		return
	}

	path := run.ReportPath
	contentType := "application/pdf"
	if strings.EqualFold(r.URL.Query().Get("format"), "md") {
		path = mdPathFor(run.ReportPath)
		contentType = "text/markdown"
	}

	f, err := os.Open(path)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "report artefact missing on disk")
		return
	}
	defer f.Close()

	name := filepath.Base(path)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, run.CreatedAt, f)
}

func mdPathFor(pdfPath string) string {
	return strings.TrimSuffix(pdfPath, ".pdf") + ".md"
}
