package cluster

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/httputil"
	"github.com/clusterguard/inspector/internal/license"
)

// Handlers serves the /clusters HTTP surface (spec §6).
type Handlers struct {
	manager *Manager
	guard   *license.Guard
}

func NewHandlers(manager *Manager, guard *license.Guard) *Handlers {
	return &Handlers{manager: manager, guard: guard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/clusters").Subrouter()
	api.HandleFunc("", h.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/{id}", h.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/test-connection", h.handleTestConnection).Methods(http.MethodPost)
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Require("clusters"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	name, prometheusURL, mode, kubeconfig, err := parseClusterMultipart(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c, err := h.manager.CreateCluster(r.Context(), name, kubeconfig, prometheusURL, mode)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.manager.store.ListClusters(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if clusters == nil {
		clusters = []*Cluster{}
	}
	httputil.WriteJSON(w, http.StatusOK, clusters)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := h.manager.store.GetCluster(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Require("clusters"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]

	name, prometheusURL, mode, kubeconfig, err := parseClusterMultipart(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c, err := h.manager.store.UpdateCluster(r.Context(), id, name, prometheusURL, mode, nil)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if kubeconfig != nil && c.KubeconfigPath != "" {
		if err := os.WriteFile(c.KubeconfigPath, kubeconfig, 0o600); err != nil {
			httputil.WriteAppError(w, fmt.Errorf("write kubeconfig: %w", err))
			return
		}
		h.manager.mu.Lock()
		delete(h.manager.clients, id)
		h.manager.mu.Unlock()
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Require("clusters"); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	deleteFiles, _ := strconv.ParseBool(r.URL.Query().Get("delete_files"))

	if err := h.manager.DeleteCluster(r.Context(), id, deleteFiles); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := h.manager.Probe(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// parseClusterMultipart reads the multipart {file, name, prometheus_url,
// execution_mode} fields the cluster CRUD endpoints accept (spec §6). file
// is optional on update (kubeconfig left unchanged when absent).
func parseClusterMultipart(r *http.Request) (name, prometheusURL string, mode ExecutionMode, kubeconfig []byte, err error) {
	if parseErr := r.ParseMultipartForm(32 << 20); parseErr != nil {
		return "", "", "", nil, apperr.Validation("invalid multipart form: %v", parseErr)
	}

	name = r.FormValue("name")
	prometheusURL = r.FormValue("prometheus_url")
	mode = ExecutionMode(r.FormValue("execution_mode"))
	if mode == "" {
		mode = ExecutionModeServer
	}
	if name == "" {
		return "", "", "", nil, apperr.Validation("name is required")
	}

	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			kubeconfig, err = readMultipartFile(files[0])
			if err != nil {
				return "", "", "", nil, err
			}
		}
	}
	return name, prometheusURL, mode, kubeconfig, nil
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Validation("failed to open uploaded file: %v", err)
	}
	defer f.Close()

	buf := make([]byte, fh.Size)
	if _, err := f.Read(buf); err != nil && fh.Size > 0 {
		return nil, apperr.Validation("failed to read uploaded file: %v", err)
	}
	return buf, nil
}
