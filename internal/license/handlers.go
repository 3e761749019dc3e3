package license

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/httputil"
)

// Handlers exposes GET /license/status and POST /license/upload.
type Handlers struct {
	guard *Guard
}

func NewHandlers(guard *Guard) *Handlers {
	return &Handlers{guard: guard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/license/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/license/upload", h.handleUpload).Methods(http.MethodPost)
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.guard.Status())
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "failed to read license body")
		return
	}

	status, err := h.guard.Upload(string(body))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_license", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}
