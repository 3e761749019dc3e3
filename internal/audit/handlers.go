package audit

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/httputil"
)

// Handlers serves the read-only /audit-logs HTTP surface (spec §6).
type Handlers struct {
	store *Store
}

func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit-logs", h.handleList).Methods(http.MethodGet)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	params := ListParams{
		Actor:  q.Get("actor"),
		Action: q.Get("action"),
		Target: q.Get("target"),
		Limit:  limit,
		Offset: offset,
	}

	entries, err := h.store.List(r.Context(), params)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
