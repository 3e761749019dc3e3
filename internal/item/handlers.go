package item

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/apperr"
	"github.com/clusterguard/inspector/internal/httputil"
	"github.com/clusterguard/inspector/internal/license"
)

// Handlers serves the /inspection-items HTTP surface (spec §6).
type Handlers struct {
	store *Store
	guard *license.Guard
}

func NewHandlers(store *Store, guard *license.Guard) *Handlers {
	return &Handlers{store: store, guard: guard}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/inspection-items").Subrouter()
	api.HandleFunc("", h.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("", h.handleList).Methods(http.MethodGet)
	api.HandleFunc("/export", h.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", h.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/{id}", h.handleDelete).Methods(http.MethodDelete)
}

type itemPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CheckType   string          `json:"check_type"`
	Config      json.RawMessage `json:"config"`
	IsArchived  *bool           `json:"is_archived,omitempty"`
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var p itemPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if p.Name == "" {
		httputil.WriteAppError(w, apperr.Validation("name is required"))
		return
	}
	cfg, err := DecodeConfig(CheckType(p.CheckType), p.Config)
	if err != nil {
		httputil.WriteAppError(w, apperr.Validation("invalid config: %v", err))
		return
	}

	it, err := h.store.Create(r.Context(), p.Name, p.Description, CheckType(p.CheckType), cfg)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, it)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	items, err := h.store.List(r.Context(), includeArchived)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if items == nil {
		items = []*Item{}
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	it, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, it)
}

func (h *Handlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p itemPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	cfg, err := DecodeConfig(CheckType(p.CheckType), p.Config)
	if err != nil {
		httputil.WriteAppError(w, apperr.Validation("invalid config: %v", err))
		return
	}

	it, err := h.store.Update(r.Context(), id, p.Name, p.Description, CheckType(p.CheckType), cfg)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if p.IsArchived != nil {
		if err := h.store.SetArchived(r.Context(), id, *p.IsArchived); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		it, err = h.store.Get(r.Context(), id)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, it)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Delete(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport dumps every item (including archived ones) as a JSON array
// suitable for round-tripping through handleImport.
func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), true)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if items == nil {
		items = []*Item{}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="inspection-items.json"`)
	httputil.WriteJSON(w, http.StatusOK, items)
}

// handleImport creates items from a previously-exported JSON array.
// Name collisions are reported per-row rather than aborting the batch.
func (h *Handlers) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var payloads []itemPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	type importResult struct {
		Name  string `json:"name"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	results := make([]importResult, 0, len(payloads))
	for _, p := range payloads {
		cfg, err := DecodeConfig(CheckType(p.CheckType), p.Config)
		if err != nil {
			results = append(results, importResult{Name: p.Name, Error: err.Error()})
			continue
		}
		if _, err := h.store.Create(r.Context(), p.Name, p.Description, CheckType(p.CheckType), cfg); err != nil {
			results = append(results, importResult{Name: p.Name, Error: err.Error()})
			continue
		}
		results = append(results, importResult{Name: p.Name, OK: true})
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}
