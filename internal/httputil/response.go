// Package httputil provides the shared JSON response helpers used by every
// HTTP handler in the orchestration core.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/clusterguard/inspector/internal/apperr"
)

// WriteJSON writes v as JSON with the given HTTP status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// WriteError writes the {error, reason} shape every error response in this
// API carries. error is a short machine-stable code; reason is the
// human-readable detail.
func WriteError(w http.ResponseWriter, status int, errCode, reason string) {
	WriteJSON(w, status, map[string]string{"error": errCode, "reason": reason})
}

// WriteAppError maps an apperr.Kind to an HTTP status and writes it.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindLicense:
		status = http.StatusForbidden
	case apperr.KindUnauth:
		status = http.StatusUnauthorized
	case apperr.KindDependency:
		status = http.StatusBadGateway
	}
	WriteError(w, status, string(kind), err.Error())
}
