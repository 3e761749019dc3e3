package agentplane

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/clusterguard/inspector/internal/httputil"
)

type agentContextKey struct{}

// AuthMiddleware validates the `Authorization: Bearer <token>` header
// against the {id} path variable's registered agent and stores the
// authenticated Agent on the request context (spec §6 agent token
// transport). It wraps only the agent-plane subrouter.
func AuthMiddleware(coordinator *Coordinator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := mux.Vars(r)["id"]
			token, ok := bearerToken(r)
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			a, err := coordinator.Authenticate(r.Context(), agentID, token)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), agentContextKey{}, a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// agentFromContext retrieves the Agent AuthMiddleware authenticated for
// this request.
func agentFromContext(ctx context.Context) *Agent {
	a, _ := ctx.Value(agentContextKey{}).(*Agent)
	return a
}
