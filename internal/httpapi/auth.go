package httpapi

import (
	"context"
	"net/http"
	"strings"

	"autoshop/workshop-service/internal/store"
)

type contextKey string

const sessionContextKey contextKey = "session"

// AuthMiddleware resolves the bearer token to a worker session and stores
// it on the request context. Requests without a valid session are rejected
// except for the public endpoints.
func AuthMiddleware(sessions store.WorkshopStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		session, err := sessions.GetSession(r.Context(), token)
		if err != nil {
			if err == store.ErrSessionNotFound {
				writeError(w, "", http.StatusUnauthorized, "unauthorized", "invalid or expired session")
				return
			}
			writeError(w, "", http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	}
	return false
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(store.Session)
	return session, ok
}

// requireWorker checks that the authenticated session belongs to the worker
// named in the request. Returns false after writing the error response.
func requireWorker(w http.ResponseWriter, r *http.Request, workerID string) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	if session.WorkerID != workerID {
		writeError(w, "", http.StatusForbidden, "forbidden", "session does not match worker_id")
		return false
	}
	return true
}

// requireQualityRole checks that the authenticated worker holds a quality
// role. Quality review operations are restricted to quality staff.
func requireQualityRole(w http.ResponseWriter, r *http.Request) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	if !session.Role.QualityRole() {
		writeError(w, "", http.StatusForbidden, "forbidden", "quality role required")
		return false
	}
	return true
}
