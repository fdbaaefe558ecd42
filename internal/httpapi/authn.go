package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"doctrail.org/internal/access"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// SystemUserManagement is the system id guarding the admin surface:
	// the API authorizes its own management routes through the engine.
	SystemUserManagement = "user-management"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/auth/login",
	"/v1/users/accept-invite",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		userID, err := a.sessions.Verify(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := access.ContextWithActor(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureAuthorized checks the caller can perform action on the
// user-management system. It writes the response on failure.
func (a *API) ensureAuthorized(w http.ResponseWriter, r *http.Request, action access.Action) (string, bool) {
	actorID, _ := access.ActorFromContext(r.Context())
	decision, err := a.engine.Authorize(r.Context(), actorID, action, SystemUserManagement)
	if err != nil {
		handleAccessError(w, r, err)
		return "", false
	}
	if !decision.Allowed {
		if actorID == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
		} else {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
		}
		return "", false
	}
	return actorID, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
