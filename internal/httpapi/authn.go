package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/access"
	"authgate.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
)

// withAuth authenticates the bearer access token, resolves the caller's
// profile, and attaches the principal and device id to the request context.
func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		userID, err := a.orch.VerifyAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		profile, err := a.orch.ProfileByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{
			UserID: userID,
			Roles:  profile.RoleSlugs(),
		})
		if deviceID := r.Header.Get(deviceHeader); deviceID != "" {
			ctx = auth.ContextWithDeviceID(ctx, deviceID)
		}
		next(w, r.WithContext(ctx))
	}
}

// requireAuthorized consults the permission resolver for the request's
// (actor, method, path). Used by endpoints gated through operation grants.
func (a *API) requireAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if a.resolver == nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	actor := accessActor(r)
	decision, err := a.resolver.Authorize(r.Context(), actor, r.Method, r.URL.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorization error")
		return false
	}
	if decision != access.Allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// accessActor derives the resolver actor from the request context.
func accessActor(r *http.Request) access.Actor {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return access.User(principal.UserID)
	}
	return access.Guest
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearerScheme):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}
