package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/token"
)

const (
	deviceHeader     = "Device-Uuid"
	refreshCookie    = "jwt"
	refreshCookieAge = int(token.DefaultRefreshTTL / time.Second)
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsResponse struct {
	AccessToken string      `json:"accessToken"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Active        bool     `json:"active"`
	Roles         []string `json:"roles"`
}

func profilePayload(p *auth.Profile) userPayload {
	return userPayload{
		ID:            p.User.ID,
		Email:         p.User.Email,
		EmailVerified: p.User.EmailVerified,
		Active:        p.User.Active,
		Roles:         p.RoleSlugs(),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	deviceID := r.Header.Get(deviceHeader)
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta := auth.DeviceMeta{
		Platform:  r.Header.Get("Sec-Ch-Ua-Platform"),
		Origin:    r.Header.Get("Origin"),
		UserAgent: r.UserAgent(),
	}

	creds, err := a.orch.Login(r.Context(), req.Email, req.Password, deviceID, meta)
	if err != nil {
		if errors.Is(err, auth.ErrEmailUnverified) {
			_ = audit.LogEvent(r.Context(), "auth.login.unverified", map[string]any{
				"email": req.Email,
			})
			writeJSON(w, http.StatusOK, map[string]any{
				"redirect": fmt.Sprintf("/verify-email?email=%s", url.QueryEscape(req.Email)),
			})
			return
		}
		mapAuthError(w, err)
		return
	}

	setRefreshCookie(w, creds.RefreshToken)
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{
		"user_id":   creds.Profile.User.ID,
		"device_id": deviceID,
	})
	writeJSON(w, http.StatusOK, credentialsResponse{
		AccessToken: creds.AccessToken,
		User:        profilePayload(creds.Profile),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	deviceID := r.Header.Get(deviceHeader)
	if deviceID == "" {
		mapAuthError(w, auth.ErrMissingDeviceID)
		return
	}

	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing session cookie")
		return
	}

	creds, err := a.orch.Refresh(r.Context(), deviceID, cookie.Value)
	if err != nil {
		mapAuthError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh.success", map[string]any{
		"user_id":   creds.Profile.User.ID,
		"device_id": deviceID,
	})
	writeJSON(w, http.StatusOK, credentialsResponse{
		AccessToken: creds.AccessToken,
		User:        profilePayload(creds.Profile),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deviceID := r.Header.Get(deviceHeader)

	if err := a.orch.Logout(r.Context(), principal.UserID, deviceID); err != nil {
		mapAuthError(w, err)
		return
	}

	clearRefreshCookie(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"device_id": deviceID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.orch.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		mapAuthError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusCreated, user)
}

type resetRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	VerifyCode string `json:"verifyCode"`
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.orch.CompletePasswordReset(r.Context(), req.Email, req.Password, req.VerifyCode); err != nil {
		mapAuthError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{
		"email": req.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := a.orch.ProfileByID(r.Context(), principal.UserID)
	if err != nil {
		mapAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profilePayload(profile))
}

func setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   refreshCookieAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
