package services

import (
	"errors"
	"net/http"
	"strings"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/auth"
)

// AuthService issues and inspects admin tokens
type AuthService struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service
func NewAuthService(authenticator *auth.Authenticator) *AuthService {
	return &AuthService{authenticator: authenticator}
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type statusResult struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// Mount registers the auth routes
func (a *AuthService) Mount(mux goahttp.Muxer) {
	mux.Handle("POST", "/auth/login", a.Login)
	mux.Handle("GET", "/auth/status", a.Status)
}

// Login authenticates the admin and returns a JWT token
func (a *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload loginPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid login payload")
		return
	}

	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(ctx, w, http.StatusUnauthorized, "Invalid username or password")
		case errors.Is(err, auth.ErrAuthDisabled):
			writeError(ctx, w, http.StatusUnauthorized, "Authentication is disabled")
		default:
			writeError(ctx, w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(ctx, w, http.StatusOK, loginResult{Token: token, ExpiresAt: expiresAt})
}

// Status reports whether auth is enabled and whether the request carries a valid token
func (a *AuthService) Status(w http.ResponseWriter, r *http.Request) {
	result := statusResult{Enabled: a.authenticator.IsEnabled()}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && result.Enabled {
		if claims, err := a.authenticator.ValidateToken(token); err == nil {
			result.Authenticated = true
			result.Username = &claims.Username
		}
	}

	writeJSON(r.Context(), w, http.StatusOK, result)
}
