package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"securo/internal/auth"
)

func TestAuthMiddleware(t *testing.T) {
	authenticator, err := auth.NewAuthenticator(auth.Config{Enabled: true, Password: "pw", JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	token, _, err := authenticator.Authenticate("admin", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	var user string
	handler := AuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			user = claims.Username
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing authorization header"},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"valid", "Bearer " + token, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/pipeline/start", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
	if user != "admin" {
		t.Errorf("claims not propagated, user = %q", user)
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	authenticator, _ := auth.NewAuthenticator(auth.Config{})
	called := false
	handler := AuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/pipeline/stop", nil))
	if !called {
		t.Error("request blocked with auth disabled")
	}
}
