package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/models"
)

const testSecret = "test-secret-key-that-is-long-enough!"

func testJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret:              testSecret,
		AccessTokenDuration: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}
	return svc
}

func issueTokens(t *testing.T, svc *auth.JWTService, role string) *auth.TokenPair {
	t.Helper()
	pair, err := svc.GenerateTokenPair(&models.User{
		ID:       "user-1",
		Username: "alice",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("failed to generate token pair: %v", err)
	}
	return pair
}

func TestJWTAuth(t *testing.T) {
	svc := testJWTService(t)
	pair := issueTokens(t, svc, string(models.RoleUser))

	var gotClaims *auth.Claims
	handler := JWTAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = auth.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid access token", "Bearer " + pair.AccessToken, http.StatusOK},
		{"refresh token rejected", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClaims = nil
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if gotClaims == nil {
					t.Fatal("claims not propagated to request context")
				}
				if gotClaims.Username != "alice" {
					t.Errorf("claims.Username = %q, want alice", gotClaims.Username)
				}
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	svc := testJWTService(t)

	handler := JWTAuth(svc)(RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{"admin passes", string(models.RoleAdmin), http.StatusOK},
		{"user forbidden", string(models.RoleUser), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := issueTokens(t, svc, tt.role)
			req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireAdminWithoutClaims(t *testing.T) {
	handler := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
