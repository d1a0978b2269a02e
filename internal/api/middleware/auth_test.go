package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
)

func TestJWTAuth_ValidToken(t *testing.T) {
	jwtService := auth.NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)

	token, err := jwtService.GenerateToken("ingest", auth.RoleOperator, 0)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	var gotSubject string
	var gotRole auth.Role
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = GetSubject(r.Context())
		gotRole = GetRole(r.Context())
		if GetClaims(r.Context()) == nil {
			t.Error("claims missing from context")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := JWTAuth(jwtService, logging.Discard())(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotSubject != "ingest" {
		t.Errorf("subject = %q, want ingest", gotSubject)
	}
	if gotRole != auth.RoleOperator {
		t.Errorf("role = %q, want operator", gotRole)
	}
}

func TestJWTAuth_QueryToken(t *testing.T) {
	jwtService := auth.NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)
	token, err := jwtService.GenerateToken("dashboard", auth.RoleViewer, 0)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	wrapped := JWTAuth(jwtService, logging.Discard())(okHandler())
	req := httptest.NewRequest("GET", "/stream?access_token="+token, nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	jwtService := auth.NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)
	expired, err := jwtService.GenerateToken("ops", auth.RoleViewer, -time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})
	wrapped := JWTAuth(jwtService, logging.Discard())(handler)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"invalid format", "NotBearer token"},
		{"invalid token", "Bearer invalid-token"},
		{"empty bearer", "Bearer "},
		{"expired", "Bearer " + expired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := httptest.NewRequest("GET", "/test", nil).Context()

	if got := GetSubject(ctx); got != "" {
		t.Errorf("GetSubject() = %q, want empty", got)
	}
	if got := GetRole(ctx); got != "" {
		t.Errorf("GetRole() = %q, want empty", got)
	}
	if got := GetClaims(ctx); got != nil {
		t.Errorf("GetClaims() = %v, want nil", got)
	}
}

func TestActor(t *testing.T) {
	anon := httptest.NewRequest("GET", "/", nil)
	authed := setAuthContext(httptest.NewRequest("GET", "/", nil), "oncall", auth.RoleOperator)

	tests := []struct {
		name     string
		r        *http.Request
		explicit string
		want     string
	}{
		{"explicit wins", authed, "alice", "alice"},
		{"subject", authed, "", "oncall"},
		{"anonymous", anon, "", "api"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Actor(tc.r.Context(), tc.explicit); got != tc.want {
				t.Errorf("Actor() = %q, want %q", got, tc.want)
			}
		})
	}
}
