package auth

import (
	"testing"
	"time"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)

	token, err := svc.GenerateToken("ingest-worker", RoleOperator, 0)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "ingest-worker" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ingest-worker")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.Issuer != "blazetrack" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestJWTService_GenerateRejectsBadInput(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)

	if _, err := svc.GenerateToken("", RoleAdmin, 0); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := svc.GenerateToken("ops", Role("root"), 0); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), 15*time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt-token"},
		{"wrong-segments", "a.b"},
		{"invalid-signature", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJ1aWQiOiJ0ZXN0In0.invalid"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tc.token); err == nil {
				t.Error("expected error for invalid token")
			}
		})
	}
}

func TestJWTService_DifferentSecret(t *testing.T) {
	svc1 := NewJWTService([]byte("secret-one-32-bytes-long!!!!!!!"), time.Minute)
	svc2 := NewJWTService([]byte("secret-two-32-bytes-long!!!!!!!"), time.Minute)

	token, err := svc1.GenerateToken("ops", RoleViewer, 0)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := svc2.ValidateToken(token); err == nil {
		t.Error("expected error validating token with different secret")
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService([]byte("test-secret-key-32-bytes-long!!"), time.Minute)

	token, err := svc.GenerateToken("ops", RoleOperator, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"admin", "operator", "viewer"} {
		if r, ok := ParseRole(s); !ok || string(r) != s {
			t.Errorf("ParseRole(%q) = %q, %v", s, r, ok)
		}
	}
	if _, ok := ParseRole("root"); ok {
		t.Error("ParseRole(root) should fail")
	}
}
