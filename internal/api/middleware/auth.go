package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
)

// Context keys for storing caller information.
type contextKey string

const (
	subjectKey contextKey = "subject"
	roleKey    contextKey = "role"
	claimsKey  contextKey = "claims"
)

// JWTAuth returns middleware that validates bearer tokens. A query
// parameter named access_token is accepted too, because browsers cannot
// set headers on websocket upgrades.
func JWTAuth(jwtService *auth.JWTService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
				respond.JSONError(w, respond.ErrUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				metrics.AuthFailuresTotal.WithLabelValues("invalid").Inc()
				logger.Debug("jwt auth failed", "remote_addr", r.RemoteAddr, "error", err)
				respond.JSONError(w, respond.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	return "", false
}

// WithClaims stores validated claims in ctx.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, subjectKey, c.Subject)
	ctx = context.WithValue(ctx, roleKey, c.Role)
	return context.WithValue(ctx, claimsKey, c)
}

// GetSubject returns the token subject from context.
func GetSubject(ctx context.Context) string {
	if v := ctx.Value(subjectKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetRole returns the caller role from context.
func GetRole(ctx context.Context) auth.Role {
	if v := ctx.Value(roleKey); v != nil {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}

// Actor returns the name to record for a change: the explicit value when
// given, else the token subject, else "api".
func Actor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if s := GetSubject(ctx); s != "" {
		return s
	}
	return "api"
}
