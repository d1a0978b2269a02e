package middleware

import (
	"net/http"

	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
)

// RequireRole returns middleware that requires one of the given roles.
// Admin always passes.
func RequireRole(allowedRoles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if role == "" {
				respond.JSONError(w, respond.ErrForbidden)
				return
			}
			if role == auth.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, allowed := range allowedRoles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.JSONError(w, respond.ErrForbidden)
		})
	}
}

// RequireAdmin is shorthand for RequireRole(RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(auth.RoleAdmin)(next)
}

// RequireCanWrite allows access to admin and operator roles.
func RequireCanWrite(next http.Handler) http.Handler {
	return RequireRole(auth.RoleOperator)(next)
}
