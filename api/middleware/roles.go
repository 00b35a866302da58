package middleware

import (
	"net/http"

	"github.com/keyhavenhq/keyhaven-backend/api/responses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
)

func RequireRole(role enums.APIRole, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != string(role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMutatingRole gates lifecycle commands to roles that may change license state.
func RequireMutatingRole(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := enums.APIRole(RoleFromContext(r.Context()))
			if !role.CanMutate() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "read-only credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
