package controllers

import (
	"net/http"

	"github.com/keyhavenhq/keyhaven-backend/api/responses"
	"github.com/keyhavenhq/keyhaven-backend/api/validators"
	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
)

// Key length is deliberately unconstrained here; a malformed key must come
// back as an invalid verdict, not a validation error.
type validateRequest struct {
	Key string `json:"key" validate:"required"`
}

// PublicValidate answers an installation's license check. Unknown or
// malformed keys return an invalid verdict with HTTP 200; only infrastructure
// failures surface as errors.
func PublicValidate(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body validateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		verdict, err := svc.Validate(r.Context(), body.Key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, verdict)
	}
}
