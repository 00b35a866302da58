package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/api/middleware"
	"github.com/keyhavenhq/keyhaven-backend/api/responses"
	"github.com/keyhavenhq/keyhaven-backend/api/validators"
	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
	pkgpagination "github.com/keyhavenhq/keyhaven-backend/pkg/pagination"
)

type licenseCreateRequest struct {
	ProductID  string    `json:"product_id" validate:"required"`
	CustomerID string    `json:"customer_id" validate:"required"`
	Type       string    `json:"type" validate:"required"`
	MaxUsers   int       `json:"max_users" validate:"required,min=1"`
	ExpiresAt  time.Time `json:"expires_at" validate:"required"`
	Notes      *string   `json:"notes"`
}

func (r licenseCreateRequest) toInput() (licenses.CreateLicenseInput, error) {
	productID, err := uuid.Parse(strings.TrimSpace(r.ProductID))
	if err != nil {
		return licenses.CreateLicenseInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product_id")
	}

	customerID, err := uuid.Parse(strings.TrimSpace(r.CustomerID))
	if err != nil {
		return licenses.CreateLicenseInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_id")
	}

	licenseType, err := enums.ParseLicenseType(strings.TrimSpace(r.Type))
	if err != nil {
		return licenses.CreateLicenseInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid license type")
	}

	var notes *string
	if r.Notes != nil {
		trimmed := validators.SanitizeString(*r.Notes, 2000)
		if trimmed != "" {
			notes = &trimmed
		}
	}

	return licenses.CreateLicenseInput{
		ProductID:  productID,
		CustomerID: customerID,
		Type:       licenseType,
		MaxUsers:   r.MaxUsers,
		ExpiresAt:  r.ExpiresAt,
		Notes:      notes,
	}, nil
}

type licenseReasonRequest struct {
	Reason string `json:"reason" validate:"required,min=1,max=500"`
}

type licenseExtendRequest struct {
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// LicenseCreate issues a new license with a server-generated key.
func LicenseCreate(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload licenseCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, licenseResponseFromModel(created))
	}
}

// LicenseGet returns a single license by id.
func LicenseGet(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, licenseResponseFromModel(row))
	}
}

func listParamsFromQuery(r *http.Request) (pkgpagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit)
	if err != nil {
		return pkgpagination.Params{}, err
	}
	return pkgpagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

// LicenseList pages licenses filtered by customer, product, status, or an
// expiry window. Exactly one filter must be supplied.
func LicenseList(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParamsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, err := validators.ParseQueryUUID(r, "customer_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseQueryUUID(r, "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rawStatus := strings.TrimSpace(r.URL.Query().Get("status"))
		rawWindow := strings.TrimSpace(r.URL.Query().Get("expiring_within"))

		var result *licenses.ListResult
		switch {
		case customerID != uuid.Nil:
			result, err = svc.ListByCustomer(r.Context(), customerID, params)
		case productID != uuid.Nil:
			result, err = svc.ListByProduct(r.Context(), productID, params)
		case rawStatus != "":
			status, parseErr := enums.ParseLicenseStatus(rawStatus)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid license status"))
				return
			}
			result, err = svc.ListByStatus(r.Context(), status, params)
		case rawWindow != "":
			window, parseErr := time.ParseDuration(rawWindow)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid expiry window").WithDetails(map[string]any{"field": "expiring_within"}))
				return
			}
			result, err = svc.ListExpiring(r.Context(), window, params)
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "one of customer_id, product_id, status, expiring_within is required"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// LicenseListExpiring pages active licenses whose expiration falls before the
// given instant.
func LicenseListExpiring(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParamsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rawBefore := strings.TrimSpace(r.URL.Query().Get("before"))
		if rawBefore == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "before is required").WithDetails(map[string]any{"field": "before"}))
			return
		}
		before, parseErr := time.Parse(time.RFC3339, rawBefore)
		if parseErr != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "before must be RFC3339").WithDetails(map[string]any{"field": "before"}))
			return
		}
		within := time.Until(before)
		if within <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "before must be in the future").WithDetails(map[string]any{"field": "before"}))
			return
		}

		result, err := svc.ListExpiring(r.Context(), within, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// LicenseListExpired pages licenses already in the expired state.
func LicenseListExpired(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParamsFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListByStatus(r.Context(), enums.LicenseStatusExpired, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// LicenseActivate transitions a pending or suspended license to active.
func LicenseActivate(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		return svc.Activate(r.Context(), actor, id)
	})
}

// LicenseSuspend pauses an active license with a required reason.
func LicenseSuspend(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		var payload licenseReasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Suspend(r.Context(), actor, id, payload.Reason)
	})
}

// LicenseRevoke permanently terminates a license with a required reason.
func LicenseRevoke(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		var payload licenseReasonRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Revoke(r.Context(), actor, id, payload.Reason)
	})
}

// LicenseExtend pushes the expiration date strictly later.
func LicenseExtend(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		var payload licenseExtendRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.Extend(r.Context(), actor, id, payload.ExpiresAt)
	})
}

// LicenseAddUser assigns a seat on an active license.
func LicenseAddUser(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		return svc.AddUser(r.Context(), actor, id)
	})
}

// LicenseRemoveUser releases a seat.
func LicenseRemoveUser(svc licenses.Service, logg *logger.Logger) http.HandlerFunc {
	return lifecycleHandler(svc, logg, func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error) {
		return svc.RemoveUser(r.Context(), actor, id)
	})
}

func lifecycleHandler(svc licenses.Service, logg *logger.Logger, fn func(r *http.Request, actor *outbox.ActorRef, id uuid.UUID) (*models.License, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := validators.ParsePathUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := fn(r, actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, licenseResponseFromModel(row))
	}
}

func actorFromContext(r *http.Request) (*outbox.ActorRef, error) {
	rawUser := middleware.UserIDFromContext(r.Context())
	if rawUser == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return &outbox.ActorRef{
		UserID: userID,
		Role:   middleware.RoleFromContext(r.Context()),
	}, nil
}

type licenseResponse struct {
	ID              uuid.UUID           `json:"id"`
	ProductID       uuid.UUID           `json:"product_id"`
	CustomerID      uuid.UUID           `json:"customer_id"`
	Key             string              `json:"key"`
	Type            enums.LicenseType   `json:"type"`
	Status          enums.LicenseStatus `json:"status"`
	StatusReason    *string             `json:"status_reason,omitempty"`
	Notes           *string             `json:"notes,omitempty"`
	MaxUsers        int                 `json:"max_users"`
	CurrentUsers    int                 `json:"current_users"`
	IssuedAt        time.Time           `json:"issued_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	ActivatedAt     *time.Time          `json:"activated_at,omitempty"`
	LastValidatedAt *time.Time          `json:"last_validated_at,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func licenseResponseFromModel(m *models.License) licenseResponse {
	return licenseResponse{
		ID:              m.ID,
		ProductID:       m.ProductID,
		CustomerID:      m.CustomerID,
		Key:             m.Key,
		Type:            m.Type,
		Status:          m.Status,
		StatusReason:    m.StatusReason,
		Notes:           m.Notes,
		MaxUsers:        m.MaxUsers,
		CurrentUsers:    m.CurrentUsers,
		IssuedAt:        m.IssuedAt,
		ExpiresAt:       m.ExpiresAt,
		ActivatedAt:     m.ActivatedAt,
		LastValidatedAt: m.LastValidatedAt,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
