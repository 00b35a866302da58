package licenses

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgpagination "github.com/keyhavenhq/keyhaven-backend/pkg/pagination"
)

// ListParams selects which licenses to page through. Exactly one scope is
// populated per call; the service constructors fill it in.
type ListParams struct {
	CustomerID *uuid.UUID
	ProductID  *uuid.UUID
	Status     *enums.LicenseStatus
	// ExpiringWithin limits results to live licenses expiring inside the
	// window measured from now.
	ExpiringWithin *time.Duration
	pkgpagination.Params
}

type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID              uuid.UUID           `json:"id"`
	ProductID       uuid.UUID           `json:"product_id"`
	CustomerID      uuid.UUID           `json:"customer_id"`
	Key             string              `json:"key"`
	Type            enums.LicenseType   `json:"type"`
	Status          enums.LicenseStatus `json:"status"`
	StatusReason    *string             `json:"status_reason,omitempty"`
	MaxUsers        int                 `json:"max_users"`
	CurrentUsers    int                 `json:"current_users"`
	IssuedAt        time.Time           `json:"issued_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
	ActivatedAt     *time.Time          `json:"activated_at,omitempty"`
	LastValidatedAt *time.Time          `json:"last_validated_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type expiryWindow struct {
	From  time.Time
	Until time.Time
}

type listQuery struct {
	customerID     *uuid.UUID
	productID      *uuid.UUID
	status         *enums.LicenseStatus
	expiringWithin *expiryWindow
	limit          int
	cursor         *pkgpagination.Cursor
}

func toListItem(m models.License) ListItem {
	return ListItem{
		ID:              m.ID,
		ProductID:       m.ProductID,
		CustomerID:      m.CustomerID,
		Key:             m.Key,
		Type:            m.Type,
		Status:          m.Status,
		StatusReason:    m.StatusReason,
		MaxUsers:        m.MaxUsers,
		CurrentUsers:    m.CurrentUsers,
		IssuedAt:        m.IssuedAt,
		ExpiresAt:       m.ExpiresAt,
		ActivatedAt:     m.ActivatedAt,
		LastValidatedAt: m.LastValidatedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
