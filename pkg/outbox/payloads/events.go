package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
)

// LicenseCreatedEvent is emitted when a license is issued in pending state.
type LicenseCreatedEvent struct {
	LicenseID  uuid.UUID         `json:"licenseId"`
	ProductID  uuid.UUID         `json:"productId"`
	CustomerID uuid.UUID         `json:"customerId"`
	Type       enums.LicenseType `json:"type"`
	MaxUsers   int               `json:"maxUsers"`
	IssuedAt   time.Time         `json:"issuedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// LicenseActivatedEvent signals the license entered active state.
type LicenseActivatedEvent struct {
	LicenseID   uuid.UUID `json:"licenseId"`
	ProductID   uuid.UUID `json:"productId"`
	CustomerID  uuid.UUID `json:"customerId"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// LicenseSuspendedEvent carries the suspension reason.
type LicenseSuspendedEvent struct {
	LicenseID   uuid.UUID `json:"licenseId"`
	CustomerID  uuid.UUID `json:"customerId"`
	Reason      string    `json:"reason"`
	SuspendedAt time.Time `json:"suspendedAt"`
}

// LicenseRevokedEvent marks the terminal revocation of a license.
type LicenseRevokedEvent struct {
	LicenseID  uuid.UUID `json:"licenseId"`
	CustomerID uuid.UUID `json:"customerId"`
	Reason     string    `json:"reason"`
	RevokedAt  time.Time `json:"revokedAt"`
}

// LicenseExpiredEvent describes the payload for expired licenses.
type LicenseExpiredEvent struct {
	LicenseID  uuid.UUID `json:"licenseId"`
	CustomerID uuid.UUID `json:"customerId"`
	ExpiresAt  time.Time `json:"expiresAt"`
	ExpiredAt  time.Time `json:"expiredAt"`
}

// LicenseExtendedEvent records an expiration extension.
type LicenseExtendedEvent struct {
	LicenseID    uuid.UUID `json:"licenseId"`
	CustomerID   uuid.UUID `json:"customerId"`
	OldExpiresAt time.Time `json:"oldExpiresAt"`
	NewExpiresAt time.Time `json:"newExpiresAt"`
}

// LicenseExpiringSoonEvent describes the payload for the warning.
type LicenseExpiringSoonEvent struct {
	LicenseID           uuid.UUID `json:"licenseId"`
	CustomerID          uuid.UUID `json:"customerId"`
	ExpiresAt           time.Time `json:"expiresAt"`
	DaysUntilExpiration int       `json:"daysUntilExpiration"`
}

// NotificationRequestedEvent tells downstream systems to alert a customer.
type NotificationRequestedEvent struct {
	LicenseID  uuid.UUID `json:"licenseId"`
	CustomerID uuid.UUID `json:"customerId"`
	Type       string    `json:"type"`
}
