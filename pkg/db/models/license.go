package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
)

// License is the persisted lifecycle state of an issued software license.
// StatusReason carries the suspension/revocation explanation; Notes stays
// freeform and is never written by lifecycle transitions.
type License struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID       uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	Key             string              `gorm:"column:key;not null;unique"`
	Type            enums.LicenseType   `gorm:"column:type;type:license_type;not null"`
	Status          enums.LicenseStatus `gorm:"column:status;type:license_status;not null;default:'pending'"`
	StatusReason    *string             `gorm:"column:status_reason"`
	Notes           *string             `gorm:"column:notes"`
	MaxUsers        int                 `gorm:"column:max_users;not null"`
	CurrentUsers    int                 `gorm:"column:current_users;not null;default:0"`
	IssuedAt        time.Time           `gorm:"column:issued_at;not null"`
	ExpiresAt       time.Time           `gorm:"column:expires_at;not null"`
	ActivatedAt     *time.Time          `gorm:"column:activated_at"`
	LastValidatedAt *time.Time          `gorm:"column:last_validated_at"`
	Version         int64               `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
