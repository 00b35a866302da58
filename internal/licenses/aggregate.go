package licenses

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
	"github.com/keyhavenhq/keyhaven-backend/pkg/keys"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox/payloads"
)

// Aggregate wraps a license row and enforces the lifecycle rules. Mutations
// either fully apply or leave the row untouched; emitted events are buffered
// until the surrounding transaction queues them on the outbox.
type Aggregate struct {
	row     *models.License
	now     func() time.Time
	pending []outbox.DomainEvent
}

// IssueInput holds the fields required to issue a new license.
type IssueInput struct {
	ProductID  uuid.UUID
	CustomerID uuid.UUID
	Key        keys.LicenseKey
	Type       enums.LicenseType
	MaxUsers   int
	ExpiresAt  time.Time
	Notes      *string
}

// Verdict is the outcome of a validation check. Validation never fails on
// domain grounds; an invalid license yields Valid=false with a reason.
type Verdict struct {
	Valid          bool                `json:"valid"`
	Reason         string              `json:"reason,omitempty"`
	Status         enums.LicenseStatus `json:"status"`
	RemainingSeats int                 `json:"remaining_seats"`
	ExpiresAt      time.Time           `json:"expires_at"`
}

// Issue creates a new license in pending state and records the created event.
func Issue(input IssueInput, now func() time.Time) (*Aggregate, error) {
	if now == nil {
		now = time.Now
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.Key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid license type")
	}
	if input.MaxUsers < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max users must be at least 1")
	}
	issuedAt := now().UTC()
	if !input.ExpiresAt.After(issuedAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiration must be in the future")
	}

	agg := &Aggregate{
		row: &models.License{
			// Assigned client-side so the created event can reference it.
			ID:           uuid.New(),
			ProductID:    input.ProductID,
			CustomerID:   input.CustomerID,
			Key:          input.Key.String(),
			Type:         input.Type,
			Status:       enums.LicenseStatusPending,
			Notes:        input.Notes,
			MaxUsers:     input.MaxUsers,
			CurrentUsers: 0,
			IssuedAt:     issuedAt,
			ExpiresAt:    input.ExpiresAt.UTC(),
			Version:      1,
		},
		now: now,
	}
	agg.record(enums.EventLicenseCreated, payloads.LicenseCreatedEvent{
		LicenseID:  agg.row.ID,
		ProductID:  agg.row.ProductID,
		CustomerID: agg.row.CustomerID,
		Type:       agg.row.Type,
		MaxUsers:   agg.row.MaxUsers,
		IssuedAt:   agg.row.IssuedAt,
		ExpiresAt:  agg.row.ExpiresAt,
	})
	return agg, nil
}

// Restore wraps an existing row loaded from the repository.
func Restore(row *models.License, now func() time.Time) *Aggregate {
	if now == nil {
		now = time.Now
	}
	return &Aggregate{row: row, now: now}
}

// Row exposes the underlying license row.
func (a *Aggregate) Row() *models.License {
	return a.row
}

// Events drains the buffered domain events.
func (a *Aggregate) Events() []outbox.DomainEvent {
	events := a.pending
	a.pending = nil
	return events
}

func (a *Aggregate) record(eventType enums.OutboxEventType, data interface{}) {
	a.pending = append(a.pending, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLicense,
		AggregateID:   a.row.ID,
		Data:          data,
		Version:       1,
		OccurredAt:    a.now().UTC(),
	})
}

func (a *Aggregate) overdue() bool {
	return !a.row.ExpiresAt.After(a.now().UTC())
}

// Activate moves a pending or suspended license to active. Reactivating from
// suspended needs no separate resume call.
func (a *Aggregate) Activate() error {
	switch {
	case a.row.Status == enums.LicenseStatusRevoked:
		return ErrLicenseRevoked
	case a.row.Status == enums.LicenseStatusActive:
		return ErrAlreadyActive
	case a.row.Status == enums.LicenseStatusExpired || a.overdue():
		return ErrLicenseExpired
	}

	activatedAt := a.now().UTC()
	a.row.Status = enums.LicenseStatusActive
	a.row.ActivatedAt = &activatedAt
	a.row.StatusReason = nil
	a.record(enums.EventLicenseActivated, payloads.LicenseActivatedEvent{
		LicenseID:   a.row.ID,
		ProductID:   a.row.ProductID,
		CustomerID:  a.row.CustomerID,
		ActivatedAt: activatedAt,
	})
	return nil
}

// Suspend pauses an active license with a mandatory reason.
func (a *Aggregate) Suspend(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "suspension reason is required")
	}
	switch a.row.Status {
	case enums.LicenseStatusRevoked:
		return ErrLicenseRevoked
	case enums.LicenseStatusActive:
	default:
		return ErrNotActive
	}

	a.row.Status = enums.LicenseStatusSuspended
	a.row.StatusReason = &reason
	a.record(enums.EventLicenseSuspended, payloads.LicenseSuspendedEvent{
		LicenseID:   a.row.ID,
		CustomerID:  a.row.CustomerID,
		Reason:      reason,
		SuspendedAt: a.now().UTC(),
	})
	return nil
}

// Revoke terminates the license permanently. Allowed from every state except
// revoked itself.
func (a *Aggregate) Revoke(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "revocation reason is required")
	}
	if a.row.Status == enums.LicenseStatusRevoked {
		return ErrAlreadyRevoked
	}

	a.row.Status = enums.LicenseStatusRevoked
	a.row.StatusReason = &reason
	a.record(enums.EventLicenseRevoked, payloads.LicenseRevokedEvent{
		LicenseID:  a.row.ID,
		CustomerID: a.row.CustomerID,
		Reason:     reason,
		RevokedAt:  a.now().UTC(),
	})
	return nil
}

// Extend pushes the expiration forward. Extending an expired license revives
// it to active; a suspended license stays suspended.
func (a *Aggregate) Extend(newExpiresAt time.Time) error {
	if a.row.Status == enums.LicenseStatusRevoked {
		return ErrLicenseRevoked
	}
	newExpiresAt = newExpiresAt.UTC()
	if !newExpiresAt.After(a.row.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("new expiration must be after %s", a.row.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	oldExpiresAt := a.row.ExpiresAt
	a.row.ExpiresAt = newExpiresAt
	if a.row.Status == enums.LicenseStatusExpired {
		a.row.Status = enums.LicenseStatusActive
		a.row.StatusReason = nil
	}
	a.record(enums.EventLicenseExtended, payloads.LicenseExtendedEvent{
		LicenseID:    a.row.ID,
		CustomerID:   a.row.CustomerID,
		OldExpiresAt: oldExpiresAt,
		NewExpiresAt: newExpiresAt,
	})
	return nil
}

// Validate is the check product installations run continuously. It always
// stamps last_validated_at, lazily expires any overdue license that is not
// already terminal, and returns a verdict instead of an error.
func (a *Aggregate) Validate() Verdict {
	checkedAt := a.now().UTC()
	a.row.LastValidatedAt = &checkedAt

	if a.overdue() &&
		a.row.Status != enums.LicenseStatusRevoked &&
		a.row.Status != enums.LicenseStatusExpired {
		a.row.Status = enums.LicenseStatusExpired
		a.record(enums.EventLicenseExpired, payloads.LicenseExpiredEvent{
			LicenseID:  a.row.ID,
			CustomerID: a.row.CustomerID,
			ExpiresAt:  a.row.ExpiresAt,
			ExpiredAt:  checkedAt,
		})
	}

	verdict := Verdict{
		Status:         a.row.Status,
		RemainingSeats: a.row.MaxUsers - a.row.CurrentUsers,
		ExpiresAt:      a.row.ExpiresAt,
	}
	switch a.row.Status {
	case enums.LicenseStatusActive:
		verdict.Valid = true
	case enums.LicenseStatusPending:
		verdict.Reason = "license has not been activated"
	case enums.LicenseStatusSuspended:
		verdict.Reason = "license is suspended"
	case enums.LicenseStatusRevoked:
		verdict.Reason = "license has been revoked"
	case enums.LicenseStatusExpired:
		verdict.Reason = "license has expired"
	}
	return verdict
}

// ExpireOverdue flips an overdue license to expired on behalf of the sweep.
// Unlike Validate it never touches last_validated_at.
func (a *Aggregate) ExpireOverdue() error {
	switch a.row.Status {
	case enums.LicenseStatusRevoked:
		return ErrLicenseRevoked
	case enums.LicenseStatusExpired:
		return ErrAlreadyExpired
	}
	if !a.overdue() {
		return pkgerrors.New(pkgerrors.CodeValidation, "license is not overdue")
	}

	a.row.Status = enums.LicenseStatusExpired
	a.record(enums.EventLicenseExpired, payloads.LicenseExpiredEvent{
		LicenseID:  a.row.ID,
		CustomerID: a.row.CustomerID,
		ExpiresAt:  a.row.ExpiresAt,
		ExpiredAt:  a.now().UTC(),
	})
	return nil
}

// AddUser assigns a seat on an active, unexpired license.
func (a *Aggregate) AddUser() error {
	if a.row.Status != enums.LicenseStatusActive {
		return ErrNotActive
	}
	if a.overdue() {
		return ErrLicenseExpired
	}
	if a.row.CurrentUsers >= a.row.MaxUsers {
		return ErrSeatLimitExceeded
	}
	a.row.CurrentUsers++
	return nil
}

// RemoveUser releases a seat. Allowed in any state so customers can wind down
// suspended or expired licenses.
func (a *Aggregate) RemoveUser() error {
	if a.row.CurrentUsers <= 0 {
		return ErrNoSeatsToRemove
	}
	a.row.CurrentUsers--
	return nil
}
