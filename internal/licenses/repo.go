package licenses

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
)

// Repository exposes license persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a license repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertTx inserts a new license row inside the given transaction.
func (r *Repository) InsertTx(tx *gorm.DB, license *models.License) error {
	return tx.Create(license).Error
}

// FindByID loads a license outside any transaction.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return findOne(r.db.WithContext(ctx), "id = ?", id)
}

// FindByIDTx loads a license inside the given transaction. Lifecycle mutations
// go through this so the version read and the guarded update share a snapshot.
func (r *Repository) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.License, error) {
	return findOne(tx, "id = ?", id)
}

// FindByKey loads a license by its key string.
func (r *Repository) FindByKey(ctx context.Context, key string) (*models.License, error) {
	return findOne(r.db.WithContext(ctx), "key = ?", key)
}

// FindByKeyTx loads a license by key inside the given transaction.
func (r *Repository) FindByKeyTx(tx *gorm.DB, key string) (*models.License, error) {
	return findOne(tx, "key = ?", key)
}

func findOne(db *gorm.DB, query string, arg interface{}) (*models.License, error) {
	var row models.License
	if err := db.Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, err
	}
	return &row, nil
}

// UpdateTx persists a mutated license guarded by an optimistic version check.
// The write only lands when nobody bumped the version since the load; a lost
// race returns ErrVersionConflict and leaves the in-memory version untouched.
func (r *Repository) UpdateTx(tx *gorm.DB, license *models.License) error {
	currentVersion := license.Version
	license.Version = currentVersion + 1

	result := tx.Model(&models.License{}).
		Where("id = ? AND version = ?", license.ID, currentVersion).
		Updates(map[string]interface{}{
			"status":            license.Status,
			"status_reason":     license.StatusReason,
			"notes":             license.Notes,
			"max_users":         license.MaxUsers,
			"current_users":     license.CurrentUsers,
			"expires_at":        license.ExpiresAt,
			"activated_at":      license.ActivatedAt,
			"last_validated_at": license.LastValidatedAt,
			"version":           license.Version,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		license.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		license.Version = currentVersion
		return ErrVersionConflict
	}
	return nil
}

// List returns licenses matching the query filters using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.License, error) {
	query := r.db.WithContext(ctx).Model(&models.License{})

	if opts.customerID != nil {
		query = query.Where("customer_id = ?", *opts.customerID)
	}
	if opts.productID != nil {
		query = query.Where("product_id = ?", *opts.productID)
	}
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.expiringWithin != nil {
		query = query.
			Where("status IN ?", liveStatuses()).
			Where("expires_at > ?", opts.expiringWithin.From).
			Where("expires_at <= ?", opts.expiringWithin.Until)
	}

	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("id DESC").Limit(opts.limit)

	var rows []models.License
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOverdue returns non-terminal licenses whose expiration has passed,
// oldest expirations first, capped at limit. The expiry sweep consumes this.
func (r *Repository) FindOverdue(ctx context.Context, asOf time.Time, limit int) ([]models.License, error) {
	var rows []models.License
	err := r.db.WithContext(ctx).
		Model(&models.License{}).
		Where("status IN ?", liveStatuses()).
		Where("expires_at <= ?", asOf).
		Order("expires_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindExpiringBetween returns active licenses expiring inside the window,
// soonest first. The expiry warning job consumes this.
func (r *Repository) FindExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.License, error) {
	var rows []models.License
	err := r.db.WithContext(ctx).
		Model(&models.License{}).
		Where("status = ?", enums.LicenseStatusActive).
		Where("expires_at > ?", from).
		Where("expires_at <= ?", until).
		Order("expires_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func liveStatuses() []enums.LicenseStatus {
	return []enums.LicenseStatus{
		enums.LicenseStatusPending,
		enums.LicenseStatusActive,
		enums.LicenseStatusSuspended,
	}
}
