package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
)

const defaultSweepBatch = 200

type licensesRepository interface {
	FindOverdue(ctx context.Context, asOf time.Time, limit int) ([]models.License, error)
	FindExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.License, error)
	FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.License, error)
	UpdateTx(tx *gorm.DB, license *models.License) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LicenseExpiryJobParams configure the overdue-license sweep.
type LicenseExpiryJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	LicenseRepo licensesRepository
	Outbox      outboxEmitter
	BatchSize   int
}

// NewLicenseExpiryJob constructs the sweep that flips overdue licenses to
// expired and queues the expiry events.
func NewLicenseExpiryJob(params LicenseExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.LicenseRepo == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &licenseExpiryJob{
		logg:  params.Logger,
		db:    params.DB,
		repo:  params.LicenseRepo,
		box:   params.Outbox,
		batch: batch,
		now:   time.Now,
	}, nil
}

type licenseExpiryJob struct {
	logg  *logger.Logger
	db    txRunner
	repo  licensesRepository
	box   outboxEmitter
	batch int
	now   func() time.Time
}

func (j *licenseExpiryJob) Name() string { return "license-expiry" }

func (j *licenseExpiryJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	rows, err := j.repo.FindOverdue(ctx, asOf, j.batch)
	if err != nil {
		return fmt.Errorf("query overdue licenses: %w", err)
	}

	var errs []error
	expired, skipped := 0, 0
	for _, row := range rows {
		switch err := j.expireOne(ctx, row.ID); {
		case err == nil:
			expired++
		case errors.Is(err, licenses.ErrVersionConflict),
			errors.Is(err, licenses.ErrAlreadyExpired),
			errors.Is(err, licenses.ErrLicenseRevoked):
			// Someone else transitioned the license between the query and
			// the write. Nothing left to do for this one.
			skipped++
		default:
			errs = append(errs, fmt.Errorf("expire license %s: %w", row.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"expired":    expired,
		"skipped":    skipped,
		"failed":     len(errs),
	})
	j.logg.Info(logCtx, "license expiry sweep complete")
	return multierr.Combine(errs...)
}

// expireOne reloads the row inside its own transaction so each license
// succeeds or fails independently of the rest of the batch.
func (j *licenseExpiryJob) expireOne(ctx context.Context, id uuid.UUID) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := j.repo.FindByIDTx(tx, id)
		if err != nil {
			return err
		}
		agg := licenses.Restore(row, j.now)
		if err := agg.ExpireOverdue(); err != nil {
			return err
		}
		if err := j.repo.UpdateTx(tx, row); err != nil {
			return err
		}
		for _, event := range agg.Events() {
			if err := j.box.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
