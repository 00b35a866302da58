package cron

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox/payloads"
)

const defaultWarningWindow = 7 * 24 * time.Hour

type outboxDedupEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ExpiryWarningJobParams configure the expiring-soon notification job.
type ExpiryWarningJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	LicenseRepo licensesRepository
	Outbox      outboxDedupEmitter
	Window      time.Duration
	BatchSize   int
}

// NewExpiryWarningJob constructs the job that queues a single expiring-soon
// event, plus the matching customer notification request, per active license
// inside the warning window.
func NewExpiryWarningJob(params ExpiryWarningJobParams) (Job, error) {
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
	window := params.Window
	if window <= 0 {
		window = defaultWarningWindow
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &expiryWarningJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.LicenseRepo,
		box:    params.Outbox,
		window: window,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type expiryWarningJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   licensesRepository
	box    outboxDedupEmitter
	window time.Duration
	batch  int
	now    func() time.Time
}

func (j *expiryWarningJob) Name() string { return "license-expiry-warning" }

func (j *expiryWarningJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.repo.FindExpiringBetween(ctx, now, now.Add(j.window), j.batch)
	if err != nil {
		return fmt.Errorf("query expiring licenses: %w", err)
	}

	count := 0
	for _, row := range rows {
		if err := j.warnOne(ctx, now, row); err != nil {
			return fmt.Errorf("queue warning for license %s: %w", row.ID, err)
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "license expiry warning loop complete")
	return nil
}

func (j *expiryWarningJob) warnOne(ctx context.Context, now time.Time, row models.License) error {
	days := int(math.Ceil(row.ExpiresAt.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := j.box.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLicenseExpiringSoon,
			AggregateType: enums.AggregateLicense,
			AggregateID:   row.ID,
			Data: payloads.LicenseExpiringSoonEvent{
				LicenseID:           row.ID,
				CustomerID:          row.CustomerID,
				ExpiresAt:           row.ExpiresAt,
				DaysUntilExpiration: days,
			},
			Version:    1,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		// The customer-facing alert is a separate event so notification
		// consumers never have to understand license semantics.
		return j.box.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   row.ID,
			Data: payloads.NotificationRequestedEvent{
				LicenseID:  row.ID,
				CustomerID: row.CustomerID,
				Type:       string(enums.EventLicenseExpiringSoon),
			},
			Version:    1,
			OccurredAt: now,
		})
	})
}
