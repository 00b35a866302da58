package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhavenhq/keyhaven-backend/internal/licenses"
	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
)

var jobNow = time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC)

type fakeLicenseRepo struct {
	overdue   []models.License
	expiring  []models.License
	rows      map[uuid.UUID]*models.License
	updateErr error
	updates   int
}

func (f *fakeLicenseRepo) FindOverdue(ctx context.Context, asOf time.Time, limit int) ([]models.License, error) {
	return f.overdue, nil
}

func (f *fakeLicenseRepo) FindExpiringBetween(ctx context.Context, from, until time.Time, limit int) ([]models.License, error) {
	return f.expiring, nil
}

func (f *fakeLicenseRepo) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.License, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *row
	return &clone, nil
}

func (f *fakeLicenseRepo) UpdateTx(tx *gorm.DB, license *models.License) error {
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	license.Version++
	clone := *license
	f.rows[license.ID] = &clone
	return nil
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	for _, existing := range f.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	f.events = append(f.events, event)
	return nil
}

func overdueLicense(status enums.LicenseStatus) models.License {
	return models.License{
		ID:         uuid.New(),
		ProductID:  uuid.New(),
		CustomerID: uuid.New(),
		Key:        "ABCDE-FGHJK-MNPQR-STVWX-" + uuid.NewString()[:5],
		Type:       enums.LicenseTypeEnterprise,
		Status:     status,
		MaxUsers:   5,
		IssuedAt:   jobNow.Add(-365 * 24 * time.Hour),
		ExpiresAt:  jobNow.Add(-time.Hour),
		Version:    1,
	}
}

func newExpiryJob(t *testing.T, repo *fakeLicenseRepo, emitter *fakeEmitter) *licenseExpiryJob {
	t.Helper()
	jobIface, err := NewLicenseExpiryJob(LicenseExpiryJobParams{
		Logger:      cronTestLogger(),
		DB:          passthroughTxRunner{},
		LicenseRepo: repo,
		Outbox:      emitter,
	})
	if err != nil {
		t.Fatalf("NewLicenseExpiryJob: %v", err)
	}
	job := jobIface.(*licenseExpiryJob)
	job.now = func() time.Time { return jobNow }
	return job
}

func TestLicenseExpiryJobExpiresOverdue(t *testing.T) {
	active := overdueLicense(enums.LicenseStatusActive)
	pending := overdueLicense(enums.LicenseStatusPending)
	repo := &fakeLicenseRepo{
		overdue: []models.License{active, pending},
		rows: map[uuid.UUID]*models.License{
			active.ID:  &active,
			pending.ID: &pending,
		},
	}
	emitter := &fakeEmitter{}
	job := newExpiryJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []uuid.UUID{active.ID, pending.ID} {
		if repo.rows[id].Status != enums.LicenseStatusExpired {
			t.Fatalf("expected license %s expired, got %s", id, repo.rows[id].Status)
		}
		if repo.rows[id].LastValidatedAt != nil {
			t.Fatal("sweep must not stamp last_validated_at")
		}
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	for _, event := range emitter.events {
		if event.EventType != enums.EventLicenseExpired {
			t.Fatalf("unexpected event type %s", event.EventType)
		}
	}
}

func TestLicenseExpiryJobSkipsConcurrentTransitions(t *testing.T) {
	// The query returned it as overdue, but another writer revoked it before
	// the sweep reloaded the row.
	row := overdueLicense(enums.LicenseStatusRevoked)
	repo := &fakeLicenseRepo{
		overdue: []models.License{row},
		rows:    map[uuid.UUID]*models.License{row.ID: &row},
	}
	emitter := &fakeEmitter{}
	job := newExpiryJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("skipped transitions must not fail the run: %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no updates, got %d", repo.updates)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

func TestLicenseExpiryJobSkipsVersionConflicts(t *testing.T) {
	row := overdueLicense(enums.LicenseStatusActive)
	repo := &fakeLicenseRepo{
		overdue:   []models.License{row},
		rows:      map[uuid.UUID]*models.License{row.ID: &row},
		updateErr: licenses.ErrVersionConflict,
	}
	emitter := &fakeEmitter{}
	job := newExpiryJob(t, repo, emitter)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("version conflicts must not fail the run: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

func TestLicenseExpiryJobReportsOtherFailures(t *testing.T) {
	row := overdueLicense(enums.LicenseStatusActive)
	repo := &fakeLicenseRepo{
		overdue:   []models.License{row},
		rows:      map[uuid.UUID]*models.License{row.ID: &row},
		updateErr: errors.New("connection reset"),
	}
	job := newExpiryJob(t, repo, &fakeEmitter{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
