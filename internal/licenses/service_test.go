package licenses

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
	"github.com/keyhavenhq/keyhaven-backend/pkg/keys"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
	pkgpagination "github.com/keyhavenhq/keyhaven-backend/pkg/pagination"
)

type stubLicenseRepo struct {
	row        *models.License
	findErr    error
	inserted   []*models.License
	insertErrs []error
	updateErrs []error
	updates    int
	listRows   []models.License
	listErr    error
	lastQuery  listQuery
}

func (s *stubLicenseRepo) InsertTx(tx *gorm.DB, license *models.License) error {
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, license)
	return nil
}

func (s *stubLicenseRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return s.find()
}

func (s *stubLicenseRepo) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.License, error) {
	return s.find()
}

func (s *stubLicenseRepo) FindByKey(ctx context.Context, key string) (*models.License, error) {
	return s.find()
}

func (s *stubLicenseRepo) FindByKeyTx(tx *gorm.DB, key string) (*models.License, error) {
	return s.find()
}

func (s *stubLicenseRepo) find() (*models.License, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
	}
	// The service mutates the returned row in place; hand out a copy per load
	// the way a fresh query would.
	clone := *s.row
	return &clone, nil
}

func (s *stubLicenseRepo) UpdateTx(tx *gorm.DB, license *models.License) error {
	s.updates++
	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	license.Version++
	clone := *license
	s.row = &clone
	return nil
}

func (s *stubLicenseRepo) List(ctx context.Context, opts listQuery) ([]models.License, error) {
	s.lastQuery = opts
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listRows, nil
}

type stubTxRunner struct {
	calls int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	return fn(nil)
}

type stubEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestService(t *testing.T, repo *stubLicenseRepo, emitter *stubEmitter) (Service, *stubTxRunner) {
	t.Helper()
	tx := &stubTxRunner{}
	svc, err := NewService(repo, tx, emitter, testLogger(), 3, 2)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.(*service).now = fixedNow
	return svc, tx
}

func validCreateInput() CreateLicenseInput {
	return CreateLicenseInput{
		ProductID:  uuid.New(),
		CustomerID: uuid.New(),
		Type:       enums.LicenseTypeEnterprise,
		MaxUsers:   10,
		ExpiresAt:  testNow.Add(365 * 24 * time.Hour),
	}
}

func TestCreate(t *testing.T) {
	repo := &stubLicenseRepo{}
	emitter := &stubEmitter{}
	svc, _ := newTestService(t, repo, emitter)

	created, err := svc.Create(context.Background(), nil, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if created.Status != enums.LicenseStatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	if _, err := keys.Parse(created.Key); err != nil {
		t.Fatalf("generated key invalid: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(repo.inserted))
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventLicenseCreated {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
	if emitter.events[0].AggregateID != created.ID {
		t.Fatal("expected event aggregate id to match license id")
	}
}

func TestCreateRetriesKeyCollision(t *testing.T) {
	collision := errors.New(`duplicate key value violates unique constraint "ux_licenses_key"`)
	repo := &stubLicenseRepo{insertErrs: []error{collision}}
	emitter := &stubEmitter{}
	svc, tx := newTestService(t, repo, emitter)

	created, err := svc.Create(context.Background(), nil, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created == nil {
		t.Fatal("expected created license")
	}
	if tx.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", tx.calls)
	}
}

func TestCreateExhaustsKeyAttempts(t *testing.T) {
	collision := errors.New(`duplicate key value violates unique constraint "ux_licenses_key"`)
	repo := &stubLicenseRepo{insertErrs: []error{collision, collision, collision}}
	svc, _ := newTestService(t, repo, &stubEmitter{})

	_, err := svc.Create(context.Background(), nil, validCreateInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeDependency {
		t.Fatalf("unexpected code %s", pkgerrors.As(err).Code())
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubLicenseRepo{}, &stubEmitter{})

	input := validCreateInput()
	input.MaxUsers = 0
	_, err := svc.Create(context.Background(), nil, input)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActivate(t *testing.T) {
	repo := &stubLicenseRepo{row: testRow(enums.LicenseStatusPending)}
	emitter := &stubEmitter{}
	svc, _ := newTestService(t, repo, emitter)

	actor := &outbox.ActorRef{UserID: uuid.New(), Role: "admin"}
	updated, err := svc.Activate(context.Background(), actor, repo.row.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	if updated.Status != enums.LicenseStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", updated.Version)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventLicenseActivated {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
	if emitter.events[0].Actor == nil || emitter.events[0].Actor.UserID != actor.UserID {
		t.Fatal("expected actor stamped on event")
	}
}

func TestMutateDomainErrorNotRetried(t *testing.T) {
	repo := &stubLicenseRepo{row: testRow(enums.LicenseStatusActive)}
	emitter := &stubEmitter{}
	svc, tx := newTestService(t, repo, emitter)

	_, err := svc.Activate(context.Background(), nil, repo.row.ID)
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if tx.calls != 1 {
		t.Fatalf("domain errors must not retry, got %d attempts", tx.calls)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no update, got %d", repo.updates)
	}
	if len(emitter.events) != 0 {
		t.Fatal("expected no events")
	}
}

func TestMutateRetriesVersionConflict(t *testing.T) {
	repo := &stubLicenseRepo{
		row:        testRow(enums.LicenseStatusPending),
		updateErrs: []error{ErrVersionConflict},
	}
	emitter := &stubEmitter{}
	svc, tx := newTestService(t, repo, emitter)

	updated, err := svc.Activate(context.Background(), nil, repo.row.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if updated.Status != enums.LicenseStatusActive {
		t.Fatalf("expected active, got %s", updated.Status)
	}
	if tx.calls != 2 {
		t.Fatalf("expected conflict retry, got %d attempts", tx.calls)
	}
}

func TestMutateExhaustsVersionRetries(t *testing.T) {
	repo := &stubLicenseRepo{
		row:        testRow(enums.LicenseStatusPending),
		updateErrs: []error{ErrVersionConflict, ErrVersionConflict, ErrVersionConflict},
	}
	svc, tx := newTestService(t, repo, &stubEmitter{})

	_, err := svc.Activate(context.Background(), nil, repo.row.ID)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if tx.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tx.calls)
	}
}

func TestSuspendRevokeExtend(t *testing.T) {
	repo := &stubLicenseRepo{row: testRow(enums.LicenseStatusActive)}
	emitter := &stubEmitter{}
	svc, _ := newTestService(t, repo, emitter)
	ctx := context.Background()

	updated, err := svc.Suspend(ctx, nil, repo.row.ID, "billing hold")
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if updated.Status != enums.LicenseStatusSuspended {
		t.Fatalf("expected suspended, got %s", updated.Status)
	}

	updated, err = svc.Extend(ctx, nil, repo.row.ID, repo.row.ExpiresAt.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if updated.Status != enums.LicenseStatusSuspended {
		t.Fatalf("extend must keep suspended, got %s", updated.Status)
	}

	updated, err = svc.Revoke(ctx, nil, repo.row.ID, "contract terminated")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if updated.Status != enums.LicenseStatusRevoked {
		t.Fatalf("expected revoked, got %s", updated.Status)
	}

	want := []enums.OutboxEventType{
		enums.EventLicenseSuspended,
		enums.EventLicenseExtended,
		enums.EventLicenseRevoked,
	}
	if len(emitter.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(emitter.events))
	}
	for i, eventType := range want {
		if emitter.events[i].EventType != eventType {
			t.Fatalf("event %d: expected %s, got %s", i, eventType, emitter.events[i].EventType)
		}
	}
}

func TestSeatOperations(t *testing.T) {
	row := testRow(enums.LicenseStatusActive)
	row.MaxUsers = 1
	repo := &stubLicenseRepo{row: row}
	emitter := &stubEmitter{}
	svc, _ := newTestService(t, repo, emitter)
	ctx := context.Background()

	updated, err := svc.AddUser(ctx, nil, row.ID)
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	if updated.CurrentUsers != 1 {
		t.Fatalf("expected 1 seat, got %d", updated.CurrentUsers)
	}

	if _, err := svc.AddUser(ctx, nil, row.ID); !errors.Is(err, ErrSeatLimitExceeded) {
		t.Fatalf("expected ErrSeatLimitExceeded, got %v", err)
	}

	updated, err = svc.RemoveUser(ctx, nil, row.ID)
	if err != nil {
		t.Fatalf("remove user: %v", err)
	}
	if updated.CurrentUsers != 0 {
		t.Fatalf("expected 0 seats, got %d", updated.CurrentUsers)
	}

	if len(emitter.events) != 0 {
		t.Fatalf("seat changes must not emit events, got %+v", emitter.events)
	}
}

func TestValidateKnownActive(t *testing.T) {
	row := testRow(enums.LicenseStatusActive)
	row.CurrentUsers = 4
	repo := &stubLicenseRepo{row: row}
	svc, _ := newTestService(t, repo, &stubEmitter{})

	verdict, err := svc.Validate(context.Background(), row.Key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("expected valid verdict, got %+v", verdict)
	}
	if verdict.RemainingSeats != 1 {
		t.Fatalf("expected 1 remaining seat, got %d", verdict.RemainingSeats)
	}
	if repo.row.LastValidatedAt == nil {
		t.Fatal("expected last_validated_at persisted")
	}
	if repo.updates != 1 {
		t.Fatalf("expected 1 update, got %d", repo.updates)
	}
}

func TestValidateForceExpiresOverdue(t *testing.T) {
	row := testRow(enums.LicenseStatusActive)
	row.ExpiresAt = testNow.Add(-time.Hour)
	repo := &stubLicenseRepo{row: row}
	emitter := &stubEmitter{}
	svc, _ := newTestService(t, repo, emitter)

	verdict, err := svc.Validate(context.Background(), row.Key)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || verdict.Status != enums.LicenseStatusExpired {
		t.Fatalf("expected expired verdict, got %+v", verdict)
	}
	if repo.row.Status != enums.LicenseStatusExpired {
		t.Fatalf("expected row persisted as expired, got %s", repo.row.Status)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventLicenseExpired {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
}

func TestValidateUnknownKey(t *testing.T) {
	repo := &stubLicenseRepo{}
	svc, _ := newTestService(t, repo, &stubEmitter{})

	verdict, err := svc.Validate(context.Background(), "ABCDE-FGHJK-MNPQR-STVWX-YZ012")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid {
		t.Fatal("expected invalid verdict")
	}
	if verdict.Reason != "unknown license key" {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
	if repo.updates != 0 {
		t.Fatal("unknown key must not write")
	}
}

func TestValidateMalformedKey(t *testing.T) {
	svc, tx := newTestService(t, &stubLicenseRepo{}, &stubEmitter{})

	verdict, err := svc.Validate(context.Background(), "short")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || verdict.Reason != "malformed license key" {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
	if tx.calls != 0 {
		t.Fatal("malformed key must not touch the database")
	}
}

func TestListByCustomer(t *testing.T) {
	customerID := uuid.New()
	rows := make([]models.License, 3)
	for i := range rows {
		rows[i] = *testRow(enums.LicenseStatusActive)
		rows[i].CustomerID = customerID
		rows[i].CreatedAt = testNow.Add(-time.Duration(i) * time.Minute)
	}
	repo := &stubLicenseRepo{listRows: rows}
	svc, _ := newTestService(t, repo, &stubEmitter{})

	result, err := svc.ListByCustomer(context.Background(), customerID, pkgpagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected next cursor")
	}
	if repo.lastQuery.customerID == nil || *repo.lastQuery.customerID != customerID {
		t.Fatalf("expected customer filter, got %+v", repo.lastQuery)
	}
	if repo.lastQuery.limit != 3 {
		t.Fatalf("expected limit with buffer 3, got %d", repo.lastQuery.limit)
	}

	cursor, err := pkgpagination.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if cursor.ID != rows[2].ID {
		t.Fatal("cursor must point at the first row of the next page")
	}
}

func TestListExpiringWindow(t *testing.T) {
	repo := &stubLicenseRepo{}
	svc, _ := newTestService(t, repo, &stubEmitter{})

	window := 7 * 24 * time.Hour
	if _, err := svc.ListExpiring(context.Background(), window, pkgpagination.Params{}); err != nil {
		t.Fatalf("list expiring: %v", err)
	}

	got := repo.lastQuery.expiringWithin
	if got == nil {
		t.Fatal("expected expiry window")
	}
	if !got.From.Equal(testNow) || !got.Until.Equal(testNow.Add(window)) {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestListInvalidCursor(t *testing.T) {
	svc, _ := newTestService(t, &stubLicenseRepo{}, &stubEmitter{})

	_, err := svc.ListByStatus(context.Background(), enums.LicenseStatusActive, pkgpagination.Params{Cursor: "not-base64!"})
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubLicenseRepo{}, &stubEmitter{})

	if _, err := svc.Get(context.Background(), uuid.Nil); err == nil {
		t.Fatal("expected validation error for nil id")
	}
	if _, err := svc.ListByCustomer(context.Background(), uuid.Nil, pkgpagination.Params{}); err == nil {
		t.Fatal("expected validation error for nil customer id")
	}
	if _, err := svc.ListExpiring(context.Background(), 0, pkgpagination.Params{}); err == nil {
		t.Fatal("expected validation error for zero window")
	}
}
