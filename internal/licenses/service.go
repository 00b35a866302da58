package licenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	dbpkg "github.com/keyhavenhq/keyhaven-backend/pkg/db"
	"github.com/keyhavenhq/keyhaven-backend/pkg/db/models"
	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
	"github.com/keyhavenhq/keyhaven-backend/pkg/keys"
	"github.com/keyhavenhq/keyhaven-backend/pkg/logger"
	"github.com/keyhavenhq/keyhaven-backend/pkg/outbox"
	pkgpagination "github.com/keyhavenhq/keyhaven-backend/pkg/pagination"
)

type licensesRepository interface {
	InsertTx(tx *gorm.DB, license *models.License) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.License, error)
	FindByKey(ctx context.Context, key string) (*models.License, error)
	FindByKeyTx(tx *gorm.DB, key string) (*models.License, error)
	UpdateTx(tx *gorm.DB, license *models.License) error
	List(ctx context.Context, opts listQuery) ([]models.License, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes the license lifecycle, seat accounting, validation, and
// query semantics.
type Service interface {
	Create(ctx context.Context, actor *outbox.ActorRef, input CreateLicenseInput) (*models.License, error)
	Activate(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error)
	Suspend(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, reason string) (*models.License, error)
	Revoke(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, reason string) (*models.License, error)
	Extend(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, newExpiresAt time.Time) (*models.License, error)
	AddUser(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error)
	RemoveUser(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error)
	Validate(ctx context.Context, key string) (*Verdict, error)
	Get(ctx context.Context, licenseID uuid.UUID) (*models.License, error)
	GetByKey(ctx context.Context, key string) (*models.License, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pkgpagination.Params) (*ListResult, error)
	ListByProduct(ctx context.Context, productID uuid.UUID, params pkgpagination.Params) (*ListResult, error)
	ListByStatus(ctx context.Context, status enums.LicenseStatus, params pkgpagination.Params) (*ListResult, error)
	ListExpiring(ctx context.Context, within time.Duration, params pkgpagination.Params) (*ListResult, error)
}

// CreateLicenseInput holds the metadata required to issue a license. The key
// is always generated server-side.
type CreateLicenseInput struct {
	ProductID  uuid.UUID
	CustomerID uuid.UUID
	Type       enums.LicenseType
	MaxUsers   int
	ExpiresAt  time.Time
	Notes      *string
}

type service struct {
	repo              licensesRepository
	tx                txRunner
	emitter           outboxEmitter
	logg              *logger.Logger
	keyInsertAttempts int
	writeRetries      uint64
	now               func() time.Time
	generateKey       func() keys.LicenseKey
}

// NewService builds a license service backed by the provided repository,
// transaction runner, and outbox emitter.
func NewService(repo licensesRepository, tx txRunner, emitter outboxEmitter, logg *logger.Logger, keyInsertAttempts, writeRetries int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if keyInsertAttempts <= 0 {
		return nil, fmt.Errorf("key insert attempts must be positive")
	}
	if writeRetries < 0 {
		return nil, fmt.Errorf("write retries must not be negative")
	}
	return &service{
		repo:              repo,
		tx:                tx,
		emitter:           emitter,
		logg:              logg,
		keyInsertAttempts: keyInsertAttempts,
		writeRetries:      uint64(writeRetries),
		now:               time.Now,
		generateKey:       keys.Generate,
	}, nil
}

func (s *service) Create(ctx context.Context, actor *outbox.ActorRef, input CreateLicenseInput) (*models.License, error) {
	var created *models.License

	// A generated key can collide with an existing row. Regenerate and retry
	// the whole insert; anything else fails immediately.
	for attempt := 0; attempt < s.keyInsertAttempts; attempt++ {
		agg, err := Issue(IssueInput{
			ProductID:  input.ProductID,
			CustomerID: input.CustomerID,
			Key:        s.generateKey(),
			Type:       input.Type,
			MaxUsers:   input.MaxUsers,
			ExpiresAt:  input.ExpiresAt,
			Notes:      input.Notes,
		}, s.now)
		if err != nil {
			return nil, err
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.InsertTx(tx, agg.Row()); err != nil {
				return err
			}
			return s.emitEvents(ctx, tx, actor, agg)
		})
		if err == nil {
			created = agg.Row()
			break
		}
		if dbpkg.IsUniqueViolation(err, "ux_licenses_key") {
			continue
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create license")
	}
	if created == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "could not generate a unique license key")
	}

	s.logg.Info(s.logg.WithLicenseID(ctx, created.ID.String()), "license created")
	return created, nil
}

func (s *service) Activate(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "license activated", func(agg *Aggregate) error {
		return agg.Activate()
	})
}

func (s *service) Suspend(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, reason string) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "license suspended", func(agg *Aggregate) error {
		return agg.Suspend(reason)
	})
}

func (s *service) Revoke(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, reason string) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "license revoked", func(agg *Aggregate) error {
		return agg.Revoke(reason)
	})
}

func (s *service) Extend(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, newExpiresAt time.Time) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "license extended", func(agg *Aggregate) error {
		return agg.Extend(newExpiresAt)
	})
}

func (s *service) AddUser(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "seat assigned", func(agg *Aggregate) error {
		return agg.AddUser()
	})
}

func (s *service) RemoveUser(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID) (*models.License, error) {
	return s.mutate(ctx, actor, licenseID, "seat released", func(agg *Aggregate) error {
		return agg.RemoveUser()
	})
}

// Validate answers a product installation's license check. An unknown key is
// an invalid verdict, not an error; a known key always records the check and
// may lazily expire the license.
func (s *service) Validate(ctx context.Context, key string) (*Verdict, error) {
	parsed, err := keys.Parse(key)
	if err != nil {
		return &Verdict{Valid: false, Reason: "malformed license key"}, nil
	}

	var verdict Verdict
	found := true
	err = s.withVersionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			row, err := s.repo.FindByKeyTx(tx, parsed.String())
			if err != nil {
				if pkgerrors.As(err).Code() == pkgerrors.CodeNotFound {
					found = false
					return nil
				}
				return err
			}
			found = true
			agg := Restore(row, s.now)
			verdict = agg.Validate()
			if err := s.repo.UpdateTx(tx, row); err != nil {
				return err
			}
			return s.emitEvents(ctx, tx, nil, agg)
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate license")
	}
	if !found {
		return &Verdict{Valid: false, Reason: "unknown license key"}, nil
	}
	return &verdict, nil
}

func (s *service) Get(ctx context.Context, licenseID uuid.UUID) (*models.License, error) {
	if licenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}
	return s.repo.FindByID(ctx, licenseID)
}

func (s *service) GetByKey(ctx context.Context, key string) (*models.License, error) {
	parsed, err := keys.Parse(key)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByKey(ctx, parsed.String())
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pkgpagination.Params) (*ListResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return s.list(ctx, ListParams{CustomerID: &customerID, Params: params})
}

func (s *service) ListByProduct(ctx context.Context, productID uuid.UUID, params pkgpagination.Params) (*ListResult, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return s.list(ctx, ListParams{ProductID: &productID, Params: params})
}

func (s *service) ListByStatus(ctx context.Context, status enums.LicenseStatus, params pkgpagination.Params) (*ListResult, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid license status")
	}
	return s.list(ctx, ListParams{Status: &status, Params: params})
}

func (s *service) ListExpiring(ctx context.Context, within time.Duration, params pkgpagination.Params) (*ListResult, error) {
	if within <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry window must be positive")
	}
	return s.list(ctx, ListParams{ExpiringWithin: &within, Params: params})
}

func (s *service) list(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		customerID: params.CustomerID,
		productID:  params.ProductID,
		status:     params.Status,
		limit:      pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.ExpiringWithin != nil {
		now := s.now().UTC()
		query.expiringWithin = &expiryWindow{From: now, Until: now.Add(*params.ExpiringWithin)}
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list licenses")
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}

	items := make([]ListItem, len(rows))
	for i, row := range rows {
		items[i] = toListItem(row)
	}

	return &ListResult{
		Items:  items,
		Cursor: nextCursor,
	}, nil
}

// mutate runs the load-mutate-persist-emit sequence inside a transaction,
// retrying the whole sequence when the optimistic version check loses a race.
// Domain rejections from fn are never retried.
func (s *service) mutate(ctx context.Context, actor *outbox.ActorRef, licenseID uuid.UUID, logMsg string, fn func(agg *Aggregate) error) (*models.License, error) {
	if licenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "license id is required")
	}

	var updated *models.License
	err := s.withVersionRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			row, err := s.repo.FindByIDTx(tx, licenseID)
			if err != nil {
				return err
			}
			agg := Restore(row, s.now)
			if err := fn(agg); err != nil {
				return err
			}
			if err := s.repo.UpdateTx(tx, row); err != nil {
				return err
			}
			if err := s.emitEvents(ctx, tx, actor, agg); err != nil {
				return err
			}
			updated = row
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithLicenseID(ctx, licenseID.String()), logMsg)
	return updated, nil
}

func (s *service) withVersionRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.writeRetries, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *service) emitEvents(ctx context.Context, tx *gorm.DB, actor *outbox.ActorRef, agg *Aggregate) error {
	for _, event := range agg.Events() {
		event.Actor = actor
		if err := s.emitter.Emit(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}
