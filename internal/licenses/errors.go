package licenses

import (
	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
)

// Sentinel lifecycle failures. Callers branch with errors.Is; the HTTP layer
// maps them through the shared code metadata.
var (
	ErrAlreadyActive     = pkgerrors.New(pkgerrors.CodeStateConflict, "license is already active")
	ErrAlreadyRevoked    = pkgerrors.New(pkgerrors.CodeStateConflict, "license is already revoked")
	ErrAlreadyExpired    = pkgerrors.New(pkgerrors.CodeStateConflict, "license is already expired")
	ErrLicenseRevoked    = pkgerrors.New(pkgerrors.CodeStateConflict, "license is revoked")
	ErrLicenseExpired    = pkgerrors.New(pkgerrors.CodeStateConflict, "license is expired")
	ErrNotActive         = pkgerrors.New(pkgerrors.CodeStateConflict, "license is not active")
	ErrSeatLimitExceeded = pkgerrors.New(pkgerrors.CodeSeatLimit, "seat limit reached")
	ErrNoSeatsToRemove   = pkgerrors.New(pkgerrors.CodeStateConflict, "no seats assigned")

	// ErrVersionConflict marks a lost optimistic-concurrency race. The service
	// retries the whole load-mutate-persist sequence; it never surfaces raw.
	ErrVersionConflict = pkgerrors.New(pkgerrors.CodeConflict, "license was modified concurrently")
)
