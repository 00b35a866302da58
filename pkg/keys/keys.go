package keys

import (
	"crypto/rand"
	"fmt"
	"strings"

	pkgerrors "github.com/keyhavenhq/keyhaven-backend/pkg/errors"
)

// LicenseKey is a validated license key string.
type LicenseKey string

const (
	// MinLength and MaxLength bound any key the service accepts, generated
	// or imported.
	MinLength = 20
	MaxLength = 100

	groupCount = 5
	groupSize  = 5

	// Crockford-style alphabet, ambiguous characters removed.
	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// String implements fmt.Stringer.
func (k LicenseKey) String() string {
	return string(k)
}

// Parse validates raw input as a license key.
func Parse(raw string) (LicenseKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}
	if len(trimmed) < MinLength || len(trimmed) > MaxLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("license key length must be between %d and %d characters", MinLength, MaxLength))
	}
	return LicenseKey(trimmed), nil
}

// Generate produces a new random key in the form
// XXXXX-XXXXX-XXXXX-XXXXX-XXXXX. Uniqueness is enforced by the database
// index, not here; the entropy makes collisions a retry case, not a
// correctness concern.
func Generate() LicenseKey {
	raw := make([]byte, groupCount*groupSize)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("reading entropy: %v", err))
	}

	var b strings.Builder
	b.Grow(groupCount*groupSize + groupCount - 1)
	for i, by := range raw {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(by)%len(alphabet)])
	}
	return LicenseKey(b.String())
}
