package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keyhavenhq/keyhaven-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.APIRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to management clients.
type AccessTokenClaims struct {
	UserID uuid.UUID     `json:"user_id"`
	Role   enums.APIRole `json:"role"`
	jwt.RegisteredClaims
}
