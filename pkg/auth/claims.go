package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// SessionClaims is the bearer token minted by the auth provider. The user id
// travels in the standard sub claim.
type SessionClaims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *SessionClaims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// ActorRole maps the role claim onto the platform roles.
func (c *SessionClaims) ActorRole() enums.ActorRole {
	if c == nil {
		return enums.ActorRoleMember
	}
	return enums.ParseActorRole(c.Role)
}

// SessionPayload is the input for MintSessionToken.
type SessionPayload struct {
	UserID string
	Email  string
	Role   enums.ActorRole
}

// CustomerTokenPayload is the input for MintCustomerToken. TokenID becomes
// the jti and must match the grant's current token id.
type CustomerTokenPayload struct {
	DownloadID uuid.UUID
	OrderID    uuid.UUID
	TokenID    uuid.UUID
	Email      string
}

// CustomerTokenClaims authorizes anonymous buyers to fetch a digital item.
type CustomerTokenClaims struct {
	DownloadID uuid.UUID `json:"download_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Email      string    `json:"email"`
	jwt.RegisteredClaims
}
