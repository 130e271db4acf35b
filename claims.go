package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the signed payload of every token the codec issues
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind        TokenKind `json:"type"`
	Permissions []string  `json:"permissions,omitempty"`
}

// UserID returns the subject claim
func (c *TokenClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time, zero when absent
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the issued at time, zero when absent
func (c *TokenClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// HasPermission checks the permission snapshot carried by the token.
// Authorization decisions use the live user record instead.
func (c *TokenClaims) HasPermission(p Permission) bool {
	for _, perm := range c.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}
