package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenKind distinguishes what a token may be used for
type TokenKind string

const (
	TokenAccess         TokenKind = "access"
	TokenRefresh        TokenKind = "refresh"
	TokenResetPassword  TokenKind = "resetPassword"
	TokenVerifyEmail    TokenKind = "verifyEmail"
	TokenOnboardCompany TokenKind = "onboardCompany"
)

// IsValid checks if the kind is one of the predefined kinds
func (k TokenKind) IsValid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenResetPassword, TokenVerifyEmail, TokenOnboardCompany:
		return true
	default:
		return false
	}
}

// GetAllTokenKinds returns every token kind
func GetAllTokenKinds() []TokenKind {
	return []TokenKind{
		TokenAccess,
		TokenRefresh,
		TokenResetPassword,
		TokenVerifyEmail,
		TokenOnboardCompany,
	}
}

// User is the user model
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email           string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash    string     `bun:"password_hash,notnull" json:"-"`
	Name            string     `bun:"name,notnull" json:"name"`
	Role            UserRole   `bun:"user_role,notnull" json:"role"`
	Permissions     []string   `bun:"permissions,type:jsonb" json:"permissions"`
	CompanyID       *uuid.UUID `bun:"company_id,type:uuid,nullzero" json:"company_id,omitempty"`
	EmailVerified   bool       `bun:"is_email_verified,notnull" json:"is_email_verified"`
	ProfilePicture  string     `bun:"profile_picture" json:"profile_picture,omitempty"`
	CreatedByUserID *uuid.UUID `bun:"created_by,type:uuid,nullzero" json:"created_by,omitempty"`
	CreatedAt       *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// HasPermission checks the user's live permission set
func (u *User) HasPermission(p Permission) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Permissions, p)
}

// HasCompany reports whether onboarding completed
func (u *User) HasCompany() bool {
	return u != nil && u.CompanyID != nil && *u.CompanyID != uuid.Nil
}

// BelongsTo reports whether the user is a member of the given company
func (u *User) BelongsTo(companyID uuid.UUID) bool {
	return u.HasCompany() && *u.CompanyID == companyID
}

// Token is a ledger record. Only the SHA-256 hash of the signed token is stored.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:tok"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Kind          TokenKind  `bun:"kind,notnull" json:"kind"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Revoked       bool       `bun:"revoked,notnull" json:"revoked"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// IsUsable reports a record that is neither revoked nor past its expiry
func (t *Token) IsUsable(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}

// Company is created during onboarding and owns every resource of its users
type Company struct {
	bun.BaseModel   `bun:"table:companies,alias:cmp"`
	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name            string     `bun:"name,notnull" json:"name"`
	Website         string     `bun:"website" json:"website,omitempty"`
	AdminUserID     uuid.UUID  `bun:"admin_user_id,notnull,type:uuid" json:"admin_user_id"`
	CreatedByUserID uuid.UUID  `bun:"created_by,notnull,type:uuid" json:"created_by"`
	CreatedAt       *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// NormalizeEmail lower-cases and trims an email for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
