package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const bearerScheme = "bearer"

// Identity is the resolved caller of a request
type Identity struct {
	UserID      uuid.UUID  `json:"user_id"`
	Email       string     `json:"email"`
	Role        UserRole   `json:"role"`
	CompanyID   *uuid.UUID `json:"company_id,omitempty"`
	Kind        TokenKind  `json:"kind"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   time.Time  `json:"expires_at"`
	// Token is the raw bearer value, never serialized or logged
	Token string `json:"-"`
}

// HasCompany reports whether the caller belongs to a company
func (i *Identity) HasCompany() bool {
	return i != nil && i.CompanyID != nil && *i.CompanyID != uuid.Nil
}

// Guard resolves bearer tokens to identities and checks live permissions.
// It never mutates the ledger or the credential store.
type Guard struct {
	codec    *TokenCodec
	ledger   TokenLedger
	users    CredentialStore
	logger   Logger
	activity ActivitySink
	timeout  time.Duration
}

type GuardOption func(*Guard)

func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		g.logger = normalizeLogger(logger)
	}
}

func WithGuardActivitySink(sink ActivitySink) GuardOption {
	return func(g *Guard) {
		g.activity = normalizeActivitySink(sink)
	}
}

func NewGuard(codec *TokenCodec, ledger TokenLedger, users CredentialStore, opts ...GuardOption) *Guard {
	g := &Guard{
		codec:    codec,
		ledger:   ledger,
		users:    users,
		logger:   defLogger{},
		activity: noopActivitySink{},
		timeout:  defaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header value
func ExtractBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate resolves the header to the identity of a live user. The token
// must verify, carry the required kind and have a live ledger record.
func (g *Guard) Authenticate(ctx context.Context, header string, kind TokenKind) (*Identity, error) {
	token, err := ExtractBearer(header)
	if err != nil {
		return nil, err
	}
	return g.AuthenticateToken(ctx, token, kind)
}

// AuthenticateToken is Authenticate for an already extracted token
func (g *Guard) AuthenticateToken(ctx context.Context, token string, kind TokenKind) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	claims, err := g.codec.ParseKind(token, kind)
	if err != nil {
		return nil, err
	}

	owner, err := subjectID(claims)
	if err != nil {
		return nil, err
	}

	if _, err := g.ledger.Find(ctx, token, kind, owner); err != nil {
		if !IsUnauthenticated(err) {
			g.logger.Error("guard failed to look up token: %v", err)
		}
		return nil, err
	}

	user, err := g.users.FindByID(ctx, owner)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		g.logger.Error("guard failed to load user: %v", err)
		return nil, storageError(err, "failed to load user")
	}

	return &Identity{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		CompanyID:   user.CompanyID,
		Kind:        claims.Kind,
		Permissions: append([]string(nil), claims.Permissions...),
		ExpiresAt:   claims.Expires(),
		Token:       token,
	}, nil
}

// RequirePermission checks the user's current permission set, not the token snapshot
func (g *Guard) RequirePermission(ctx context.Context, identity *Identity, permission Permission) error {
	_, err := g.requirePermission(ctx, identity, permission)
	return err
}

// RequireTenant fails with ErrCrossTenant unless the caller belongs to companyID
func (g *Guard) RequireTenant(identity *Identity, companyID uuid.UUID) error {
	if identity == nil {
		return ErrPleaseAuthenticate
	}
	if !identity.HasCompany() || *identity.CompanyID != companyID {
		return withMetadata(ErrCrossTenant, map[string]any{
			"company_id": companyID.String(),
		})
	}
	return nil
}

// Authorize checks the live permission and then the live company of the caller
// against the company owning the target resource
func (g *Guard) Authorize(ctx context.Context, identity *Identity, permission Permission, companyID uuid.UUID) error {
	user, err := g.requirePermission(ctx, identity, permission)
	if err != nil {
		return err
	}

	if !user.BelongsTo(companyID) {
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType: ActivityEventCrossTenantDenied,
			ActorID:   user.ID.String(),
			UserID:    user.ID.String(),
			CompanyID: companyID.String(),
		})
		return withMetadata(ErrCrossTenant, map[string]any{
			"company_id": companyID.String(),
		})
	}
	return nil
}

func (g *Guard) requirePermission(ctx context.Context, identity *Identity, permission Permission) (*User, error) {
	if identity == nil || identity.UserID == uuid.Nil {
		return nil, ErrPleaseAuthenticate
	}
	if !IsKnownPermission(permission) {
		return nil, withMetadata(ErrUnknownPermission, map[string]any{"permissions": permission})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user, err := g.users.FindByID(ctx, identity.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, storageError(err, "failed to load user")
	}

	if !user.HasPermission(permission) {
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType: ActivityEventPermissionDenied,
			ActorID:   user.ID.String(),
			UserID:    user.ID.String(),
			Metadata:  map[string]any{"permission": permission},
		})
		return nil, withMetadata(ErrForbidden, map[string]any{"permission": permission})
	}

	// keep the identity in step with the live record
	identity.Permissions = append([]string(nil), user.Permissions...)
	identity.CompanyID = user.CompanyID
	identity.Role = user.Role

	return user, nil
}
