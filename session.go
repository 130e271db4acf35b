package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultOperationTimeout = 10 * time.Second

// LoginOutcome is the state a login resolved to
type LoginOutcome string

const (
	LoginAuthenticated        LoginOutcome = "authenticated"
	LoginOnboardingRequired   LoginOutcome = "onboarding_required"
	LoginVerificationRequired LoginOutcome = "verification_required"
)

// AuthTokens is an access and refresh pair with independent expiries
type AuthTokens struct {
	Access  IssuedToken `json:"access"`
	Refresh IssuedToken `json:"refresh"`
}

// LoginResult carries exactly one of Tokens or OnboardToken on success
type LoginResult struct {
	Outcome      LoginOutcome `json:"outcome"`
	User         *User        `json:"user,omitempty"`
	Tokens       *AuthTokens  `json:"tokens,omitempty"`
	OnboardToken *IssuedToken `json:"onboard_token,omitempty"`
	// EmailDeliveryFailed is set when a verification email could not be sent.
	// The token exists and can be resent.
	EmailDeliveryFailed bool `json:"email_delivery_failed,omitempty"`
}

// SessionManager runs the login, refresh, logout, password and email
// verification flows. It is the only component that writes to the ledger.
type SessionManager struct {
	codec      *TokenCodec
	ledger     TokenLedger
	users      CredentialStore
	dispatcher EmailDispatcher
	hasher     PasswordHasher
	ttls       map[TokenKind]time.Duration
	logger     Logger
	activity   ActivitySink
	timeout    time.Duration
	dummyHash  string
}

// SessionOption configures a SessionManager
type SessionOption func(*SessionManager)

func WithSessionLogger(logger Logger) SessionOption {
	return func(s *SessionManager) {
		s.logger = normalizeLogger(logger)
	}
}

func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(s *SessionManager) {
		s.activity = normalizeActivitySink(sink)
	}
}

func WithPasswordHasher(hasher PasswordHasher) SessionOption {
	return func(s *SessionManager) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithOperationTimeout bounds every storage bound operation
func WithOperationTimeout(d time.Duration) SessionOption {
	return func(s *SessionManager) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSessionManager wires the codec, ledger, credential store and email dispatcher
func NewSessionManager(cfg Config, codec *TokenCodec, ledger TokenLedger, users CredentialStore, dispatcher EmailDispatcher, opts ...SessionOption) (*SessionManager, error) {
	if codec == nil || ledger == nil || users == nil {
		return nil, goerrors.New("session manager requires a codec, a ledger and a credential store", goerrors.CategoryInternal)
	}

	ttls := cfg.TTLs()
	for kind, ttl := range ttls {
		if ttl <= 0 {
			return nil, withMetadata(ErrInvalidInput, map[string]any{
				"config": "token lifetimes must be positive",
				"kind":   string(kind),
			})
		}
	}

	if dispatcher == nil {
		dispatcher = EmailDispatcherFunc(nil)
	}

	s := &SessionManager{
		codec:      codec,
		ledger:     ledger,
		users:      users,
		dispatcher: dispatcher,
		hasher:     NewBcryptHasher(cfg.BcryptCost),
		ttls:       ttls,
		logger:     defLogger{},
		activity:   noopActivitySink{},
		timeout:    defaultOperationTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if h, ok := s.hasher.(*BcryptHasher); ok {
		s.dummyHash = h.RandomPasswordHash()
	}

	return s, nil
}

// Login resolves credentials to one of: rejected, verification required,
// onboarding required or authenticated.
func (s *SessionManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			s.burnCompare(password)
			s.recordFailure(ctx, "", "unknown email")
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("login failed to load user: %v", err)
		return nil, storageError(err, "failed to load user")
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		s.recordFailure(ctx, user.ID.String(), "password mismatch")
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		result := &LoginResult{Outcome: LoginVerificationRequired, User: user}
		if _, err := s.SendVerificationEmail(ctx, user); err != nil {
			if !IsEmailDeliveryError(err) {
				return nil, err
			}
			result.EmailDeliveryFailed = true
		}
		s.record(ctx, ActivityEventVerificationRequired, user, nil)
		return result, ErrAccountNotVerified
	}

	if !user.HasCompany() {
		issued, err := s.replaceToken(ctx, user, TokenOnboardCompany, nil)
		if err != nil {
			return nil, err
		}
		s.record(ctx, ActivityEventOnboardingRequired, user, nil)
		return &LoginResult{
			Outcome:      LoginOnboardingRequired,
			User:         user,
			OnboardToken: &issued,
		}, nil
	}

	tokens, err := s.issueAuthTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.DeleteAllOfKind(ctx, user.ID, TokenOnboardCompany, TokenVerifyEmail); err != nil {
		s.logger.Error("login failed to clean up pending tokens: %v", err)
		return nil, storageError(err, "failed to clean up pending tokens")
	}

	s.record(ctx, ActivityEventLoginSuccess, user, nil)

	return &LoginResult{
		Outcome: LoginAuthenticated,
		User:    user,
		Tokens:  tokens,
	}, nil
}

// Refresh rotates a refresh token. The presented token is consumed, only one
// concurrent caller can succeed and every failure is ErrPleaseAuthenticate.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	claims, err := s.codec.ParseKind(refreshToken, TokenRefresh)
	if err != nil {
		s.logger.Debug("refresh rejected: %s", TextCode(err))
		return nil, ErrPleaseAuthenticate
	}

	owner, err := subjectID(claims)
	if err != nil {
		return nil, ErrPleaseAuthenticate
	}

	if _, err := s.ledger.Consume(ctx, refreshToken, TokenRefresh, owner); err != nil {
		if !IsUnauthenticated(err) {
			s.logger.Error("refresh failed to consume token: %v", err)
		}
		return nil, ErrPleaseAuthenticate
	}

	user, err := s.users.FindByID(ctx, owner)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("refresh failed to load user: %v", err)
		}
		return nil, ErrPleaseAuthenticate
	}

	// same gate as a successful login
	if !user.EmailVerified || !user.HasCompany() {
		s.logger.Debug("refresh rejected: user %s no longer fully authenticated", user.ID)
		return nil, ErrPleaseAuthenticate
	}

	tokens, err := s.issueAuthTokens(ctx, user)
	if err != nil {
		s.logger.Error("refresh failed to issue tokens: %v", err)
		return nil, ErrPleaseAuthenticate
	}

	s.record(ctx, ActivityEventTokensRefreshed, user, nil)

	return tokens, nil
}

// Logout revokes the bearer access token and the access and refresh tokens
// supplied in the body. All three must belong to the same user, otherwise
// nothing is deleted.
func (s *SessionManager) Logout(ctx context.Context, headerAccessToken, accessToken, refreshToken string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	presented := []struct {
		token string
		kind  TokenKind
	}{
		{headerAccessToken, TokenAccess},
		{accessToken, TokenAccess},
		{refreshToken, TokenRefresh},
	}

	var owner uuid.UUID
	for i, p := range presented {
		claims, err := s.codec.ParseKind(p.token, p.kind)
		if err != nil {
			return err
		}
		id, err := subjectID(claims)
		if err != nil {
			return err
		}
		if i == 0 {
			owner = id
			continue
		}
		if id != owner {
			return ErrTokenSubjectMismatch
		}
	}

	var (
		records  []*Token
		seen     = map[uuid.UUID]struct{}{}
		notFound error
	)
	for _, p := range presented {
		record, err := s.ledger.Find(ctx, p.token, p.kind, owner)
		if err != nil {
			if !IsUnauthenticated(err) {
				return storageError(err, "failed to look up session tokens")
			}
			notFound = err
			continue
		}
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}
		records = append(records, record)
	}

	// whatever was found is deleted even if another token was already gone
	if err := s.ledger.Delete(ctx, records...); err != nil {
		s.logger.Error("logout failed to delete tokens: %v", err)
		return storageError(err, "failed to delete session tokens")
	}

	if notFound != nil {
		return notFound
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLogout,
		ActorID:   owner.String(),
		UserID:    owner.String(),
	})
	return nil
}

// ForgotPassword issues and dispatches a reset token. Unknown emails are a
// silent no-op so the operation can be called speculatively.
func (s *SessionManager) ForgotPassword(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		s.logger.Error("forgot password failed to load user: %v", err)
		return storageError(err, "failed to load user")
	}

	issued, err := s.replaceToken(ctx, user, TokenResetPassword, nil)
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEventPasswordResetRequested, user, nil)

	return s.send(ctx, user, EmailTemplateResetPassword, issued.Token)
}

// ResetPassword sets a new password and invalidates every access, refresh
// and reset token of the user.
func (s *SessionManager) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, _, err := s.redeem(ctx, resetToken, TokenResetPassword)
	if err != nil {
		if IsUnauthenticated(err) || IsNotFound(err) {
			return withMetadata(ErrPasswordResetFailed, map[string]any{"cause": TextCode(err)})
		}
		return err
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user.PasswordHash = hash
	if _, err := s.users.Save(ctx, user); err != nil {
		return storageError(err, "failed to update password")
	}

	if err := s.ledger.DeleteAllOfKind(ctx, user.ID, TokenAccess, TokenRefresh, TokenResetPassword); err != nil {
		s.logger.Error("reset password failed to invalidate sessions: %v", err)
		return storageError(err, "failed to invalidate sessions")
	}

	s.record(ctx, ActivityEventPasswordResetSuccess, user, nil)
	return nil
}

// VerifyEmail marks the email verified and deletes every verify token of the user
func (s *SessionManager) VerifyEmail(ctx context.Context, verifyToken string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, _, err := s.redeem(ctx, verifyToken, TokenVerifyEmail)
	if err != nil {
		if IsUnauthenticated(err) || IsNotFound(err) {
			return withMetadata(ErrEmailVerificationFailed, map[string]any{"cause": TextCode(err)})
		}
		return err
	}

	if !user.EmailVerified {
		user.EmailVerified = true
		if _, err := s.users.Save(ctx, user); err != nil {
			return storageError(err, "failed to verify email")
		}
	}

	if err := s.ledger.DeleteAllOfKind(ctx, user.ID, TokenVerifyEmail); err != nil {
		return storageError(err, "failed to delete verification tokens")
	}

	s.record(ctx, ActivityEventEmailVerified, user, nil)
	return nil
}

// SendVerificationEmail replaces the user's verify token and dispatches it.
// A dispatch failure returns ErrEmailDelivery together with the persisted token.
func (s *SessionManager) SendVerificationEmail(ctx context.Context, user *User) (IssuedToken, error) {
	if user == nil {
		return IssuedToken{}, ErrInvalidInput
	}

	issued, err := s.replaceToken(ctx, user, TokenVerifyEmail, nil)
	if err != nil {
		return IssuedToken{}, err
	}

	return issued, s.send(ctx, user, EmailTemplateVerifyEmail, issued.Token)
}

// redeem verifies a single use token, consumes it and resolves its owner.
// Only one concurrent caller can redeem a given token.
func (s *SessionManager) redeem(ctx context.Context, token string, kind TokenKind) (*User, *Token, error) {
	claims, err := s.codec.ParseKind(token, kind)
	if err != nil {
		return nil, nil, err
	}

	owner, err := subjectID(claims)
	if err != nil {
		return nil, nil, err
	}

	record, err := s.ledger.Consume(ctx, token, kind, owner)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindByID(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	return user, record, nil
}

func (s *SessionManager) issueAuthTokens(ctx context.Context, user *User) (*AuthTokens, error) {
	access, err := s.issue(user, TokenAccess, user.Permissions)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issue(user, TokenRefresh, user.Permissions)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Save(ctx, access.Token, user.ID, TokenAccess, access.ExpiresAt); err != nil {
		return nil, storageError(err, "failed to save access token")
	}
	if _, err := s.ledger.Save(ctx, refresh.Token, user.ID, TokenRefresh, refresh.ExpiresAt); err != nil {
		return nil, storageError(err, "failed to save refresh token")
	}

	return &AuthTokens{Access: access, Refresh: refresh}, nil
}

func (s *SessionManager) replaceToken(ctx context.Context, user *User, kind TokenKind, permissions []string) (IssuedToken, error) {
	issued, err := s.issue(user, kind, permissions)
	if err != nil {
		return IssuedToken{}, err
	}
	if _, err := s.ledger.Replace(ctx, user.ID, kind, issued.Token, issued.ExpiresAt); err != nil {
		s.logger.Error("failed to replace %s token: %v", kind, err)
		return IssuedToken{}, storageError(err, "failed to persist token")
	}
	return issued, nil
}

func (s *SessionManager) issue(user *User, kind TokenKind, permissions []string) (IssuedToken, error) {
	return s.codec.Issue(user.ID.String(), kind, s.ttls[kind], permissions)
}

// send never retries, failures are logged and surfaced
func (s *SessionManager) send(ctx context.Context, user *User, template EmailTemplate, token string) error {
	if err := s.dispatcher.Send(ctx, user.Email, template, token); err != nil {
		s.logger.Error("failed to dispatch %s email for user %s: %v", template, user.ID, err)
		return withMetadata(ErrEmailDelivery, map[string]any{
			"template": string(template),
			"user_id":  user.ID.String(),
		})
	}
	return nil
}

// burnCompare spends the same time as a real comparison
func (s *SessionManager) burnCompare(password string) {
	if s.dummyHash == "" {
		return
	}
	_ = s.hasher.ComparePasswordAndHash(password, s.dummyHash)
}

func (s *SessionManager) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType: eventType,
		ActorID:   user.ID.String(),
		UserID:    user.ID.String(),
		Metadata:  metadata,
	}
	if user.HasCompany() {
		event.CompanyID = user.CompanyID.String()
	}
	recordActivity(ctx, s.activity, s.logger, event)
}

func (s *SessionManager) recordFailure(ctx context.Context, userID, reason string) {
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		UserID:    userID,
		Metadata:  map[string]any{"reason": reason},
	})
}

func subjectID(claims *TokenClaims) (uuid.UUID, error) {
	id, err := uuid.Parse(claims.UserID())
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrTokenMalformed
	}
	return id, nil
}
