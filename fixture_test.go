package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	previousSecret = "fedcba9876543210fedcba9876543210"
	testPassword   = "Secret1!"
)

// newTestDB opens a private in-memory database with the schema applied
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, auth.CreateSchema(context.Background(), db))
	return db
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.SigningSecret = testSecret
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

type sentEmail struct {
	To       string
	Template auth.EmailTemplate
	Token    string
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (d *recordingDispatcher) Send(_ context.Context, to string, template auth.EmailTemplate, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentEmail{To: to, Template: template, Token: token})
	return nil
}

func (d *recordingDispatcher) count(template auth.EmailTemplate) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sent {
		if s.Template == template {
			n++
		}
	}
	return n
}

func (d *recordingDispatcher) last(t *testing.T, template auth.EmailTemplate) sentEmail {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.sent) - 1; i >= 0; i-- {
		if d.sent[i].Template == template {
			return d.sent[i]
		}
	}
	t.Fatalf("no %s email was sent", template)
	return sentEmail{}
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) has(eventType auth.ActivityEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

func (s *recordingSink) count(eventType auth.ActivityEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	db       *bun.DB
	cfg      auth.Config
	repo     auth.RepositoryManager
	codec    *auth.TokenCodec
	sessions *auth.SessionManager
	guard    *auth.Guard
	mail     *recordingDispatcher
	activity *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:       newTestDB(t),
		cfg:      testConfig(),
		mail:     &recordingDispatcher{},
		activity: &recordingSink{},
	}
	f.repo = auth.NewRepositoryManager(f.db)

	codec, err := auth.NewTokenCodec(f.cfg)
	require.NoError(t, err)
	f.codec = codec

	f.sessions, err = auth.NewSessionManager(f.cfg, codec, f.repo.Tokens(), f.repo.Users(), f.mail,
		auth.WithSessionActivitySink(f.activity),
		auth.WithPasswordHasher(auth.NewBcryptHasher(bcrypt.MinCost)),
	)
	require.NoError(t, err)

	f.guard = auth.NewGuard(codec, f.repo.Tokens(), f.repo.Users(),
		auth.WithGuardActivitySink(f.activity),
	)
	return f
}

type userOption func(*auth.User)

func verified(u *auth.User) { u.EmailVerified = true }

func withPermissions(perms ...string) userOption {
	return func(u *auth.User) { u.Permissions = perms }
}

func withRole(role auth.UserRole) userOption {
	return func(u *auth.User) { u.Role = role }
}

func withCompany(companyID uuid.UUID) userOption {
	return func(u *auth.User) { u.CompanyID = &companyID }
}

func (f *fixture) createUser(t *testing.T, email string, opts ...userOption) *auth.User {
	t.Helper()

	hash, err := auth.NewBcryptHasher(bcrypt.MinCost).HashPassword(testPassword)
	require.NoError(t, err)

	user := &auth.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Role:         auth.RolePrimaryAdmin,
		Permissions:  auth.DefaultAdminPermissions(),
	}
	for _, opt := range opts {
		opt(user)
	}

	saved, err := f.repo.Users().Save(context.Background(), user)
	require.NoError(t, err)
	return saved
}

// createAdmin returns a verified PrimaryAdmin that owns a fresh company
func (f *fixture) createAdmin(t *testing.T, email string, opts ...userOption) *auth.User {
	t.Helper()

	admin := f.createUser(t, email, append([]userOption{verified}, opts...)...)
	company, err := f.repo.Companies().CreateCompanyTx(context.Background(), f.db, &auth.Company{
		Name:            "Company of " + email,
		AdminUserID:     admin.ID,
		CreatedByUserID: admin.ID,
	})
	require.NoError(t, err)

	admin.CompanyID = &company.ID
	admin, err = f.repo.Users().Save(context.Background(), admin)
	require.NoError(t, err)
	return admin
}

func (f *fixture) login(t *testing.T, email string) *auth.AuthTokens {
	t.Helper()

	result, err := f.sessions.Login(context.Background(), email, testPassword)
	require.NoError(t, err)
	require.Equal(t, auth.LoginAuthenticated, result.Outcome)
	require.NotNil(t, result.Tokens)
	return result.Tokens
}

func (f *fixture) identity(t *testing.T, tokens *auth.AuthTokens) *auth.Identity {
	t.Helper()

	identity, err := f.guard.Authenticate(context.Background(), "Bearer "+tokens.Access.Token, auth.TokenAccess)
	require.NoError(t, err)
	return identity
}

func (f *fixture) countTokens(t *testing.T, owner uuid.UUID, kind auth.TokenKind) int {
	t.Helper()

	n, err := f.db.NewSelect().
		Model((*auth.Token)(nil)).
		Where("user_id = ?", owner).
		Where("kind = ?", kind).
		Count(context.Background())
	require.NoError(t, err)
	return n
}

func bearer(token string) string {
	return "Bearer " + token
}

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}
