package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"BEARER   abc  ", "abc", true},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
	}

	for _, tc := range cases {
		token, err := auth.ExtractBearer(tc.header)
		if !tc.ok {
			require.Error(t, err, tc.header)
			assert.Equal(t, auth.TextCodeMissingToken, auth.TextCode(err))
			continue
		}
		require.NoError(t, err, tc.header)
		assert.Equal(t, tc.token, token)
	}
}

func TestGuard_Authenticate(t *testing.T) {
	f := newFixture(t)
	admin := f.createAdmin(t, "admin@x.com")
	tokens := f.login(t, "admin@x.com")

	identity, err := f.guard.Authenticate(context.Background(), bearer(tokens.Access.Token), auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, identity.UserID)
	assert.Equal(t, "admin@x.com", identity.Email)
	assert.Equal(t, auth.RolePrimaryAdmin, identity.Role)
	assert.Equal(t, auth.TokenAccess, identity.Kind)
	require.True(t, identity.HasCompany())
	assert.Equal(t, *admin.CompanyID, *identity.CompanyID)
	assert.Equal(t, tokens.Access.Token, identity.Token)
}

func TestGuard_AuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	admin := f.createAdmin(t, "admin@x.com")
	tokens := f.login(t, "admin@x.com")

	t.Run("missing header", func(t *testing.T) {
		_, err := f.guard.Authenticate(context.Background(), "", auth.TokenAccess)
		assert.Equal(t, auth.TextCodeMissingToken, auth.TextCode(err))
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := f.guard.Authenticate(context.Background(), bearer(tokens.Refresh.Token), auth.TokenAccess)
		assert.Equal(t, auth.TextCodeTokenKindMismatch, auth.TextCode(err))
	})

	t.Run("signed but never persisted", func(t *testing.T) {
		issued, err := f.codec.Issue(admin.ID.String(), auth.TokenAccess, f.cfg.AccessTTL, nil)
		require.NoError(t, err)

		_, err = f.guard.Authenticate(context.Background(), bearer(issued.Token), auth.TokenAccess)
		assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
	})

	t.Run("revoked", func(t *testing.T) {
		fresh := f.login(t, "admin@x.com")
		record, err := f.repo.Tokens().Find(context.Background(), fresh.Access.Token, auth.TokenAccess, admin.ID)
		require.NoError(t, err)
		require.NoError(t, f.repo.Tokens().Revoke(context.Background(), record))

		_, err = f.guard.Authenticate(context.Background(), bearer(fresh.Access.Token), auth.TokenAccess)
		require.Error(t, err)
		assert.True(t, auth.IsUnauthenticated(err))
	})

	t.Run("owner gone", func(t *testing.T) {
		_, err := f.db.NewDelete().Model((*auth.User)(nil)).Where("id = ?", admin.ID).Exec(context.Background())
		require.NoError(t, err)

		_, err = f.guard.Authenticate(context.Background(), bearer(tokens.Access.Token), auth.TokenAccess)
		require.Error(t, err)
		assert.True(t, auth.IsUnauthenticated(err))
	})
}

func TestGuard_RequirePermissionUsesLiveRecord(t *testing.T) {
	f := newFixture(t)
	admin := f.createAdmin(t, "admin@x.com")
	tokens := f.login(t, "admin@x.com")
	identity := f.identity(t, tokens)

	require.NoError(t, f.guard.RequirePermission(context.Background(), identity, auth.PermAddUser))

	// revoke after the token was issued
	admin.Permissions = []string{auth.PermViewDashboard}
	_, err := f.repo.Users().Save(context.Background(), admin)
	require.NoError(t, err)

	claims, err := f.codec.Parse(tokens.Access.Token)
	require.NoError(t, err)
	assert.True(t, claims.HasPermission(auth.PermAddUser), "snapshot still carries the permission")

	err = f.guard.RequirePermission(context.Background(), identity, auth.PermAddUser)
	require.Error(t, err)
	assert.True(t, auth.IsForbidden(err))
	assert.True(t, f.activity.has(auth.ActivityEventPermissionDenied))

	require.NoError(t, f.guard.RequirePermission(context.Background(), identity, auth.PermViewDashboard))
	assert.Equal(t, []string{auth.PermViewDashboard}, identity.Permissions)
}

func TestGuard_RequirePermissionRejectsUnknownNames(t *testing.T) {
	f := newFixture(t)
	f.createAdmin(t, "admin@x.com")
	identity := f.identity(t, f.login(t, "admin@x.com"))

	err := f.guard.RequirePermission(context.Background(), identity, "launchMissiles")
	require.Error(t, err)
	assert.True(t, auth.IsInvalid(err))

	err = f.guard.RequirePermission(context.Background(), nil, auth.PermAddUser)
	assert.True(t, auth.IsUnauthenticated(err))
}

func TestGuard_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	alice := f.createAdmin(t, "alice@x.com")
	bob := f.createAdmin(t, "bob@x.com")
	identity := f.identity(t, f.login(t, "alice@x.com"))

	require.NoError(t, f.guard.RequireTenant(identity, *alice.CompanyID))
	require.NoError(t, f.guard.Authorize(context.Background(), identity, auth.PermGetUsers, *alice.CompanyID))

	err := f.guard.RequireTenant(identity, *bob.CompanyID)
	require.Error(t, err)
	assert.True(t, auth.IsForbidden(err))
	assert.Equal(t, auth.TextCodeCrossTenant, auth.TextCode(err))

	err = f.guard.Authorize(context.Background(), identity, auth.PermGetUsers, *bob.CompanyID)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeCrossTenant, auth.TextCode(err))
	assert.True(t, f.activity.has(auth.ActivityEventCrossTenantDenied))

	err = f.guard.RequireTenant(identity, uuid.New())
	assert.True(t, auth.IsForbidden(err))
}

func TestGuard_AuthorizeChecksPermissionBeforeTenant(t *testing.T) {
	f := newFixture(t)
	f.createAdmin(t, "alice@x.com", withPermissions(auth.PermViewDashboard))
	bob := f.createAdmin(t, "bob@x.com")
	identity := f.identity(t, f.login(t, "alice@x.com"))

	err := f.guard.Authorize(context.Background(), identity, auth.PermDeleteUser, *bob.CompanyID)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeForbidden, auth.TextCode(err))
}

func TestIdentityContext(t *testing.T) {
	_, ok := auth.IdentityFromContext(context.Background())
	assert.False(t, ok)

	identity := &auth.Identity{UserID: uuid.New()}
	ctx := auth.WithIdentity(context.Background(), identity)

	got, ok := auth.IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, identity, got)
}
