package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newLedger(t *testing.T, opts ...auth.LedgerOption) (*auth.SQLTokenLedger, *bun.DB) {
	t.Helper()
	db := newTestDB(t)
	return auth.NewSQLTokenLedger(db, opts...), db
}

func TestSQLTokenLedger_StoresOnlyTheHash(t *testing.T) {
	ledger, db := newLedger(t)
	owner := uuid.New()

	record, err := ledger.Save(context.Background(), "raw-token", owner, auth.TokenAccess, farFuture())
	require.NoError(t, err)
	assert.Equal(t, auth.HashToken("raw-token"), record.TokenHash)
	assert.NotContains(t, record.TokenHash, "raw-token")

	var hashes []string
	err = db.NewSelect().Model((*auth.Token)(nil)).Column("token_hash").Scan(context.Background(), &hashes)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.HashToken("raw-token")}, hashes)
}

func TestSQLTokenLedger_FindIsScopedToKindAndOwner(t *testing.T) {
	ledger, _ := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "tok", owner, auth.TokenRefresh, farFuture())
	require.NoError(t, err)

	found, err := ledger.Find(ctx, "tok", auth.TokenRefresh, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, found.UserID)

	_, err = ledger.Find(ctx, "tok", auth.TokenAccess, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))

	_, err = ledger.Find(ctx, "tok", auth.TokenRefresh, uuid.New())
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))

	_, err = ledger.Find(ctx, "other", auth.TokenRefresh, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestSQLTokenLedger_RevokedAndExpiredLookMissing(t *testing.T) {
	clock := &testClock{now: time.Now()}
	ledger, _ := newLedger(t, auth.WithLedgerClock(clock.Now))
	owner := uuid.New()
	ctx := context.Background()

	revoked, err := ledger.Save(ctx, "revoked", owner, auth.TokenAccess, clock.now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, ledger.Revoke(ctx, revoked))

	_, err = ledger.Find(ctx, "revoked", auth.TokenAccess, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))

	_, err = ledger.Save(ctx, "short", owner, auth.TokenAccess, clock.now.Add(time.Minute))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, err = ledger.Find(ctx, "short", auth.TokenAccess, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestSQLTokenLedger_ConsumeIsSingleUse(t *testing.T) {
	ledger, _ := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "once", owner, auth.TokenResetPassword, farFuture())
	require.NoError(t, err)

	_, err = ledger.Consume(ctx, "once", auth.TokenResetPassword, owner)
	require.NoError(t, err)

	_, err = ledger.Consume(ctx, "once", auth.TokenResetPassword, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestSQLTokenLedger_ConcurrentConsume(t *testing.T) {
	ledger, _ := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "race", owner, auth.TokenRefresh, farFuture())
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Consume(ctx, "race", auth.TokenRefresh, owner); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestSQLTokenLedger_ReplaceKeepsOneLiveToken(t *testing.T) {
	ledger, db := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	for _, token := range []string{"v1", "v2", "v3"} {
		_, err := ledger.Replace(ctx, owner, auth.TokenVerifyEmail, token, farFuture())
		require.NoError(t, err)
	}

	n, err := db.NewSelect().Model((*auth.Token)(nil)).Where("user_id = ?", owner).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = ledger.Find(ctx, "v3", auth.TokenVerifyEmail, owner)
	assert.NoError(t, err)
	_, err = ledger.Find(ctx, "v1", auth.TokenVerifyEmail, owner)
	assert.Error(t, err)
}

func TestSQLTokenLedger_ReplaceJoinsCallerTransaction(t *testing.T) {
	ledger, db := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := auth.NewSQLTokenLedger(tx).Replace(ctx, owner, auth.TokenOnboardCompany, "in-tx", farFuture())
		return err
	})
	require.NoError(t, err)

	_, err = ledger.Find(ctx, "in-tx", auth.TokenOnboardCompany, owner)
	assert.NoError(t, err)
}

func TestSQLTokenLedger_DeleteAllOfKindIsOwnerScoped(t *testing.T) {
	ledger, _ := newLedger(t)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	for _, save := range []struct {
		token string
		owner uuid.UUID
		kind  auth.TokenKind
	}{
		{"a-access", alice, auth.TokenAccess},
		{"a-refresh", alice, auth.TokenRefresh},
		{"a-verify", alice, auth.TokenVerifyEmail},
		{"b-access", bob, auth.TokenAccess},
	} {
		_, err := ledger.Save(ctx, save.token, save.owner, save.kind, farFuture())
		require.NoError(t, err)
	}

	require.NoError(t, ledger.DeleteAllOfKind(ctx, alice, auth.TokenAccess, auth.TokenRefresh))

	_, err := ledger.Find(ctx, "a-access", auth.TokenAccess, alice)
	assert.Error(t, err)
	_, err = ledger.Find(ctx, "a-refresh", auth.TokenRefresh, alice)
	assert.Error(t, err)
	_, err = ledger.Find(ctx, "a-verify", auth.TokenVerifyEmail, alice)
	assert.NoError(t, err)
	_, err = ledger.Find(ctx, "b-access", auth.TokenAccess, bob)
	assert.NoError(t, err)

	require.NoError(t, ledger.DeleteAllForUser(ctx, alice))
	_, err = ledger.Find(ctx, "a-verify", auth.TokenVerifyEmail, alice)
	assert.Error(t, err)
}

func TestSQLTokenLedger_Delete(t *testing.T) {
	ledger, _ := newLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	a, err := ledger.Save(ctx, "a", owner, auth.TokenAccess, farFuture())
	require.NoError(t, err)
	b, err := ledger.Save(ctx, "b", owner, auth.TokenRefresh, farFuture())
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, a, nil, b))
	require.NoError(t, ledger.Delete(ctx))

	_, err = ledger.Find(ctx, "a", auth.TokenAccess, owner)
	assert.Error(t, err)
	_, err = ledger.Find(ctx, "b", auth.TokenRefresh, owner)
	assert.Error(t, err)
}

func TestSQLTokenLedger_SaveValidatesInput(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	_, err := ledger.Save(ctx, "", uuid.New(), auth.TokenAccess, farFuture())
	assert.True(t, auth.IsInvalid(err))

	_, err = ledger.Save(ctx, "tok", uuid.Nil, auth.TokenAccess, farFuture())
	assert.True(t, auth.IsInvalid(err))

	_, err = ledger.Save(ctx, "tok", uuid.New(), auth.TokenKind("bogus"), farFuture())
	assert.True(t, auth.IsInvalid(err))
}

func TestSQLTokenLedger_FailsClosedWithoutStorage(t *testing.T) {
	ledger, db := newLedger(t)
	require.NoError(t, db.Close())

	_, err := ledger.Find(context.Background(), "tok", auth.TokenAccess, uuid.New())
	require.Error(t, err)
	assert.False(t, auth.IsUnauthenticated(err))
	assert.Equal(t, 500, auth.HTTPStatus(err))
}
