package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	auth "github.com/goliatone/go-cms-auth"
	"github.com/goliatone/go-cms-auth/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLedger(t *testing.T, opts ...repository.RedisLedgerOption) (*repository.RedisLedger, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return repository.NewRedisLedger(client, opts...), mr
}

func TestRedisLedger_SaveAndFind(t *testing.T) {
	ledger, mr := setupRedisLedger(t, repository.WithKeyPrefix("test:"))
	owner := uuid.New()
	ctx := context.Background()

	record, err := ledger.Save(ctx, "raw-token", owner, auth.TokenAccess, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, auth.HashToken("raw-token"), record.TokenHash)

	// keyed by hash, the raw token is never stored
	assert.True(t, mr.Exists("test:token:"+auth.HashToken("raw-token")))
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "raw-token")
	}
	assert.Greater(t, mr.TTL("test:token:"+auth.HashToken("raw-token")), 59*time.Minute)

	found, err := ledger.Find(ctx, "raw-token", auth.TokenAccess, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, found.UserID)
	assert.Equal(t, record.TokenHash, found.TokenHash)

	_, err = ledger.Find(ctx, "raw-token", auth.TokenRefresh, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
	_, err = ledger.Find(ctx, "raw-token", auth.TokenAccess, uuid.New())
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
	_, err = ledger.Find(ctx, "unknown", auth.TokenAccess, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestRedisLedger_RecordsExpireWithTheToken(t *testing.T) {
	ledger, mr := setupRedisLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "short", owner, auth.TokenVerifyEmail, time.Now().Add(time.Minute))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = ledger.Find(ctx, "short", auth.TokenVerifyEmail, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))

	_, err = ledger.Save(ctx, "past", owner, auth.TokenVerifyEmail, time.Now().Add(-time.Minute))
	assert.True(t, auth.IsInvalid(err))
}

func TestRedisLedger_ConsumeIsExactlyOnce(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "race", owner, auth.TokenRefresh, time.Now().Add(time.Hour))
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

	_, err = ledger.Consume(ctx, "race", auth.TokenRefresh, owner)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestRedisLedger_ConsumeChecksKindFirst(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	_, err := ledger.Save(ctx, "reset", owner, auth.TokenResetPassword, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = ledger.Consume(ctx, "reset", auth.TokenVerifyEmail, owner)
	require.Error(t, err)

	// the mismatched attempt left the record in place
	_, err = ledger.Consume(ctx, "reset", auth.TokenResetPassword, owner)
	assert.NoError(t, err)
}

func TestRedisLedger_ReplaceKeepsOneLiveToken(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	owner := uuid.New()
	ctx := context.Background()

	for _, token := range []string{"v1", "v2", "v3"} {
		_, err := ledger.Replace(ctx, owner, auth.TokenOnboardCompany, token, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}

	_, err := ledger.Find(ctx, "v3", auth.TokenOnboardCompany, owner)
	assert.NoError(t, err)
	for _, stale := range []string{"v1", "v2"} {
		_, err = ledger.Find(ctx, stale, auth.TokenOnboardCompany, owner)
		assert.Error(t, err, stale)
	}
}

func TestRedisLedger_DeleteAndRevoke(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	access, err := ledger.Save(ctx, "a-access", alice, auth.TokenAccess, expires)
	require.NoError(t, err)
	_, err = ledger.Save(ctx, "a-refresh", alice, auth.TokenRefresh, expires)
	require.NoError(t, err)
	_, err = ledger.Save(ctx, "a-reset", alice, auth.TokenResetPassword, expires)
	require.NoError(t, err)
	_, err = ledger.Save(ctx, "b-access", bob, auth.TokenAccess, expires)
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, access, nil))
	_, err = ledger.Find(ctx, "a-access", auth.TokenAccess, alice)
	assert.Error(t, err)

	require.NoError(t, ledger.DeleteAllOfKind(ctx, alice, auth.TokenRefresh, auth.TokenResetPassword))
	_, err = ledger.Find(ctx, "a-refresh", auth.TokenRefresh, alice)
	assert.Error(t, err)
	_, err = ledger.Find(ctx, "a-reset", auth.TokenResetPassword, alice)
	assert.Error(t, err)

	bobs, err := ledger.Find(ctx, "b-access", auth.TokenAccess, bob)
	require.NoError(t, err)
	require.NoError(t, ledger.Revoke(ctx, bobs))
	_, err = ledger.Find(ctx, "b-access", auth.TokenAccess, bob)
	assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err))
}

func TestRedisLedger_DeleteAllForUser(t *testing.T) {
	ledger, mr := setupRedisLedger(t)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	for _, kind := range auth.GetAllTokenKinds() {
		_, err := ledger.Save(ctx, "alice-"+string(kind), alice, kind, expires)
		require.NoError(t, err)
	}
	_, err := ledger.Save(ctx, "bob-access", bob, auth.TokenAccess, expires)
	require.NoError(t, err)

	require.NoError(t, ledger.DeleteAllForUser(ctx, alice))

	for _, kind := range auth.GetAllTokenKinds() {
		_, err := ledger.Find(ctx, "alice-"+string(kind), kind, alice)
		assert.Equal(t, auth.TextCodeTokenNotFound, auth.TextCode(err), kind)
	}
	_, err = ledger.Find(ctx, "bob-access", auth.TokenAccess, bob)
	assert.NoError(t, err)
	assert.Len(t, mr.Keys(), 2, "bob's record and index remain")
}

func TestRedisLedger_FailsClosedWhenRedisIsDown(t *testing.T) {
	ledger, mr := setupRedisLedger(t)
	mr.Close()

	_, err := ledger.Find(context.Background(), "tok", auth.TokenAccess, uuid.New())
	require.Error(t, err)
	assert.False(t, auth.IsUnauthenticated(err))
	assert.Equal(t, 500, auth.HTTPStatus(err))
}
