package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	auth "github.com/goliatone/go-cms-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultKeyPrefix = "cms-auth:"

// RedisLedger keeps ledger records in Redis. Records are keyed by the token
// hash and expire with the token; a set per owner and kind indexes them.
type RedisLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ auth.TokenLedger = (*RedisLedger)(nil)

type RedisLedgerOption func(*RedisLedger)

func WithKeyPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisLedger) {
		l.prefix = prefix
	}
}

func WithRedisClock(now func() time.Time) RedisLedgerOption {
	return func(l *RedisLedger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewRedisLedger(client *redis.Client, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{
		client: client,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) tokenKey(hash string) string {
	return fmt.Sprintf("%stoken:%s", l.prefix, hash)
}

func (l *RedisLedger) indexKey(owner uuid.UUID, kind auth.TokenKind) string {
	return fmt.Sprintf("%sowner:%s:%s", l.prefix, owner, kind)
}

func (l *RedisLedger) Save(ctx context.Context, token string, owner uuid.UUID, kind auth.TokenKind, expiresAt time.Time) (*auth.Token, error) {
	record, data, ttl, err := l.newRecord(token, owner, kind, expiresAt)
	if err != nil {
		return nil, err
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		l.queueSave(ctx, pipe, record, data, ttl)
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to save token")
	}
	return record, nil
}

func (l *RedisLedger) Find(ctx context.Context, token string, kind auth.TokenKind, owner uuid.UUID) (*auth.Token, error) {
	hash := auth.HashToken(token)
	data, err := l.client.Get(ctx, l.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrTokenNotFound
		}
		return nil, storageError(err, "failed to look up token")
	}
	return l.decode(hash, data, kind, owner)
}

// Consume relies on GETDEL so only one caller receives the record
func (l *RedisLedger) Consume(ctx context.Context, token string, kind auth.TokenKind, owner uuid.UUID) (*auth.Token, error) {
	if _, err := l.Find(ctx, token, kind, owner); err != nil {
		return nil, err
	}

	hash := auth.HashToken(token)
	data, err := l.client.GetDel(ctx, l.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrTokenNotFound
		}
		return nil, storageError(err, "failed to consume token")
	}

	record, err := l.decode(hash, data, kind, owner)
	if err != nil {
		return nil, err
	}

	if err := l.client.SRem(ctx, l.indexKey(owner, kind), hash).Err(); err != nil {
		return nil, storageError(err, "failed to update token index")
	}
	return record, nil
}

func (l *RedisLedger) Replace(ctx context.Context, owner uuid.UUID, kind auth.TokenKind, token string, expiresAt time.Time) (*auth.Token, error) {
	record, data, ttl, err := l.newRecord(token, owner, kind, expiresAt)
	if err != nil {
		return nil, err
	}

	index := l.indexKey(owner, kind)
	hashes, err := l.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, storageError(err, "failed to read token index")
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, l.tokenKey(h))
		}
		pipe.Del(ctx, index)
		l.queueSave(ctx, pipe, record, data, ttl)
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to replace token")
	}
	return record, nil
}

func (l *RedisLedger) DeleteAllOfKind(ctx context.Context, owner uuid.UUID, kinds ...auth.TokenKind) error {
	for _, kind := range kinds {
		index := l.indexKey(owner, kind)
		hashes, err := l.client.SMembers(ctx, index).Result()
		if err != nil {
			return storageError(err, "failed to read token index")
		}

		keys := make([]string, 0, len(hashes)+1)
		for _, h := range hashes {
			keys = append(keys, l.tokenKey(h))
		}
		keys = append(keys, index)

		if err := l.client.Del(ctx, keys...).Err(); err != nil {
			return storageError(err, "failed to delete tokens")
		}
	}
	return nil
}

func (l *RedisLedger) DeleteAllForUser(ctx context.Context, owner uuid.UUID) error {
	return l.DeleteAllOfKind(ctx, owner, auth.GetAllTokenKinds()...)
}

func (l *RedisLedger) Delete(ctx context.Context, records ...*auth.Token) error {
	if len(records) == 0 {
		return nil
	}

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			if r == nil {
				continue
			}
			pipe.Del(ctx, l.tokenKey(r.TokenHash))
			pipe.SRem(ctx, l.indexKey(r.UserID, r.Kind), r.TokenHash)
		}
		return nil
	})
	return storageError(err, "failed to delete tokens")
}

func (l *RedisLedger) Revoke(ctx context.Context, record *auth.Token) error {
	if record == nil {
		return nil
	}

	record.Revoked = true
	data, err := json.Marshal(record)
	if err != nil {
		return storageError(err, "failed to encode token")
	}

	if err := l.client.SetArgs(ctx, l.tokenKey(record.TokenHash), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return storageError(err, "failed to revoke token")
	}
	return nil
}

func (l *RedisLedger) newRecord(token string, owner uuid.UUID, kind auth.TokenKind, expiresAt time.Time) (*auth.Token, []byte, time.Duration, error) {
	if token == "" || owner == uuid.Nil || !kind.IsValid() {
		return nil, nil, 0, auth.ErrInvalidInput
	}

	now := l.now().UTC()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil, nil, 0, auth.ErrInvalidInput
	}

	record := &auth.Token{
		ID:        uuid.New(),
		TokenHash: auth.HashToken(token),
		UserID:    owner,
		Kind:      kind,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
		CreatedAt: &now,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, nil, 0, storageError(err, "failed to encode token")
	}
	return record, data, ttl, nil
}

func (l *RedisLedger) queueSave(ctx context.Context, pipe redis.Pipeliner, record *auth.Token, data []byte, ttl time.Duration) {
	index := l.indexKey(record.UserID, record.Kind)
	pipe.Set(ctx, l.tokenKey(record.TokenHash), data, ttl)
	pipe.SAdd(ctx, index, record.TokenHash)
	pipe.Expire(ctx, index, ttl)
}

func (l *RedisLedger) decode(hash string, data []byte, kind auth.TokenKind, owner uuid.UUID) (*auth.Token, error) {
	record := &auth.Token{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, storageError(err, "failed to decode token")
	}
	record.TokenHash = hash

	if record.Kind != kind || record.UserID != owner || !record.IsUsable(l.now()) {
		return nil, auth.ErrTokenNotFound
	}
	return record, nil
}

func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}
