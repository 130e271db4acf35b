package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenLedger is the durable record of issued tokens. It decides whether a
// token is still usable independently of its signature.
// Every operation is scoped to an owner and a kind.
type TokenLedger interface {
	Save(ctx context.Context, token string, owner uuid.UUID, kind TokenKind, expiresAt time.Time) (*Token, error)
	// Find treats revoked, expired and missing records the same way
	Find(ctx context.Context, token string, kind TokenKind, owner uuid.UUID) (*Token, error)
	// Consume finds and deletes a record atomically, only one caller wins
	Consume(ctx context.Context, token string, kind TokenKind, owner uuid.UUID) (*Token, error)
	// Replace deletes every record of kind for owner and saves token
	Replace(ctx context.Context, owner uuid.UUID, kind TokenKind, token string, expiresAt time.Time) (*Token, error)
	DeleteAllOfKind(ctx context.Context, owner uuid.UUID, kinds ...TokenKind) error
	Delete(ctx context.Context, records ...*Token) error
	Revoke(ctx context.Context, record *Token) error
	// DeleteAllForUser drops every record of owner regardless of kind
	DeleteAllForUser(ctx context.Context, owner uuid.UUID) error
}

// HashToken returns the digest stored in place of the signed token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SQLTokenLedger stores tokens in the tokens table
type SQLTokenLedger struct {
	db  bun.IDB
	now func() time.Time
}

// LedgerOption configures a SQLTokenLedger
type LedgerOption func(*SQLTokenLedger)

// WithLedgerClock overrides the clock used for expiry checks
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *SQLTokenLedger) {
		if now != nil {
			l.now = now
		}
	}
}

var _ TokenLedger = (*SQLTokenLedger)(nil)

func NewSQLTokenLedger(db bun.IDB, opts ...LedgerOption) *SQLTokenLedger {
	l := &SQLTokenLedger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SQLTokenLedger) Save(ctx context.Context, token string, owner uuid.UUID, kind TokenKind, expiresAt time.Time) (*Token, error) {
	return saveToken(ctx, l.db, token, owner, kind, expiresAt)
}

func (l *SQLTokenLedger) Find(ctx context.Context, token string, kind TokenKind, owner uuid.UUID) (*Token, error) {
	record := &Token{}
	err := l.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", HashToken(token)).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.user_id = ?", owner).
		Where("?TableAlias.revoked = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, storageError(err, "failed to look up token")
	}

	if !record.IsUsable(l.now()) {
		return nil, ErrTokenNotFound
	}

	return record, nil
}

func (l *SQLTokenLedger) Consume(ctx context.Context, token string, kind TokenKind, owner uuid.UUID) (*Token, error) {
	record, err := l.Find(ctx, token, kind, owner)
	if err != nil {
		return nil, err
	}

	res, err := l.db.NewDelete().
		Model((*Token)(nil)).
		Where("id = ?", record.ID).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "failed to consume token")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, storageError(err, "failed to consume token")
	}
	if n != 1 {
		// another caller consumed it first
		return nil, ErrTokenNotFound
	}

	return record, nil
}

func (l *SQLTokenLedger) Replace(ctx context.Context, owner uuid.UUID, kind TokenKind, token string, expiresAt time.Time) (*Token, error) {
	var record *Token
	err := runInTx(ctx, l.db, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteTokensOfKind(ctx, tx, owner, kind); err != nil {
			return err
		}
		saved, err := saveToken(ctx, tx, token, owner, kind, expiresAt)
		if err != nil {
			return err
		}
		record = saved
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to replace token")
	}
	return record, nil
}

func (l *SQLTokenLedger) DeleteAllOfKind(ctx context.Context, owner uuid.UUID, kinds ...TokenKind) error {
	if len(kinds) == 0 {
		return nil
	}
	return deleteTokensOfKind(ctx, l.db, owner, kinds...)
}

func (l *SQLTokenLedger) Delete(ctx context.Context, records ...*Token) error {
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if r != nil {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := l.db.NewDelete().
		Model((*Token)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return storageError(err, "failed to delete tokens")
}

func (l *SQLTokenLedger) Revoke(ctx context.Context, record *Token) error {
	if record == nil {
		return nil
	}
	_, err := l.db.NewUpdate().
		Model((*Token)(nil)).
		Set("revoked = ?", true).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to revoke token")
	}
	record.Revoked = true
	return nil
}

// DeleteAllForUser drops every ledger row of owner
func (l *SQLTokenLedger) DeleteAllForUser(ctx context.Context, owner uuid.UUID) error {
	return l.DeleteAllOfKind(ctx, owner, GetAllTokenKinds()...)
}

func saveToken(ctx context.Context, db bun.IDB, token string, owner uuid.UUID, kind TokenKind, expiresAt time.Time) (*Token, error) {
	if token == "" || owner == uuid.Nil || !kind.IsValid() {
		return nil, ErrInvalidInput
	}

	record := &Token{
		ID:        uuid.New(),
		TokenHash: HashToken(token),
		UserID:    owner,
		Kind:      kind,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
	}

	if _, err := db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, storageError(err, "failed to save token")
	}
	return record, nil
}

func deleteTokensOfKind(ctx context.Context, db bun.IDB, owner uuid.UUID, kinds ...TokenKind) error {
	_, err := db.NewDelete().
		Model((*Token)(nil)).
		Where("user_id = ?", owner).
		Where("kind IN (?)", bun.In(kinds)).
		Exec(ctx)
	return storageError(err, "failed to delete tokens")
}

// runInTx joins the caller's transaction when db already is one
func runInTx(ctx context.Context, db bun.IDB, fn func(ctx context.Context, tx bun.Tx) error) error {
	if tx, ok := db.(bun.Tx); ok {
		return fn(ctx, tx)
	}
	return db.RunInTx(ctx, nil, fn)
}
