package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Companies() Companies
	Tokens() *SQLTokenLedger
}

type mngr struct {
	db        *bun.DB
	users     Users
	companies Companies
	tokens    *SQLTokenLedger
}

func NewRepositoryManager(db *bun.DB, opts ...LedgerOption) RepositoryManager {
	return &mngr{
		db:        db,
		users:     NewUsersRepository(db),
		companies: NewCompaniesRepository(db),
		tokens:    NewSQLTokenLedger(db, opts...),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.companies == nil {
		return errors.New("repository companies should be initialized")
	}

	if m.tokens == nil {
		return errors.New("token ledger should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Companies() Companies {
	return m.companies
}

func (m mngr) Tokens() *SQLTokenLedger {
	return m.tokens
}

// CreateSchema creates the users, companies and tokens tables
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*User)(nil),
		(*Company)(nil),
		(*Token)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*Token)(nil), "tokens_owner_kind_idx", []string{"user_id", "kind"}},
		{(*User)(nil), "users_company_idx", []string{"company_id"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
