package auth

import (
	"context"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Companies persists tenants created during onboarding
type Companies interface {
	repository.Repository[*Company]
	CreateCompanyTx(ctx context.Context, tx bun.IDB, company *Company) (*Company, error)
	FindCompanyByID(ctx context.Context, id uuid.UUID) (*Company, error)
}

type companies struct {
	repository.Repository[*Company]
	db *bun.DB
}

var _ Companies = (*companies)(nil)

func NewCompaniesRepository(db *bun.DB) Companies {
	repo := repository.NewRepository[*Company](db, repository.ModelHandlers[*Company]{
		NewRecord: func() *Company { return &Company{} },
		GetID: func(c *Company) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Company, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &companies{
		Repository: repo,
		db:         db,
	}
}

func (c *companies) CreateCompanyTx(ctx context.Context, tx bun.IDB, company *Company) (*Company, error) {
	if company == nil {
		return nil, ErrInvalidInput
	}
	company.Name = strings.TrimSpace(company.Name)
	if company.Name == "" {
		return nil, withMetadata(ErrInvalidInput, map[string]any{"field": "name"})
	}
	if company.ID == uuid.Nil {
		company.ID = uuid.New()
	}

	created, err := c.Repository.CreateTx(ctx, tx, company)
	if err != nil {
		return nil, storageError(err, "failed to create company")
	}
	return created, nil
}

func (c *companies) FindCompanyByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	record := &Company{}
	err := c.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrCompanyNotFound, map[string]any{"id": id.String()})
		}
		return nil, storageError(err, "failed to find company")
	}
	return record, nil
}
