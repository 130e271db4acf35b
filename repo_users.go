package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Users interface {
	repository.Repository[*User]
	CredentialStore

	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	SaveTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	IsEmailTakenTx(ctx context.Context, tx bun.IDB, email string, excludingID uuid.UUID) (bool, error)
	DeleteUserTx(ctx context.Context, tx bun.IDB, user *User) error
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ CredentialStore              = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrUserNotFound
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalized).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{"lookup": "email"})
		}
		return nil, storageError(err, "failed to find user by email")
	}
	return record, nil
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	if id == uuid.Nil {
		return nil, ErrUserNotFound
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, withMetadata(ErrUserNotFound, map[string]any{"id": id.String()})
		}
		return nil, storageError(err, "failed to find user by id")
	}
	return record, nil
}

// Save inserts new users and updates existing ones
func (a *users) Save(ctx context.Context, user *User) (*User, error) {
	return a.SaveTx(ctx, a.db, user)
}

func (a *users) SaveTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, ErrInvalidInput
	}
	if err := prepareUser(user); err != nil {
		return nil, err
	}

	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", user.ID).
		Exists(ctx)
	if err != nil {
		return nil, storageError(err, "failed to check user")
	}

	if !exists {
		taken, err := a.IsEmailTakenTx(ctx, tx, user.Email, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrEmailTaken
		}
		created, err := a.Repository.CreateTx(ctx, tx, user)
		if err != nil {
			return nil, storageError(err, "failed to create user")
		}
		return created, nil
	}

	taken, err := a.IsEmailTakenTx(ctx, tx, user.Email, user.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	now := time.Now().UTC()
	user.UpdatedAt = &now
	_, err = tx.NewUpdate().
		Model(user).
		Column("email", "password_hash", "name", "user_role", "permissions", "company_id",
			"is_email_verified", "profile_picture", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "failed to update user")
	}
	return user, nil
}

func (a *users) IsEmailTaken(ctx context.Context, email string, excludingID uuid.UUID) (bool, error) {
	return a.IsEmailTakenTx(ctx, a.db, email, excludingID)
}

func (a *users) IsEmailTakenTx(ctx context.Context, tx bun.IDB, email string, excludingID uuid.UUID) (bool, error) {
	q := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email))
	if excludingID != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", excludingID)
	}

	taken, err := q.Exists(ctx)
	if err != nil {
		return false, storageError(err, "failed to check email")
	}
	return taken, nil
}

func (a *users) Delete(ctx context.Context, user *User) error {
	return a.DeleteUserTx(ctx, a.db, user)
}

// DeleteUserTx removes a sub user. Primary admins are never deleted.
func (a *users) DeleteUserTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil {
		return ErrInvalidInput
	}
	if !user.Role.CanBeDeleted() {
		return withMetadata(ErrForbidden, map[string]any{"reason": "primary admin cannot be deleted"})
	}

	_, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", user.ID).
		Exec(ctx)
	return storageError(err, "failed to delete user")
}

// ListByCompany returns every member of a company ordered by email
func (a *users) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*User, error) {
	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.company_id = ?", companyID).
		OrderExpr("?TableAlias.email ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "failed to list company users")
	}
	return records, nil
}

func prepareUser(record *User) error {
	record.Email = NormalizeEmail(record.Email)
	if record.Email == "" {
		return withMetadata(ErrInvalidInput, map[string]any{"field": "email"})
	}

	if record.Role == "" {
		record.Role = RoleSubUser
	}
	if !record.Role.IsValid() {
		return withMetadata(ErrInvalidInput, map[string]any{"field": "role"})
	}

	perms, err := NormalizePermissions(record.Permissions)
	if err != nil {
		return err
	}
	record.Permissions = perms

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return nil
}
