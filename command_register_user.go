package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	UseHashid bool   `json:"-"`
	// OnResponse receives the created user
	OnResponse func(resp *RegisterUserResponse) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

type RegisterUserResponse struct {
	User                *User
	EmailDeliveryFailed bool
}

// RegisterUserHandler creates a PrimaryAdmin without a company and sends
// the first verification email
type RegisterUserHandler struct {
	repo     RepositoryManager
	sessions *SessionManager
}

func NewRegisterUserHandler(repo RepositoryManager, sessions *SessionManager) *RegisterUserHandler {
	return &RegisterUserHandler{repo: repo, sessions: sessions}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{"reason": err.Error()})
	}

	if err := ValidatePassword(event.Password); err != nil {
		return err
	}

	hash, err := h.sessions.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:         NormalizeEmail(event.Email),
		Name:          event.Name,
		PasswordHash:  hash,
		Role:          RolePrimaryAdmin,
		Permissions:   DefaultAdminPermissions(),
		EmailVerified: false,
	}
	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := h.repo.Users().IsEmailTakenTx(ctx, tx, user.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}

		if user, err = h.repo.Users().SaveTx(ctx, tx, user); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return storageError(err, "user registration transaction failed")
	}

	resp := &RegisterUserResponse{User: user}

	if _, err := h.sessions.SendVerificationEmail(ctx, user); err != nil {
		if !IsEmailDeliveryError(err) {
			return err
		}
		resp.EmailDeliveryFailed = true
	}

	h.sessions.record(ctx, ActivityEventUserRegistered, user, nil)

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
