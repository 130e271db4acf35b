package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// subUserHandler holds what every sub user command needs. Each command
// elevates trust, so the caller's live permission and company are re-read.
type subUserHandler struct {
	repo     RepositoryManager
	sessions *SessionManager
	guard    *Guard
}

// requireAdmin returns the live caller after checking permission and company membership
func (h subUserHandler) requireAdmin(ctx context.Context, actor *Identity, permission Permission) (*User, error) {
	admin, err := h.guard.requirePermission(ctx, actor, permission)
	if err != nil {
		return nil, err
	}
	if !admin.HasCompany() {
		return nil, withMetadata(ErrForbidden, map[string]any{"reason": "company onboarding required"})
	}
	return admin, nil
}

// loadMember loads a user of the admin's company
func (h subUserHandler) loadMember(ctx context.Context, admin *User, userID uuid.UUID) (*User, error) {
	target, err := h.repo.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !target.BelongsTo(*admin.CompanyID) {
		recordActivity(ctx, h.guard.activity, h.guard.logger, ActivityEvent{
			EventType: ActivityEventCrossTenantDenied,
			ActorID:   admin.ID.String(),
			UserID:    target.ID.String(),
			CompanyID: admin.CompanyID.String(),
		})
		return nil, withMetadata(ErrCrossTenant, map[string]any{"user_id": userID.String()})
	}
	return target, nil
}

type CreateSubUserMessage struct {
	Actor       *Identity                         `json:"-"`
	Name        string                            `json:"name"`
	Email       string                            `json:"email"`
	Password    string                            `json:"password"`
	Permissions []string                          `json:"permissions"`
	OnResponse  func(resp *CreateSubUserResponse) `json:"-"`
}

func (e CreateSubUserMessage) Type() string { return "user.sub_user.create" }

func (e CreateSubUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

type CreateSubUserResponse struct {
	User                *User
	EmailDeliveryFailed bool
}

// CreateSubUserHandler adds a SubUser to the caller's company.
// Requires the addUser permission.
type CreateSubUserHandler struct {
	subUserHandler
}

func NewCreateSubUserHandler(repo RepositoryManager, sessions *SessionManager, guard *Guard) *CreateSubUserHandler {
	return &CreateSubUserHandler{subUserHandler{repo: repo, sessions: sessions, guard: guard}}
}

func (h *CreateSubUserHandler) Execute(ctx context.Context, event CreateSubUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sub user creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateSubUserHandler) execute(ctx context.Context, event CreateSubUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	admin, err := h.requireAdmin(ctx, event.Actor, PermAddUser)
	if err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{"reason": err.Error()})
	}
	if err := ValidatePassword(event.Password); err != nil {
		return err
	}
	permissions, err := NormalizePermissions(event.Permissions)
	if err != nil {
		return err
	}

	hash, err := h.sessions.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:           NormalizeEmail(event.Email),
		Name:            event.Name,
		PasswordHash:    hash,
		Role:            RoleSubUser,
		Permissions:     permissions,
		CompanyID:       admin.CompanyID,
		CreatedByUserID: &admin.ID,
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := h.repo.Users().IsEmailTakenTx(ctx, tx, user.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		user, err = h.repo.Users().SaveTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return storageError(err, "sub user creation transaction failed")
	}

	resp := &CreateSubUserResponse{User: user}
	if _, err := h.sessions.SendVerificationEmail(ctx, user); err != nil {
		if !IsEmailDeliveryError(err) {
			return err
		}
		resp.EmailDeliveryFailed = true
	}

	recordActivity(ctx, h.sessions.activity, h.sessions.logger, ActivityEvent{
		EventType: ActivityEventSubUserCreated,
		ActorID:   admin.ID.String(),
		UserID:    user.ID.String(),
		CompanyID: admin.CompanyID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}

type UpdateSubUserPermissionsMessage struct {
	Actor       *Identity           `json:"-"`
	UserID      uuid.UUID           `json:"user_id"`
	Permissions []string            `json:"permissions"`
	OnResponse  func(updated *User) `json:"-"`
}

func (e UpdateSubUserPermissionsMessage) Type() string { return "user.sub_user.permissions" }

// UpdateSubUserPermissionsHandler replaces the permission set of a SubUser.
// Requires the editUser permission. Tokens already issued keep their
// snapshot but the guard only honours the live set.
type UpdateSubUserPermissionsHandler struct {
	subUserHandler
}

func NewUpdateSubUserPermissionsHandler(repo RepositoryManager, sessions *SessionManager, guard *Guard) *UpdateSubUserPermissionsHandler {
	return &UpdateSubUserPermissionsHandler{subUserHandler{repo: repo, sessions: sessions, guard: guard}}
}

func (h *UpdateSubUserPermissionsHandler) Execute(ctx context.Context, event UpdateSubUserPermissionsMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during permission update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateSubUserPermissionsHandler) execute(ctx context.Context, event UpdateSubUserPermissionsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	admin, err := h.requireAdmin(ctx, event.Actor, PermEditUser)
	if err != nil {
		return err
	}

	permissions, err := NormalizePermissions(event.Permissions)
	if err != nil {
		return err
	}

	target, err := h.loadMember(ctx, admin, event.UserID)
	if err != nil {
		return err
	}
	if target.Role != RoleSubUser {
		return withMetadata(ErrForbidden, map[string]any{"reason": "only sub users can be edited"})
	}

	target.Permissions = permissions
	updated, err := h.repo.Users().Save(ctx, target)
	if err != nil {
		return storageError(err, "failed to update permissions")
	}

	recordActivity(ctx, h.sessions.activity, h.sessions.logger, ActivityEvent{
		EventType: ActivityEventSubUserPermissionsEdit,
		ActorID:   admin.ID.String(),
		UserID:    updated.ID.String(),
		CompanyID: admin.CompanyID.String(),
		Metadata:  map[string]any{"permissions": len(permissions)},
	})

	if event.OnResponse != nil {
		event.OnResponse(updated)
	}
	return nil
}

type UpdateSubUserMessage struct {
	Actor          *Identity                         `json:"-"`
	UserID         uuid.UUID                         `json:"user_id"`
	Name           string                            `json:"name"`
	Email          string                            `json:"email"`
	ProfilePicture string                            `json:"profile_picture"`
	OnResponse     func(resp *UpdateSubUserResponse) `json:"-"`
}

func (e UpdateSubUserMessage) Type() string { return "user.sub_user.update" }

func (e UpdateSubUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.ProfilePicture, is.URL),
	)
}

type UpdateSubUserResponse struct {
	User *User
	// EmailChanged is set when the address changed and must be verified again
	EmailChanged        bool
	EmailDeliveryFailed bool
}

// UpdateSubUserHandler edits the name, email and picture of a SubUser.
// Requires the editUser permission. A new email clears the verified flag
// and a fresh verification email goes out.
type UpdateSubUserHandler struct {
	subUserHandler
}

func NewUpdateSubUserHandler(repo RepositoryManager, sessions *SessionManager, guard *Guard) *UpdateSubUserHandler {
	return &UpdateSubUserHandler{subUserHandler{repo: repo, sessions: sessions, guard: guard}}
}

func (h *UpdateSubUserHandler) Execute(ctx context.Context, event UpdateSubUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sub user update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateSubUserHandler) execute(ctx context.Context, event UpdateSubUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	admin, err := h.requireAdmin(ctx, event.Actor, PermEditUser)
	if err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{"reason": err.Error()})
	}

	target, err := h.loadMember(ctx, admin, event.UserID)
	if err != nil {
		return err
	}
	if target.Role != RoleSubUser {
		return withMetadata(ErrForbidden, map[string]any{"reason": "only sub users can be edited"})
	}

	email := NormalizeEmail(event.Email)
	resp := &UpdateSubUserResponse{EmailChanged: email != target.Email}

	target.Name = event.Name
	target.Email = email
	target.ProfilePicture = event.ProfilePicture
	if resp.EmailChanged {
		target.EmailVerified = false
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := h.repo.Users().IsEmailTakenTx(ctx, tx, target.Email, target.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		target, err = h.repo.Users().SaveTx(ctx, tx, target)
		return err
	})
	if err != nil {
		return storageError(err, "sub user update transaction failed")
	}
	resp.User = target

	if resp.EmailChanged {
		if _, err := h.sessions.SendVerificationEmail(ctx, target); err != nil {
			if !IsEmailDeliveryError(err) {
				return err
			}
			resp.EmailDeliveryFailed = true
		}
	}

	recordActivity(ctx, h.sessions.activity, h.sessions.logger, ActivityEvent{
		EventType: ActivityEventSubUserUpdated,
		ActorID:   admin.ID.String(),
		UserID:    target.ID.String(),
		CompanyID: admin.CompanyID.String(),
		Metadata:  map[string]any{"email_changed": resp.EmailChanged},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}

type DeleteSubUserMessage struct {
	Actor  *Identity `json:"-"`
	UserID uuid.UUID `json:"user_id"`
}

func (e DeleteSubUserMessage) Type() string { return "user.sub_user.delete" }

// DeleteSubUserHandler removes a SubUser and every ledger row it owns.
// Requires the deleteUser permission. A PrimaryAdmin is never deleted.
type DeleteSubUserHandler struct {
	subUserHandler
}

func NewDeleteSubUserHandler(repo RepositoryManager, sessions *SessionManager, guard *Guard) *DeleteSubUserHandler {
	return &DeleteSubUserHandler{subUserHandler{repo: repo, sessions: sessions, guard: guard}}
}

func (h *DeleteSubUserHandler) Execute(ctx context.Context, event DeleteSubUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sub user deletion",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeleteSubUserHandler) execute(ctx context.Context, event DeleteSubUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	admin, err := h.requireAdmin(ctx, event.Actor, PermDeleteUser)
	if err != nil {
		return err
	}

	target, err := h.loadMember(ctx, admin, event.UserID)
	if err != nil {
		return err
	}
	if !target.Role.CanBeDeleted() {
		return withMetadata(ErrForbidden, map[string]any{"reason": "only sub users can be deleted"})
	}

	if err := h.repo.Users().Delete(ctx, target); err != nil {
		return err
	}

	if err := h.sessions.ledger.DeleteAllForUser(ctx, target.ID); err != nil {
		h.sessions.logger.Error("failed to drop tokens of deleted user %s: %v", target.ID, err)
		return storageError(err, "failed to drop tokens of deleted user")
	}

	recordActivity(ctx, h.sessions.activity, h.sessions.logger, ActivityEvent{
		EventType: ActivityEventSubUserDeleted,
		ActorID:   admin.ID.String(),
		UserID:    target.ID.String(),
		CompanyID: admin.CompanyID.String(),
	})
	return nil
}

type ListCompanyUsersMessage struct {
	Actor      *Identity
	OnResponse func(users []*User)
}

func (e ListCompanyUsersMessage) Type() string { return "user.list" }

// ListCompanyUsersHandler lists the members of the caller's company.
// Requires the getUsers permission.
type ListCompanyUsersHandler struct {
	subUserHandler
}

func NewListCompanyUsersHandler(repo RepositoryManager, guard *Guard) *ListCompanyUsersHandler {
	return &ListCompanyUsersHandler{subUserHandler{repo: repo, guard: guard}}
}

func (h *ListCompanyUsersHandler) Execute(ctx context.Context, event ListCompanyUsersMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during user listing")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	admin, err := h.requireAdmin(ctx, event.Actor, PermGetUsers)
	if err != nil {
		return err
	}

	members, err := h.repo.Users().ListByCompany(ctx, *admin.CompanyID)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(members)
	}
	return nil
}

type GetProfileMessage struct {
	Actor      *Identity
	OnResponse func(profile *Profile)
}

func (e GetProfileMessage) Type() string { return "user.profile" }

// Profile is the caller's live record and, once onboarded, its company
type Profile struct {
	User    *User    `json:"user"`
	Company *Company `json:"company"`
}

// ProfileHandler reads the caller's own profile. Any authenticated user may.
type ProfileHandler struct {
	subUserHandler
}

func NewProfileHandler(repo RepositoryManager, guard *Guard) *ProfileHandler {
	return &ProfileHandler{subUserHandler{repo: repo, guard: guard}}
}

func (h *ProfileHandler) Execute(ctx context.Context, event GetProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during profile lookup")
	default:
	}

	if event.Actor == nil || event.Actor.UserID == uuid.Nil {
		return ErrPleaseAuthenticate
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().FindByID(ctx, event.Actor.UserID)
	if err != nil {
		return err
	}

	profile := &Profile{User: user}
	if user.HasCompany() {
		profile.Company, err = h.repo.Companies().FindCompanyByID(ctx, *user.CompanyID)
		if err != nil {
			return err
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(profile)
	}
	return nil
}
