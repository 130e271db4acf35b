package auth

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

type AuthControllerRoutes struct {
	Register       string
	Login          string
	Logout         string
	RefreshTokens  string
	ForgotPassword string
	ResetPassword  string
	VerifyEmail    string
	Companies      string
	Users          string
	Profile        string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Sessions     *SessionManager
	Guard        *Guard
	Routes       *AuthControllerRoutes
	ErrorHandler router.ErrorHandler
	UseHashid    bool

	register    *RegisterUserHandler
	onboard     *OnboardCompanyHandler
	createSub   *CreateSubUserHandler
	updatePerms *UpdateSubUserPermissionsHandler
	updateSub   *UpdateSubUserHandler
	deleteSub   *DeleteSubUserHandler
	listMembers *ListCompanyUsersHandler
	profile     *ProfileHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Logger = normalizeLogger(logger)
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func WithControllerErrorHandler(handler router.ErrorHandler) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if handler != nil {
			ac.ErrorHandler = handler
		}
		return ac
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if routes != nil {
			ac.Routes = routes
		}
		return ac
	}
}

// WithHashidUserIDs derives new user IDs from the registration email
func WithHashidUserIDs(enabled bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.UseHashid = enabled
		return ac
	}
}

func NewAuthController(repo RepositoryManager, sessions *SessionManager, guard *Guard, opts ...AuthControllerOption) *AuthController {
	if repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}
	if sessions == nil {
		panic("Missing SessionManager in auth controller...")
	}
	if guard == nil {
		panic("Missing Guard in auth controller...")
	}

	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Repo:         repo,
		Sessions:     sessions,
		Guard:        guard,
		Routes: &AuthControllerRoutes{
			Register:       "/auth/register",
			Login:          "/auth/login",
			Logout:         "/auth/logout",
			RefreshTokens:  "/auth/refresh-tokens",
			ForgotPassword: "/auth/forgot-password",
			ResetPassword:  "/auth/reset-password",
			VerifyEmail:    "/auth/verify-email",
			Companies:      "/companies",
			Users:          "/users",
			Profile:        "/users/profile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	c.register = NewRegisterUserHandler(repo, sessions)
	c.onboard = NewOnboardCompanyHandler(repo, sessions)
	c.createSub = NewCreateSubUserHandler(repo, sessions, guard)
	c.updatePerms = NewUpdateSubUserPermissionsHandler(repo, sessions, guard)
	c.updateSub = NewUpdateSubUserHandler(repo, sessions, guard)
	c.deleteSub = NewDeleteSubUserHandler(repo, sessions, guard)
	c.listMembers = NewListCompanyUsersHandler(repo, guard)
	c.profile = NewProfileHandler(repo, guard)

	return c
}

// RegisterRoutes mounts the auth routes. Routes that act on behalf of a
// user expect protected to resolve the access token identity.
func (a *AuthController) RegisterRoutes(app RouteRegistrar, protected router.MiddlewareFunc) {
	app.Post(a.Routes.Register, a.Register)
	app.Post(a.Routes.Login, a.Login)
	app.Post(a.Routes.Logout, a.Logout)
	app.Post(a.Routes.RefreshTokens, a.RefreshTokens)
	app.Post(a.Routes.ForgotPassword, a.ForgotPassword)
	app.Post(a.Routes.ResetPassword, a.ResetPassword)
	app.Get(a.Routes.VerifyEmail, a.VerifyEmail)
	app.Post(a.Routes.Companies, a.OnboardCompany)

	app.Get(a.Routes.Profile, a.Profile, protected)
	app.Get(a.Routes.Users, a.ListUsers, protected)
	app.Post(a.Routes.Users, a.CreateUser, protected)
	app.Put(a.Routes.Users+"/:id", a.UpdateUser, protected)
	app.Put(a.Routes.Users+"/:id/permissions", a.UpdateUserPermissions, protected)
	app.Delete(a.Routes.Users+"/:id", a.DeleteUser, protected)
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "register", badPayload(err))
	}

	var resp *RegisterUserResponse
	err := a.register.Execute(ctx.Context(), RegisterUserMessage{
		Name:      payload.Name,
		Email:     payload.Email,
		Password:  payload.Password,
		UseHashid: a.UseHashid,
		OnResponse: func(r *RegisterUserResponse) {
			resp = r
		},
	})
	if err != nil {
		return a.fail(ctx, "register", err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"user":                  resp.User,
		"email_delivery_failed": resp.EmailDeliveryFailed,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "login", badPayload(err))
	}
	if err := payload.Validate(); err != nil {
		return a.fail(ctx, "login", badPayload(err))
	}

	result, err := a.Sessions.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		if result != nil && result.Outcome == LoginVerificationRequired {
			resp := NewErrorResponse(err)
			return ctx.JSON(resp.Code, map[string]any{
				"code":                  resp.Code,
				"error":                 resp.Error,
				"message":               resp.Message,
				"outcome":               result.Outcome,
				"email_delivery_failed": result.EmailDeliveryFailed,
			})
		}
		return a.fail(ctx, "login", err)
	}

	body := map[string]any{
		"outcome": result.Outcome,
		"user":    result.User,
	}
	switch result.Outcome {
	case LoginOnboardingRequired:
		body["onboard_token"] = result.OnboardToken
	default:
		body["tokens"] = result.Tokens
	}
	return ctx.JSON(router.StatusOK, body)
}

type LogoutRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (a *AuthController) Logout(ctx router.Context) error {
	header, err := bearerToken(ctx)
	if err != nil {
		return a.fail(ctx, "logout", err)
	}

	payload := new(LogoutRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "logout", badPayload(err))
	}

	if err := a.Sessions.Logout(ctx.Context(), header, payload.AccessToken, payload.RefreshToken); err != nil {
		return a.fail(ctx, "logout", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type RefreshTokensRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *AuthController) RefreshTokens(ctx router.Context) error {
	payload := new(RefreshTokensRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "refresh", badPayload(err))
	}

	tokens, err := a.Sessions.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return a.fail(ctx, "refresh", err)
	}
	return ctx.JSON(router.StatusOK, tokens)
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// ForgotPassword answers 204 whether or not the account exists
func (a *AuthController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "forgot password", badPayload(err))
	}
	if err := payload.Validate(); err != nil {
		return a.fail(ctx, "forgot password", badPayload(err))
	}

	if err := a.Sessions.ForgotPassword(ctx.Context(), payload.Email); err != nil {
		if !IsEmailDeliveryError(err) {
			return a.fail(ctx, "forgot password", err)
		}
		a.Logger.Warn("forgot password: reset email not delivered")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword reads the reset token from the Authorization header
func (a *AuthController) ResetPassword(ctx router.Context) error {
	token, err := bearerToken(ctx)
	if err != nil {
		return a.fail(ctx, "reset password", err)
	}

	payload := new(ResetPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "reset password", badPayload(err))
	}

	if err := a.Sessions.ResetPassword(ctx.Context(), token, payload.Password); err != nil {
		return a.fail(ctx, "reset password", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (a *AuthController) VerifyEmail(ctx router.Context) error {
	token := ctx.Query("token", "")
	if token == "" {
		return a.fail(ctx, "verify email", ErrMissingToken)
	}

	if err := a.Sessions.VerifyEmail(ctx.Context(), token); err != nil {
		return a.fail(ctx, "verify email", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type OnboardCompanyRequest struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

// OnboardCompany reads the onboarding token from the Authorization header
func (a *AuthController) OnboardCompany(ctx router.Context) error {
	token, err := bearerToken(ctx)
	if err != nil {
		return a.fail(ctx, "onboard company", err)
	}

	payload := new(OnboardCompanyRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "onboard company", badPayload(err))
	}

	var resp *OnboardCompanyResponse
	err = a.onboard.Execute(ctx.Context(), OnboardCompanyMessage{
		Token:   token,
		Name:    payload.Name,
		Website: payload.Website,
		OnResponse: func(r *OnboardCompanyResponse) {
			resp = r
		},
	})
	if err != nil {
		return a.fail(ctx, "onboard company", err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"company": resp.Company,
		"user":    resp.User,
	})
}

type CreateUserRequest struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

func (a *AuthController) CreateUser(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "create user", err)
	}

	payload := new(CreateUserRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "create user", badPayload(err))
	}

	var resp *CreateSubUserResponse
	err = a.createSub.Execute(ctx.Context(), CreateSubUserMessage{
		Actor:       actor,
		Name:        payload.Name,
		Email:       payload.Email,
		Password:    payload.Password,
		Permissions: payload.Permissions,
		OnResponse: func(r *CreateSubUserResponse) {
			resp = r
		},
	})
	if err != nil {
		return a.fail(ctx, "create user", err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"user":                  resp.User,
		"email_delivery_failed": resp.EmailDeliveryFailed,
	})
}

func (a *AuthController) ListUsers(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "list users", err)
	}

	var members []*User
	err = a.listMembers.Execute(ctx.Context(), ListCompanyUsersMessage{
		Actor: actor,
		OnResponse: func(users []*User) {
			members = users
		},
	})
	if err != nil {
		return a.fail(ctx, "list users", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"users": members,
	})
}

// Profile answers with the caller's own record and company
func (a *AuthController) Profile(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "profile", err)
	}

	var profile *Profile
	err = a.profile.Execute(ctx.Context(), GetProfileMessage{
		Actor: actor,
		OnResponse: func(p *Profile) {
			profile = p
		},
	})
	if err != nil {
		return a.fail(ctx, "profile", err)
	}
	return ctx.JSON(router.StatusOK, profile)
}

type UpdateUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profile_picture"`
}

func (a *AuthController) UpdateUser(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "update user", err)
	}

	userID, err := a.userIDParam(ctx)
	if err != nil {
		return a.fail(ctx, "update user", err)
	}

	payload := new(UpdateUserRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "update user", badPayload(err))
	}

	var resp *UpdateSubUserResponse
	err = a.updateSub.Execute(ctx.Context(), UpdateSubUserMessage{
		Actor:          actor,
		UserID:         userID,
		Name:           payload.Name,
		Email:          payload.Email,
		ProfilePicture: payload.ProfilePicture,
		OnResponse: func(r *UpdateSubUserResponse) {
			resp = r
		},
	})
	if err != nil {
		return a.fail(ctx, "update user", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user":                  resp.User,
		"email_changed":         resp.EmailChanged,
		"email_delivery_failed": resp.EmailDeliveryFailed,
	})
}

type UpdatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *AuthController) UpdateUserPermissions(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "update permissions", err)
	}

	userID, err := a.userIDParam(ctx)
	if err != nil {
		return a.fail(ctx, "update permissions", err)
	}

	payload := new(UpdatePermissionsRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, "update permissions", badPayload(err))
	}

	var updated *User
	err = a.updatePerms.Execute(ctx.Context(), UpdateSubUserPermissionsMessage{
		Actor:       actor,
		UserID:      userID,
		Permissions: payload.Permissions,
		OnResponse: func(u *User) {
			updated = u
		},
	})
	if err != nil {
		return a.fail(ctx, "update permissions", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": updated,
	})
}

func (a *AuthController) DeleteUser(ctx router.Context) error {
	actor, err := a.identity(ctx)
	if err != nil {
		return a.fail(ctx, "delete user", err)
	}

	userID, err := a.userIDParam(ctx)
	if err != nil {
		return a.fail(ctx, "delete user", err)
	}

	err = a.deleteSub.Execute(ctx.Context(), DeleteSubUserMessage{
		Actor:  actor,
		UserID: userID,
	})
	if err != nil {
		return a.fail(ctx, "delete user", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// identity returns the caller resolved by the guard middleware
func (a *AuthController) identity(ctx router.Context) (*Identity, error) {
	if identity, ok := ctx.Locals(identityLocalsKey).(*Identity); ok && identity != nil {
		return identity, nil
	}
	if identity, ok := IdentityFromContext(ctx.Context()); ok {
		return identity, nil
	}
	return nil, ErrPleaseAuthenticate
}

func (a *AuthController) userIDParam(ctx router.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return uuid.Nil, withMetadata(ErrInvalidInput, map[string]any{"field": "id"})
	}
	return id, nil
}

func (a *AuthController) fail(ctx router.Context, operation string, err error) error {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Error("%s failed: %v", operation, err)
	} else {
		a.Logger.Debug("%s rejected: %s", operation, TextCode(err))
	}

	if a.Debug {
		a.Logger.Debug("%s error response:\n%s", operation, print.MaybePrettyJSON(NewErrorResponse(err)))
	}

	return a.ErrorHandler(ctx, err)
}

func badPayload(err error) error {
	return withMetadata(ErrInvalidInput, map[string]any{"reason": err.Error()})
}

// identityLocalsKey matches the guardware default context key
const identityLocalsKey = "identity"
