package guardware

import (
	"context"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/goliatone/go-router"
)

const DefaultContextKey = "identity"

// Authenticator is the part of auth.Guard the middleware needs
type Authenticator interface {
	Authenticate(ctx context.Context, header string, kind auth.TokenKind) (*auth.Identity, error)
	RequirePermission(ctx context.Context, identity *auth.Identity, permission auth.Permission) error
}

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	Guard          Authenticator
	// Kind is the token kind the route accepts, access by default
	Kind auth.TokenKind
	// Permission is checked against the live user record when set
	Permission auth.Permission
	ContextKey string
}

// New resolves the bearer token to an identity, optionally checks a live
// permission and stores the identity in the router locals and the request context.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			identity, err := cfg.Guard.Authenticate(ctx.Context(), ctx.Header(router.HeaderAuthorization), cfg.Kind)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if cfg.Permission != "" {
				if err := cfg.Guard.RequirePermission(ctx.Context(), identity, cfg.Permission); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			ctx.Locals(cfg.ContextKey, identity)
			ctx.SetContext(auth.WithIdentity(ctx.Context(), identity))

			return cfg.SuccessHandler(ctx)
		}
	}
}

// GetIdentity returns the identity stored by the middleware
func GetIdentity(ctx router.Context, key ...string) (*auth.Identity, bool) {
	k := DefaultContextKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	if identity, ok := ctx.Locals(k).(*auth.Identity); ok && identity != nil {
		return identity, true
	}
	return auth.IdentityFromContext(ctx.Context())
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Guard == nil {
		panic("AUTH: guard middleware configuration: Guard is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.Kind == "" {
		cfg.Kind = auth.TokenAccess
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	return cfg
}

// DefaultErrorHandler answers with the status of the core error. Every branch denies.
func DefaultErrorHandler(c router.Context, err error) error {
	resp := auth.NewErrorResponse(err)
	return c.JSON(resp.Code, resp)
}
