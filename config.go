package auth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"golang.org/x/crypto/bcrypt"
)

const minSigningSecretLength = 32

// Config holds the signing material and token lifetimes
type Config struct {
	SigningSecret         string        `env:"AUTH_SIGNING_SECRET"`
	PreviousSigningSecret string        `env:"AUTH_PREVIOUS_SIGNING_SECRET"`
	Issuer                string        `env:"AUTH_ISSUER" envDefault:"cms-auth"`
	AccessTTL             time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL            time.Duration `env:"AUTH_REFRESH_TTL" envDefault:"720h"`
	ResetPasswordTTL      time.Duration `env:"AUTH_RESET_PASSWORD_TTL" envDefault:"10m"`
	VerifyEmailTTL        time.Duration `env:"AUTH_VERIFY_EMAIL_TTL" envDefault:"10m"`
	OnboardCompanyTTL     time.Duration `env:"AUTH_ONBOARD_COMPANY_TTL" envDefault:"10m"`
	BcryptCost            int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`
}

// DefaultConfig returns the default lifetimes. The signing secret is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:            "cms-auth",
		AccessTTL:         30 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ResetPasswordTTL:  10 * time.Minute,
		VerifyEmailTTL:    10 * time.Minute,
		OnboardCompanyTTL: 10 * time.Minute,
		BcryptCost:        bcrypt.DefaultCost,
	}
}

// LoadConfigFromEnv reads the process environment
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(nil)
}

// LoadConfig reads the given environment, or the process environment when nil
func LoadConfig(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse auth env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks secrets and lifetimes
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningSecret, validation.Required, validation.Length(minSigningSecretLength, 0)),
		validation.Field(&c.PreviousSigningSecret, validation.Length(minSigningSecretLength, 0)),
		validation.Field(&c.AccessTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RefreshTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ResetPasswordTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.VerifyEmailTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OnboardCompanyTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.BcryptCost, validation.Min(bcrypt.MinCost), validation.Max(bcrypt.MaxCost)),
	)
	if err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{
			"config": err.Error(),
		})
	}
	return nil
}

// TTLs maps every token kind to its lifetime
func (c Config) TTLs() map[TokenKind]time.Duration {
	return map[TokenKind]time.Duration{
		TokenAccess:         c.AccessTTL,
		TokenRefresh:        c.RefreshTTL,
		TokenResetPassword:  c.ResetPasswordTTL,
		TokenVerifyEmail:    c.VerifyEmailTTL,
		TokenOnboardCompany: c.OnboardCompanyTTL,
	}
}

// TTL returns the lifetime for a kind
func (c Config) TTL(kind TokenKind) time.Duration {
	return c.TTLs()[kind]
}
