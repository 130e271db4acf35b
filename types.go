package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CredentialStore persists user identity and credentials.
// Lookups by email are case-insensitive.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Save(ctx context.Context, user *User) (*User, error)
	IsEmailTaken(ctx context.Context, email string, excludingID uuid.UUID) (bool, error)
	Delete(ctx context.Context, user *User) error
}

// EmailTemplate selects the message the dispatcher renders for a token.
type EmailTemplate string

const (
	EmailTemplateVerifyEmail   EmailTemplate = "verify-email"
	EmailTemplateResetPassword EmailTemplate = "reset-password"
)

// EmailDispatcher delivers single-use tokens to their owners.
// Implementations must not retry synchronously; callers log and surface failures.
type EmailDispatcher interface {
	Send(ctx context.Context, to string, template EmailTemplate, token string) error
}

// EmailDispatcherFunc adapts a function into an EmailDispatcher.
type EmailDispatcherFunc func(ctx context.Context, to string, template EmailTemplate, token string) error

// Send satisfies the EmailDispatcher interface.
func (f EmailDispatcherFunc) Send(ctx context.Context, to string, template EmailTemplate, token string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, template, token)
}

// PasswordHasher hashes and compares passwords
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
