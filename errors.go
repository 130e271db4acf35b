package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodeAccountNotVerified  = "ACCOUNT_NOT_VERIFIED"
	TextCodePleaseAuthenticate  = "PLEASE_AUTHENTICATE"
	TextCodeMissingToken        = "MISSING_TOKEN"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenSignature      = "TOKEN_INVALID_SIGNATURE"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeTokenNotFound       = "TOKEN_NOT_FOUND"
	TextCodeTokenKindMismatch   = "TOKEN_KIND_MISMATCH"
	TextCodeTokenSubject        = "TOKEN_SUBJECT_MISMATCH"
	TextCodePasswordResetFailed = "PASSWORD_RESET_FAILED"
	TextCodeEmailVerifyFailed   = "EMAIL_VERIFICATION_FAILED"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeCrossTenant         = "CROSS_TENANT"
	TextCodeEmailTaken          = "EMAIL_TAKEN"
	TextCodeCompanyExists       = "COMPANY_EXISTS"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeCompanyNotFound     = "COMPANY_NOT_FOUND"
	TextCodeUnknownPermission   = "UNKNOWN_PERMISSION"
	TextCodeInvalidInput        = "INVALID_INPUT"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeEmailDelivery       = "EMAIL_DELIVERY_FAILED"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike
var ErrInvalidCredentials = goerrors.New("incorrect email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotVerified rejects a login with valid credentials but an unverified email.
// A fresh verification token has been issued when this is returned.
var ErrAccountNotVerified = goerrors.New("please verify your account, a new verification email has been sent", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNotVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrPleaseAuthenticate is the generic refresh failure
var ErrPleaseAuthenticate = goerrors.New("please authenticate", goerrors.CategoryAuth).
	WithTextCode(TextCodePleaseAuthenticate).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingToken is returned when the Authorization header is absent or not a bearer token
var ErrMissingToken = goerrors.New("missing or malformed bearer token", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingToken).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenInvalidSignature = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSignature).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenNotFound covers missing, revoked and already consumed ledger records
var ErrTokenNotFound = goerrors.New("token not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenKindMismatch = goerrors.New("invalid token type", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenKindMismatch).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenSubjectMismatch = goerrors.New("token user IDs do not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSubject).
	WithCode(goerrors.CodeUnauthorized)

var ErrPasswordResetFailed = goerrors.New("password reset failed", goerrors.CategoryAuth).
	WithTextCode(TextCodePasswordResetFailed).
	WithCode(goerrors.CodeUnauthorized)

var ErrEmailVerificationFailed = goerrors.New("email verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailVerifyFailed).
	WithCode(goerrors.CodeUnauthorized)

var ErrForbidden = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrCrossTenant = goerrors.New("resource belongs to another company", goerrors.CategoryAuthz).
	WithTextCode(TextCodeCrossTenant).
	WithCode(goerrors.CodeForbidden)

var ErrEmailTaken = goerrors.New("email already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

var ErrCompanyExists = goerrors.New("user already has a company", goerrors.CategoryConflict).
	WithTextCode(TextCodeCompanyExists).
	WithCode(goerrors.CodeConflict)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrCompanyNotFound = goerrors.New("company not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCompanyNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrUnknownPermission = goerrors.New("unknown permission", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownPermission).
	WithCode(goerrors.CodeBadRequest)

var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailDelivery is surfaced when the dispatcher fails after a token was persisted
var ErrEmailDelivery = goerrors.New("email delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeEmailDelivery).
	WithCode(goerrors.CodeInternal)

// IsUnauthenticated reports missing, invalid, expired or revoked credentials
func IsUnauthenticated(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

// IsForbidden reports a valid identity lacking permission or tenant access
func IsForbidden(err error) bool {
	return hasCategory(err, goerrors.CategoryAuthz)
}

func IsConflict(err error) bool {
	return hasCategory(err, goerrors.CategoryConflict)
}

func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

func IsInvalid(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation) || hasCategory(err, goerrors.CategoryBadInput)
}

// TextCode returns the text code of a categorized error, or an empty string
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsEmailDeliveryError reports a dispatch failure after the token was persisted
func IsEmailDeliveryError(err error) bool {
	return TextCode(err) == TextCodeEmailDelivery
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if TextCode(err) == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

func hasCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

// withMetadata clones a sentinel so shared values are never mutated
func withMetadata(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(metadata)
}

// storageError keeps categorized errors and wraps everything else as internal
func storageError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}
