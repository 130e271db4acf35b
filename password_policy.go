package auth

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

var (
	passwordLetter = regexp.MustCompile(`[A-Za-z]`)
	passwordDigit  = regexp.MustCompile(`[0-9]`)
)

// ValidatePassword enforces the password policy: 8 to 72 characters
// with at least one letter and one digit
func ValidatePassword(password string) error {
	err := validation.Validate(password,
		validation.Required,
		validation.Length(minPasswordLength, maxPasswordLength),
		validation.Match(passwordLetter).Error("must contain at least one letter"),
		validation.Match(passwordDigit).Error("must contain at least one number"),
	)
	if err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{
			"field":  "password",
			"reason": err.Error(),
		})
	}
	return nil
}
