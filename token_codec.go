package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const signingAlgorithm = "HS256"

// IssuedToken is a signed token and its absolute expiry
type IssuedToken struct {
	Token     string    `json:"token"`
	Kind      TokenKind `json:"kind"`
	ExpiresAt time.Time `json:"expires"`
}

// TokenCodec signs and verifies self contained tokens.
// Tokens are signed with the current secret and verified against
// the current or the previous one, selected by the kid header.
type TokenCodec struct {
	issuer     string
	currentKID string
	secret     []byte
	keyfunc    jwt.Keyfunc
	now        func() time.Time
}

// CodecOption configures a TokenCodec
type CodecOption func(*TokenCodec)

// WithCodecClock overrides the clock used for issuance and verification
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec builds a codec from the configured secrets
func NewTokenCodec(cfg Config, opts ...CodecOption) (*TokenCodec, error) {
	if len(cfg.SigningSecret) < minSigningSecretLength {
		return nil, withMetadata(ErrInvalidInput, map[string]any{
			"config": "signing secret is too short",
		})
	}

	c := &TokenCodec{
		issuer:     cfg.Issuer,
		currentKID: keyID(cfg.SigningSecret),
		secret:     []byte(cfg.SigningSecret),
		now:        time.Now,
	}

	givenKeys := map[string]keyfunc.GivenKey{
		c.currentKID: keyfunc.NewGivenCustom(c.secret, keyfunc.GivenKeyOptions{
			Algorithm: signingAlgorithm,
		}),
	}
	if cfg.PreviousSigningSecret != "" && cfg.PreviousSigningSecret != cfg.SigningSecret {
		givenKeys[keyID(cfg.PreviousSigningSecret)] = keyfunc.NewGivenCustom([]byte(cfg.PreviousSigningSecret), keyfunc.GivenKeyOptions{
			Algorithm: signingAlgorithm,
		})
	}
	c.keyfunc = keyfunc.NewGiven(givenKeys).Keyfunc

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Issue signs a token for subject valid for ttl
func (c *TokenCodec) Issue(subject string, kind TokenKind, ttl time.Duration, permissions []string) (IssuedToken, error) {
	if strings.TrimSpace(subject) == "" {
		return IssuedToken{}, withMetadata(ErrInvalidInput, map[string]any{"field": "subject"})
	}
	if !kind.IsValid() {
		return IssuedToken{}, withMetadata(ErrInvalidInput, map[string]any{"field": "kind", "kind": string(kind)})
	}
	if ttl <= 0 {
		return IssuedToken{}, withMetadata(ErrInvalidInput, map[string]any{"field": "ttl"})
	}
	if err := ValidatePermissions(permissions); err != nil {
		return IssuedToken{}, err
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind:        kind,
		Permissions: append([]string(nil), permissions...),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = c.currentKID

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return IssuedToken{
		Token:     signed,
		Kind:      kind,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Parse verifies the signature and the in-band expiry and returns the claims
func (c *TokenCodec) Parse(signed string) (*TokenClaims, error) {
	if strings.TrimSpace(signed) == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, c.keyfunc, parserOptions...)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.Subject == "" || !claims.Kind.IsValid() {
		return nil, ErrTokenMalformed
	}
	if err := ValidatePermissions(claims.Permissions); err != nil {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// ParseKind parses a token and checks it was issued for kind
func (c *TokenCodec) ParseKind(signed string, kind TokenKind) (*TokenClaims, error) {
	claims, err := c.Parse(signed)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrTokenKindMismatch
	}
	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, keyfunc.ErrKIDNotFound):
		return ErrTokenInvalidSignature
	default:
		return ErrTokenMalformed
	}
}

// keyID identifies a secret without revealing it
func keyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
