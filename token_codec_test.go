package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-cms-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newCodec(t *testing.T, secret, previous string, opts ...auth.CodecOption) *auth.TokenCodec {
	t.Helper()
	cfg := testConfig()
	cfg.SigningSecret = secret
	cfg.PreviousSigningSecret = previous
	codec, err := auth.NewTokenCodec(cfg, opts...)
	require.NoError(t, err)
	return codec
}

func TestTokenCodec_IssueAndParse(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newCodec(t, testSecret, "", auth.WithCodecClock(clock.Now))
	subject := uuid.NewString()

	issued, err := codec.Issue(subject, auth.TokenAccess, 30*time.Minute, []string{auth.PermAddUser, auth.PermGetUsers})
	require.NoError(t, err)
	assert.Equal(t, auth.TokenAccess, issued.Kind)
	assert.WithinDuration(t, clock.now.Add(30*time.Minute), issued.ExpiresAt, 0)

	claims, err := codec.Parse(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, subject, claims.UserID())
	assert.Equal(t, auth.TokenAccess, claims.Kind)
	assert.WithinDuration(t, clock.now, claims.IssuedAtTime(), 0)
	assert.WithinDuration(t, issued.ExpiresAt, claims.Expires(), 0)
	assert.True(t, claims.HasPermission(auth.PermAddUser))
	assert.False(t, claims.HasPermission(auth.PermDeleteUser))
	assert.NotEmpty(t, claims.ID)
}

func TestTokenCodec_UniqueTokensWithinTheSameSecond(t *testing.T) {
	clock := &testClock{now: time.Now()}
	codec := newCodec(t, testSecret, "", auth.WithCodecClock(clock.Now))
	subject := uuid.NewString()

	a, err := codec.Issue(subject, auth.TokenRefresh, time.Hour, nil)
	require.NoError(t, err)
	b, err := codec.Issue(subject, auth.TokenRefresh, time.Hour, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
}

func TestTokenCodec_ExpiryIsInBand(t *testing.T) {
	clock := &testClock{now: time.Now()}
	codec := newCodec(t, testSecret, "", auth.WithCodecClock(clock.Now))

	issued, err := codec.Issue(uuid.NewString(), auth.TokenVerifyEmail, 10*time.Minute, nil)
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	_, err = codec.Parse(issued.Token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = codec.Parse(issued.Token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))
	assert.True(t, auth.IsUnauthenticated(err))
}

func TestTokenCodec_KindMismatch(t *testing.T) {
	codec := newCodec(t, testSecret, "")

	issued, err := codec.Issue(uuid.NewString(), auth.TokenRefresh, time.Hour, nil)
	require.NoError(t, err)

	_, err = codec.ParseKind(issued.Token, auth.TokenAccess)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeTokenKindMismatch, auth.TextCode(err))

	_, err = codec.ParseKind(issued.Token, auth.TokenRefresh)
	assert.NoError(t, err)
}

func TestTokenCodec_RejectsForeignSignatures(t *testing.T) {
	codec := newCodec(t, testSecret, "")
	stranger := newCodec(t, "ffffffffffffffffffffffffffffffff", "")

	issued, err := stranger.Issue(uuid.NewString(), auth.TokenAccess, time.Hour, nil)
	require.NoError(t, err)

	_, err = codec.Parse(issued.Token)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeTokenSignature, auth.TextCode(err))
}

func TestTokenCodec_RejectsTamperedSignature(t *testing.T) {
	codec := newCodec(t, testSecret, "")
	subject := uuid.NewString()

	issued, err := codec.Issue(subject, auth.TokenAccess, time.Hour, nil)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(issued.Token, &auth.TokenClaims{})
	require.NoError(t, err)

	// same kid, wrong key
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, parsed.Claims)
	forged.Header["kid"] = parsed.Header["kid"]
	signed, err := forged.SignedString([]byte("not-the-signing-secret-not-the-signing"))
	require.NoError(t, err)

	_, err = codec.Parse(signed)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeTokenSignature, auth.TextCode(err))
}

func TestTokenCodec_RejectsOtherAlgorithms(t *testing.T) {
	codec := newCodec(t, testSecret, "")

	issued, err := codec.Issue(uuid.NewString(), auth.TokenAccess, time.Hour, nil)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(issued.Token, &auth.TokenClaims{})
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS512, parsed.Claims)
	forged.Header["kid"] = parsed.Header["kid"]
	signed, err := forged.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = codec.Parse(signed)
	require.Error(t, err)
	assert.True(t, auth.IsUnauthenticated(err))
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := newCodec(t, testSecret, "")

	for _, token := range []string{"", "   ", "abc", "a.b.c"} {
		_, err := codec.Parse(token)
		require.Error(t, err, token)
		assert.Equal(t, auth.TextCodeTokenMalformed, auth.TextCode(err), token)
	}
}

func TestTokenCodec_SecretRotation(t *testing.T) {
	old := newCodec(t, previousSecret, "")
	issued, err := old.Issue(uuid.NewString(), auth.TokenRefresh, time.Hour, nil)
	require.NoError(t, err)

	rotated := newCodec(t, testSecret, previousSecret)
	claims, err := rotated.Parse(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.TokenRefresh, claims.Kind)

	// new tokens are signed with the current secret only
	fresh, err := rotated.Issue(uuid.NewString(), auth.TokenAccess, time.Hour, nil)
	require.NoError(t, err)
	_, err = old.Parse(fresh.Token)
	assert.Error(t, err)

	retired := newCodec(t, testSecret, "")
	_, err = retired.Parse(issued.Token)
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeTokenSignature, auth.TextCode(err))
}

func TestTokenCodec_IssuerIsChecked(t *testing.T) {
	cfg := testConfig()
	cfg.Issuer = "other-issuer"
	other, err := auth.NewTokenCodec(cfg)
	require.NoError(t, err)

	issued, err := other.Issue(uuid.NewString(), auth.TokenAccess, time.Hour, nil)
	require.NoError(t, err)

	_, err = newCodec(t, testSecret, "").Parse(issued.Token)
	require.Error(t, err)
	assert.True(t, auth.IsUnauthenticated(err))
}

func TestTokenCodec_IssueValidatesInput(t *testing.T) {
	codec := newCodec(t, testSecret, "")

	_, err := codec.Issue("", auth.TokenAccess, time.Hour, nil)
	assert.True(t, auth.IsInvalid(err))

	_, err = codec.Issue(uuid.NewString(), auth.TokenKind("session"), time.Hour, nil)
	assert.True(t, auth.IsInvalid(err))

	_, err = codec.Issue(uuid.NewString(), auth.TokenAccess, 0, nil)
	assert.True(t, auth.IsInvalid(err))

	_, err = codec.Issue(uuid.NewString(), auth.TokenAccess, time.Hour, []string{"launchMissiles"})
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeUnknownPermission, auth.TextCode(err))
}

func TestNewTokenCodec_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.SigningSecret = "short"

	_, err := auth.NewTokenCodec(cfg)
	require.Error(t, err)
	assert.True(t, auth.IsInvalid(err))
}
