package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Secret generation
// ============================================================================

func TestTOTPManager_GenerateSecret_Is160Bits(t *testing.T) {
	tm := NewTOTPManager("Warden")

	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	raw, err := secretEncoding.DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, TOTPSecretSize)
	assert.Len(t, secret, 32) // 20 bytes of Base32, no padding
}

func TestTOTPManager_GenerateSecret_Unique(t *testing.T) {
	tm := NewTOTPManager("Warden")

	a, err := tm.GenerateSecret()
	require.NoError(t, err)
	b, err := tm.GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// ============================================================================
// Provisioning
// ============================================================================

func TestTOTPManager_ProvisioningURI(t *testing.T) {
	tm := NewTOTPManager("Warden")
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	uri, err := tm.ProvisioningURI("Warden", "alice@example.com", secret)
	require.NoError(t, err)

	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", parsed.Scheme)
	assert.Equal(t, "totp", parsed.Host)
	assert.Contains(t, parsed.Path, "alice@example.com")

	q := parsed.Query()
	assert.Equal(t, secret, q.Get("secret"))
	assert.Equal(t, "Warden", q.Get("issuer"))
	assert.Equal(t, "30", q.Get("period"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
}

func TestTOTPManager_ProvisioningURI_InvalidSecret(t *testing.T) {
	tm := NewTOTPManager("Warden")

	_, err := tm.ProvisioningURI("Warden", "alice@example.com", "not base32!")
	assert.Error(t, err)
}

func TestTOTPManager_QRCodeDataURL(t *testing.T) {
	tm := NewTOTPManager("Warden")

	dataURL, err := tm.QRCodeDataURL("otpauth://totp/Warden:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Warden")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
}

// ============================================================================
// Verification
// ============================================================================

func generateCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestTOTPManager_VerifyAt_CurrentStep(t *testing.T) {
	tm := NewTOTPManager("Warden")
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	assert.True(t, tm.VerifyAt(secret, generateCode(t, secret, now), now))
}

func TestTOTPManager_VerifyAt_AcceptsOneStepDrift(t *testing.T) {
	tm := NewTOTPManager("Warden")
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	assert.True(t, tm.VerifyAt(secret, generateCode(t, secret, now.Add(-30*time.Second)), now))
	assert.True(t, tm.VerifyAt(secret, generateCode(t, secret, now.Add(30*time.Second)), now))
}

func TestTOTPManager_VerifyAt_RejectsOutsideDrift(t *testing.T) {
	tm := NewTOTPManager("Warden")
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	assert.False(t, tm.VerifyAt(secret, generateCode(t, secret, now.Add(-90*time.Second)), now))
	assert.False(t, tm.VerifyAt(secret, generateCode(t, secret, now.Add(90*time.Second)), now))
}

func TestTOTPManager_VerifyAt_RejectsMalformed(t *testing.T) {
	tm := NewTOTPManager("Warden")
	secret, err := tm.GenerateSecret()
	require.NoError(t, err)
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		assert.False(t, tm.VerifyAt(secret, code, now), "code %q", code)
	}
}

func TestTOTPManager_Verify_UsesClock(t *testing.T) {
	tm := NewTOTPManager("Warden")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return fixed }

	secret, err := tm.GenerateSecret()
	require.NoError(t, err)
	assert.True(t, tm.Verify(secret, generateCode(t, secret, fixed)))
}
