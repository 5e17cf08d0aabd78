package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recoveryCodePattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

func TestGenerateRecoveryCodes_Format(t *testing.T) {
	codes, err := GenerateRecoveryCodes(RecoveryCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, 8)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, recoveryCodePattern, code)
		seen[code] = true
	}
	assert.Len(t, seen, 8)
}

func TestNormalizeRecoveryCode(t *testing.T) {
	assert.Equal(t, "A1B2C3D4", NormalizeRecoveryCode(" a1b2c3d4 "))
	assert.Equal(t, "A1B2C3D4", NormalizeRecoveryCode("a1b2-c3d4"))
}

func TestHashRecoveryCode_CaseInsensitive(t *testing.T) {
	assert.Equal(t, HashRecoveryCode("A1B2C3D4"), HashRecoveryCode("a1b2c3d4"))
	assert.NotEqual(t, HashRecoveryCode("A1B2C3D4"), HashRecoveryCode("A1B2C3D5"))
	assert.Len(t, HashRecoveryCode("A1B2C3D4"), 64)
}

func TestHashRecoveryCodes(t *testing.T) {
	hashes := HashRecoveryCodes([]string{"AAAAAAAA", "BBBBBBBB"})
	require.Len(t, hashes, 2)
	assert.Equal(t, HashRecoveryCode("AAAAAAAA"), hashes[0])
}
