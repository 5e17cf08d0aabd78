package auth

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// TOTPSecretSize is the raw secret length in bytes (160 bits, the RFC 4226 recommendation).
	TOTPSecretSize = 20
	// TOTPPeriod is the time step in seconds.
	TOTPPeriod = 30
	// TOTPSkew is the number of steps accepted on either side of the current one.
	TOTPSkew = 1
)

// secretEncoding matches the unpadded Base32 used in otpauth URIs.
var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPManager handles TOTP secret generation, provisioning and validation
type TOTPManager struct {
	issuer string
	now    func() time.Time
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer, now: time.Now}
}

// Issuer returns the issuer shown in authenticator apps.
func (tm *TOTPManager) Issuer() string {
	return tm.issuer
}

// GenerateSecret returns a new Base32 encoded 160-bit secret.
func (tm *TOTPManager) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: "pending",
		SecretSize:  TOTPSecretSize,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth://totp/... URI for an existing secret.
func (tm *TOTPManager) ProvisioningURI(issuer, accountLabel, secret string) (string, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret encoding: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountLabel,
		Secret:      raw,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// QRCodeDataURL renders a provisioning URI as a PNG data URL.
func (tm *TOTPManager) QRCodeDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Verify checks a 6 digit code against the secret at the current time.
func (tm *TOTPManager) Verify(secret, code string) bool {
	return tm.VerifyAt(secret, code, tm.now())
}

// VerifyAt checks a code at the given instant, accepting one step of clock
// drift in either direction.
func (tm *TOTPManager) VerifyAt(secret, code string, at time.Time) bool {
	if len(code) != 6 {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}
