package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidState is returned for a forged, expired or mismatched OAuth state.
var ErrInvalidState = errors.New("invalid oauth state")

// StateClaims is the payload of the OAuth state parameter. It binds the
// redirect to one provider and one browser through a nonce cookie.
type StateClaims struct {
	Provider    string `json:"prv"`
	BindingHash string `json:"bnd"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies HMAC-signed OAuth state values, so the
// callback can be checked without server-side storage.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: ttl}
}

// Issue returns a state value for provider bound to the given browser binding.
func (s *StateSigner) Issue(provider, binding string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	now := time.Now()
	claims := StateClaims{
		Provider:    provider,
		BindingHash: hashBinding(binding),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        base64.RawURLEncoding.EncodeToString(nonce),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry, provider and browser binding.
func (s *StateSigner) Verify(state, provider, binding string) error {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return ErrInvalidState
	}

	if claims.Provider != provider {
		return ErrInvalidState
	}
	if binding == "" || subtle.ConstantTimeCompare([]byte(claims.BindingHash), []byte(hashBinding(binding))) != 1 {
		return ErrInvalidState
	}
	return nil
}

func hashBinding(binding string) string {
	sum := sha256.Sum256([]byte(binding))
	return hex.EncodeToString(sum[:16])
}
