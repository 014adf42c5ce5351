// Package token issues and validates the short-lived bearer credentials
// handed out after a successful identity-verification handshake.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loglinehq/ublcore"
)

var (
	// ErrInvalid covers every way a presented token can fail: bad
	// signature, expired, malformed, or missing the subject claim.
	ErrInvalid = errors.New("token: invalid bearer token")
)

// Issuer signs ed25519 JWTs scoped to a principal.
type Issuer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

// NewIssuer builds an Issuer. ttl of zero means ublcore.DefaultTokenTTL.
func NewIssuer(priv ed25519.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = ublcore.DefaultTokenTTL
	}

	return &Issuer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
		ttl:  ttl,
	}
}

// Issue signs a bearer token whose subject is did.
func (i *Issuer) Issue(did string) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub": did,
		"iat": now.Unix(),
		"nbf": now.Add(-1 * time.Minute).Unix(),
		"exp": now.Add(i.ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.priv)
	if err != nil {
		return "", fmt.Errorf("token: can't sign JWT: %w", err)
	}

	return signed, nil
}

// Validate parses tokenString and returns the principal it is scoped to.
func (i *Issuer) Validate(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.pub, nil
	}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding(), jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: wrong claims type", ErrInvalid)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalid)
	}

	return sub, nil
}
