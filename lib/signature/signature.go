// Package signature validates detached ed25519 signatures as clients
// present them: hex-encoded, over the raw bytes of the signed string.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrBadSignatureFormat means the signature is not hex or not the
	// fixed ed25519 signature size. This is a client-side encoding bug,
	// not a failed verification.
	ErrBadSignatureFormat = errors.New("signature: malformed signature encoding")

	// ErrBadPublicKeyFormat means the public key is not hex or not the
	// fixed ed25519 public key size.
	ErrBadPublicKeyFormat = errors.New("signature: malformed public key encoding")

	// ErrVerifyFailed means the bytes decoded fine but the signature does
	// not verify under the key.
	ErrVerifyFailed = errors.New("signature: verification failed")
)

// DecodePublicKey parses a hex-encoded ed25519 public key, enforcing the
// fixed key size.
func DecodePublicKey(pubHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadPublicKeyFormat, err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadPublicKeyFormat, len(raw), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}

// DecodeSignature parses a hex-encoded detached ed25519 signature,
// enforcing the fixed signature size.
func DecodeSignature(sigHex string) ([]byte, error) {
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignatureFormat, err)
	}

	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadSignatureFormat, len(raw), ed25519.SignatureSize)
	}

	return raw, nil
}

// VerifyDetached checks sigHex over message under pubHex. Format errors
// and verification failure are distinguishable via errors.Is.
func VerifyDetached(message []byte, sigHex, pubHex string) error {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return err
	}

	pub, err := DecodePublicKey(pubHex)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pub, message, sig) {
		return ErrVerifyFailed
	}

	return nil
}
