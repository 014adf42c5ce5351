// Package identity resolves principal identifiers (DIDs) to their
// registered ed25519 public keys. Provisioning identities is out of scope
// for UBL Core; the registry is read-only from the ledger's perspective.
package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a principal has no registered identity.
var ErrNotFound = errors.New("identity: entity not found")

// Identity maps a principal to its registered public key. The key is kept
// hex-encoded because that is how clients present theirs and how the
// registry of record stores it.
type Identity struct {
	DID       string `json:"did" yaml:"did"`
	PublicKey string `json:"public_key" yaml:"public_key"`
}

// Key decodes the registered public key into usable bytes.
func (i Identity) Key() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(i.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("identity: public key for %q is not hex: %w", i.DID, err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: public key for %q is %d bytes, want %d", i.DID, len(raw), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}

// Registry is the consumed interface to whatever system provisions
// principals.
type Registry interface {
	// Lookup returns the identity registered for did or ErrNotFound.
	Lookup(ctx context.Context, did string) (Identity, error)
}
