package ledger

import (
	"fmt"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/internal"
)

// EntryHash computes the hash an entry commits to: SHA-256 over the
// concatenation of prev_hash, sender_did, the canonical payload encoding,
// and client_timestamp. A pure function of those four inputs.
func EntryHash(prevHash, senderDID string, payload map[string]any, clientTimestamp string) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("ledger: can't canonicalize payload: %w", err)
	}

	return internal.SHA256sum(prevHash + senderDID + string(canonical) + clientTimestamp), nil
}

// ZeroHash is the prev_hash sentinel of the genesis entry.
const ZeroHash = ublcore.ZeroHash
