// Package memory implements ledger.Sequencer with a mutex-guarded slice.
// Nothing survives a restart; use this for tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loglinehq/ublcore/lib/ledger"
)

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (ledger.Sequencer, error) {
	return New(), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	ledger.Register("memory", factory{})
}

type impl struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

// New creates an empty in-memory ledger.
func New() ledger.Sequencer {
	return &impl{}
}

// Commit holds the lock across the continuity check and the append, which
// is all the atomicity a process-local ledger needs.
func (i *impl) Commit(ctx context.Context, entry *ledger.Entry) (ledger.Receipt, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	head := ledger.ZeroHash
	if n := len(i.entries); n > 0 {
		head = i.entries[n-1].EntryHash
	}

	if entry.PrevHash != head {
		return ledger.Receipt{}, &ledger.ChainReorgError{LatestHash: head}
	}

	hash, err := ledger.EntryHash(entry.PrevHash, entry.SenderDID, entry.Payload, entry.ClientTimestamp)
	if err != nil {
		return ledger.Receipt{}, err
	}

	committed := *entry
	committed.ApplyDefaults()
	committed.EntryHash = hash
	committed.SequenceID = int64(len(i.entries)) + 1
	committed.ServerTimestamp = time.Now().UTC()

	i.entries = append(i.entries, committed)

	return ledger.Receipt{
		EntryHash:       committed.EntryHash,
		SequenceID:      committed.SequenceID,
		ServerTimestamp: committed.ServerTimestamp,
	}, nil
}

func (i *impl) Head(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if n := len(i.entries); n > 0 {
		return i.entries[n-1].EntryHash, nil
	}

	return ledger.ZeroHash, nil
}

func (i *impl) Entries(ctx context.Context, after int64, limit int) ([]ledger.Entry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if after < 0 {
		after = 0
	}

	if after >= int64(len(i.entries)) {
		return nil, nil
	}

	rest := i.entries[after:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}

	result := make([]ledger.Entry, len(rest))
	copy(result, rest)

	return result, nil
}
