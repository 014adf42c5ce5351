package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Sequencer is the single logical writer of a ledger. Commit must make the
// continuity check and the insert one atomic step: two concurrent commits
// against the same head can never both succeed.
type Sequencer interface {
	// Commit validates chain continuity, computes the entry hash, assigns
	// sequence_id and server_timestamp, and persists the entry. A stale
	// prev_hash yields a *ChainReorgError carrying the current head. Any
	// other failure is an opaque fatal storage error.
	Commit(ctx context.Context, entry *Entry) (Receipt, error)

	// Head returns the entry_hash of the most recent entry, or ZeroHash
	// when the ledger is empty.
	Head(ctx context.Context) (string, error)

	// Entries returns up to limit entries with sequence_id greater than
	// after, in ascending order. limit <= 0 means no limit. This is the
	// pull path reconnecting peers use to resynchronize.
	Entries(ctx context.Context, after int64, limit int) ([]Entry, error)
}

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds sequencer backends from operator-supplied JSON
// configuration, mirroring the store backend registry.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Sequencer, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

// Methods lists the registered backend names in sorted order.
func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}
