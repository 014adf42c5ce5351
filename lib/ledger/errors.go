package ledger

import (
	"errors"
	"fmt"
)

// ErrBadConfig is returned when a sequencer backend's configuration is
// invalid.
var ErrBadConfig = errors.New("ledger: configuration is invalid")

// ChainReorgError reports an optimistic-concurrency conflict: the
// submitted prev_hash no longer matches the chain head. The caller should
// rebase onto LatestHash and resubmit; this is the only retryable commit
// failure.
type ChainReorgError struct {
	// LatestHash is the entry_hash of the actual current head, or
	// ZeroHash when the ledger is empty.
	LatestHash string
}

func (e *ChainReorgError) Error() string {
	return fmt.Sprintf("ledger: chain reorg required, current head is %s", e.LatestHash)
}

// IsChainReorg unwraps err into a ChainReorgError if it is one.
func IsChainReorg(err error) (*ChainReorgError, bool) {
	var cre *ChainReorgError
	if errors.As(err, &cre) {
		return cre, true
	}
	return nil, false
}
