// Package all imports every ledger backend so their factories register
// themselves. Import for side effects only.
package all

import (
	// ledger backend implementations
	_ "github.com/loglinehq/ublcore/lib/ledger/bbolt"
	_ "github.com/loglinehq/ublcore/lib/ledger/memory"
	_ "github.com/loglinehq/ublcore/lib/ledger/postgres"
)
