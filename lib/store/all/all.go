// Package all is a meta-package that imports all store implementations.
package all

import (
	_ "github.com/loglinehq/ublcore/lib/store/bbolt"
	_ "github.com/loglinehq/ublcore/lib/store/memory"
	_ "github.com/loglinehq/ublcore/lib/store/valkey"
)
