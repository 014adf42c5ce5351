package memory

import (
	"testing"

	"github.com/loglinehq/ublcore/lib/ledger/ledgertest"
)

func TestMemory(t *testing.T) {
	ledgertest.Common(t, New())
}
