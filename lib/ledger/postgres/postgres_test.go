package postgres

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/ledger/ledgertest"
)

func TestPostgres(t *testing.T) {
	databaseURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		t.Skip("DATABASE_URL is not set")
	}

	seq, err := Factory{}.Build(t.Context(), json.RawMessage(`{"url":"`+databaseURL+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	st := seq.(*Store)
	t.Cleanup(st.Close)

	if _, err := st.pool.Exec(t.Context(), `TRUNCATE ubl_ledger_entries RESTART IDENTITY`); err != nil {
		t.Fatal(err)
	}

	ledgertest.Common(t, seq)
}

// TestPostgresSingleConnection runs the same suite over a pool with one
// connection. A reorg reported after a lost insert race must not need a
// second connection to read the winning head.
func TestPostgresSingleConnection(t *testing.T) {
	databaseURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		t.Skip("DATABASE_URL is not set")
	}

	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}

	seq, err := Factory{}.Build(t.Context(), json.RawMessage(`{"url":"`+databaseURL+sep+`pool_max_conns=1"}`))
	if err != nil {
		t.Fatal(err)
	}
	st := seq.(*Store)
	t.Cleanup(st.Close)

	if _, err := st.pool.Exec(t.Context(), `TRUNCATE ubl_ledger_entries RESTART IDENTITY`); err != nil {
		t.Fatal(err)
	}

	ledgertest.Common(t, seq)
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		config Config
		err    error
	}{
		{
			name:   "url set",
			config: Config{URL: "postgres://localhost:5432/ubl"},
			err:    nil,
		},
		{
			name:   "no url",
			config: Config{},
			err:    ErrNoURL,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Valid(); !errors.Is(err, tt.err) {
				t.Errorf("wrong validation error: wanted %v, got: %v", tt.err, err)
			}
		})
	}
}

func TestFactoryValid(t *testing.T) {
	if err := (Factory{}).Valid(json.RawMessage(`{"url":"postgres://localhost:5432/ubl"}`)); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	if err := (Factory{}).Valid(json.RawMessage(`{}`)); !errors.Is(err, ledger.ErrBadConfig) {
		t.Errorf("wanted %v, got: %v", ledger.ErrBadConfig, err)
	}
}
