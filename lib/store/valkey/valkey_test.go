package valkey

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/loglinehq/ublcore/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	url := os.Getenv("VALKEY_URL")
	if url == "" {
		t.Skip("VALKEY_URL not set, skipping valkey conformance test")
		return
	}

	data, err := json.Marshal(Config{URL: url})
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(data))
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  Config
		err  error
	}{
		{
			name: "missing url",
			cfg:  Config{},
			err:  ErrNoURL,
		},
		{
			name: "unparseable url",
			cfg:  Config{URL: "not a url"},
			err:  ErrBadURL,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
