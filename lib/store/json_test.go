package store_test

import (
	"testing"
	"time"

	"github.com/loglinehq/ublcore/lib/store"
	"github.com/loglinehq/ublcore/lib/store/memory"
)

func TestJSON(t *testing.T) {
	type data struct {
		Nonce string `json:"nonce"`
	}

	st := memory.New(t.Context())
	db := store.JSON[data]{
		Underlying: st,
		Prefix:     "challenge:",
	}

	if err := db.Set(t.Context(), "did:ubl:p1", data{Nonce: t.Name()}, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(t.Context(), "did:ubl:p1")
	if err != nil {
		t.Fatal(err)
	}

	if got.Nonce != t.Name() {
		t.Fatalf("got wrong data, wanted %q but got: %q", t.Name(), got.Nonce)
	}

	if err := db.Delete(t.Context(), "did:ubl:p1"); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get(t.Context(), "did:ubl:p1"); err == nil {
		t.Fatal("wanted get after delete to fail, it did not")
	}

	if err := st.Set(t.Context(), "challenge:did:ubl:p1", []byte("}"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get(t.Context(), "did:ubl:p1"); err == nil {
		t.Fatal("wanted undecodable value to fail, it did not")
	}
}
