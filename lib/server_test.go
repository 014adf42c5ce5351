package lib

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/lib/identity"
	"github.com/loglinehq/ublcore/lib/ledger"
	ledgermemory "github.com/loglinehq/ublcore/lib/ledger/memory"
	"github.com/loglinehq/ublcore/lib/store/memory"
	"github.com/loglinehq/ublcore/lib/stream"
)

type testPrincipal struct {
	did  string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newPrincipal(t *testing.T, did string) testPrincipal {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	return testPrincipal{did: did, pub: pub, priv: priv}
}

func (tp testPrincipal) pubHex() string { return hex.EncodeToString(tp.pub) }

func spinServer(t *testing.T, principals ...testPrincipal) *httptest.Server {
	t.Helper()

	registry := identity.Static{}
	for _, p := range principals {
		registry[p.did] = identity.Identity{DID: p.did, PublicKey: p.pubHex()}
	}

	srv, err := New(t.Context(), Options{
		Store:     memory.New(t.Context()),
		Registry:  registry,
		Sequencer: ledgermemory.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	go srv.Run()

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}

	return resp, decoded
}

// handshake runs the full challenge-response flow and returns the bearer
// token.
func handshake(t *testing.T, ts *httptest.Server, p testPrincipal) string {
	t.Helper()

	resp, chal := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", map[string]any{"did": p.did})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("challenge request failed: %d %v", resp.StatusCode, chal)
	}

	nonce, _ := chal["nonce"].(string)
	if nonce == "" {
		t.Fatalf("challenge has no nonce: %v", chal)
	}

	sig := ed25519.Sign(p.priv, []byte(nonce))

	resp, body := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/verify", map[string]any{
		"did":           p.did,
		"nonce":         nonce,
		"signature":     hex.EncodeToString(sig),
		"client_pubkey": p.pubHex(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify failed: %d %v", resp.StatusCode, body)
	}

	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatalf("verify returned no token: %v", body)
	}

	return tok
}

func TestChallengeRequiresDID(t *testing.T) {
	ts := spinServer(t)

	for _, tt := range []struct {
		name string
		body any
	}{
		{"empty object", map[string]any{}},
		{"empty did", map[string]any{"did": ""}},
		{"not json", "???"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("wanted a 400, got: %d", resp.StatusCode)
			}

			if body["error"] != "did_required" {
				t.Errorf("wanted did_required, got: %v", body["error"])
			}
		})
	}
}

func TestHandshake(t *testing.T) {
	alice := newPrincipal(t, "did:ubl:alice")
	ts := spinServer(t, alice)

	tok := handshake(t, ts, alice)
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Errorf("token does not look like a JWT: %q", tok)
	}
}

func TestVerifyRejections(t *testing.T) {
	alice := newPrincipal(t, "did:ubl:alice")
	stranger := newPrincipal(t, "did:ubl:stranger")
	ts := spinServer(t, alice)

	freshChallenge := func(t *testing.T, did string) string {
		t.Helper()
		_, chal := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", map[string]any{"did": did})
		nonce, _ := chal["nonce"].(string)
		if nonce == "" {
			t.Fatalf("no nonce in %v", chal)
		}
		return nonce
	}

	flipHexByte := func(t *testing.T, in string) string {
		t.Helper()
		raw, err := hex.DecodeString(in)
		if err != nil {
			t.Fatal(err)
		}
		raw[0] ^= 0xff
		return hex.EncodeToString(raw)
	}

	for _, tt := range []struct {
		name   string
		body   func(t *testing.T) map[string]any
		status int
		kind   string
	}{
		{
			name: "missing fields",
			body: func(t *testing.T) map[string]any {
				return map[string]any{"did": alice.did}
			},
			status: http.StatusBadRequest,
			kind:   "invalid_payload",
		},
		{
			name: "no live challenge",
			body: func(t *testing.T) map[string]any {
				return map[string]any{
					"did":           "did:ubl:nobody-asked",
					"nonce":         "beef",
					"signature":     strings.Repeat("00", ed25519.SignatureSize),
					"client_pubkey": alice.pubHex(),
				}
			},
			status: http.StatusUnauthorized,
			kind:   "invalid_challenge",
		},
		{
			name: "flipped nonce",
			body: func(t *testing.T) map[string]any {
				nonce := freshChallenge(t, alice.did)
				wrong := flipHexByte(t, nonce)
				return map[string]any{
					"did":           alice.did,
					"nonce":         wrong,
					"signature":     hex.EncodeToString(ed25519.Sign(alice.priv, []byte(wrong))),
					"client_pubkey": alice.pubHex(),
				}
			},
			status: http.StatusUnauthorized,
			kind:   "invalid_challenge",
		},
		{
			name: "unregistered principal",
			body: func(t *testing.T) map[string]any {
				nonce := freshChallenge(t, stranger.did)
				return map[string]any{
					"did":           stranger.did,
					"nonce":         nonce,
					"signature":     hex.EncodeToString(ed25519.Sign(stranger.priv, []byte(nonce))),
					"client_pubkey": stranger.pubHex(),
				}
			},
			status: http.StatusNotFound,
			kind:   "entity_not_found",
		},
		{
			name: "substituted public key",
			body: func(t *testing.T) map[string]any {
				nonce := freshChallenge(t, alice.did)
				return map[string]any{
					"did":           alice.did,
					"nonce":         nonce,
					"signature":     hex.EncodeToString(ed25519.Sign(stranger.priv, []byte(nonce))),
					"client_pubkey": stranger.pubHex(),
				}
			},
			status: http.StatusUnauthorized,
			kind:   "public_key_mismatch",
		},
		{
			name: "truncated signature",
			body: func(t *testing.T) map[string]any {
				nonce := freshChallenge(t, alice.did)
				sig := hex.EncodeToString(ed25519.Sign(alice.priv, []byte(nonce)))
				return map[string]any{
					"did":           alice.did,
					"nonce":         nonce,
					"signature":     sig[:len(sig)-2],
					"client_pubkey": alice.pubHex(),
				}
			},
			status: http.StatusBadRequest,
			kind:   "invalid_signature_format",
		},
		{
			name: "flipped signature byte",
			body: func(t *testing.T) map[string]any {
				nonce := freshChallenge(t, alice.did)
				return map[string]any{
					"did":           alice.did,
					"nonce":         nonce,
					"signature":     flipHexByte(t, hex.EncodeToString(ed25519.Sign(alice.priv, []byte(nonce)))),
					"client_pubkey": alice.pubHex(),
				}
			},
			status: http.StatusUnauthorized,
			kind:   "invalid_signature",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/verify", tt.body(t))
			if resp.StatusCode != tt.status {
				t.Errorf("wanted a %d, got: %d (%v)", tt.status, resp.StatusCode, body)
			}

			if body["error"] != tt.kind {
				t.Errorf("wanted %s, got: %v", tt.kind, body["error"])
			}
		})
	}
}

func TestNonceSingleUse(t *testing.T) {
	alice := newPrincipal(t, "did:ubl:alice")
	ts := spinServer(t, alice)

	_, chal := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", map[string]any{"did": alice.did})
	nonce, _ := chal["nonce"].(string)
	if nonce == "" {
		t.Fatalf("no nonce in %v", chal)
	}

	body := map[string]any{
		"did":           alice.did,
		"nonce":         nonce,
		"signature":     hex.EncodeToString(ed25519.Sign(alice.priv, []byte(nonce))),
		"client_pubkey": alice.pubHex(),
	}

	resp, first := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/verify", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first verify failed: %d %v", resp.StatusCode, first)
	}

	resp, second := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/verify", body)
	if resp.StatusCode != http.StatusUnauthorized || second["error"] != "invalid_challenge" {
		t.Fatalf("replayed nonce was accepted: %d %v", resp.StatusCode, second)
	}
}

func TestReissueOverwrites(t *testing.T) {
	alice := newPrincipal(t, "did:ubl:alice")
	ts := spinServer(t, alice)

	_, first := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", map[string]any{"did": alice.did})
	_, second := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/challenge", map[string]any{"did": alice.did})

	stale, _ := first["nonce"].(string)
	if stale == "" || stale == second["nonce"] {
		t.Fatalf("expected two distinct nonces, got %v and %v", first["nonce"], second["nonce"])
	}

	resp, body := postJSON(t, ts.URL+ublcore.APIPrefix+"/auth/verify", map[string]any{
		"did":           alice.did,
		"nonce":         stale,
		"signature":     hex.EncodeToString(ed25519.Sign(alice.priv, []byte(stale))),
		"client_pubkey": alice.pubHex(),
	})
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "invalid_challenge" {
		t.Fatalf("overwritten nonce verified: %d %v", resp.StatusCode, body)
	}
}

// TestEndToEnd drives the whole system the way a client does: handshake,
// stream append, broadcast, then ledger read-back.
func TestEndToEnd(t *testing.T) {
	alice := newPrincipal(t, "did:ubl:alice")
	ts := spinServer(t, alice)

	tok := handshake(t, ts, alice)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + ublcore.StreamPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{
		"Authorization": []string{"Bearer " + tok},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	entry, err := json.Marshal(map[string]any{
		"prev_hash":        ledger.ZeroHash,
		"sender_did":       alice.did,
		"payload":          map[string]any{"message": "hello ubl"},
		"payload_type":     "agent.message",
		"signature":        "00",
		"client_timestamp": "2026-08-28T00:00:00.000Z",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.WriteJSON(stream.Frame{Event: stream.EventAppend, ID: "e2e-1", Data: entry}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var sawAck, sawCommit bool
	var receipt ledger.Receipt
	for !sawAck || !sawCommit {
		var frame stream.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}

		switch frame.Event {
		case stream.EventAck:
			var ack stream.Ack
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.Status != stream.StatusCommitted {
				t.Fatalf("append rejected: %+v", ack)
			}
			sawAck = true
		case stream.EventCommitted:
			if err := json.Unmarshal(frame.Data, &receipt); err != nil {
				t.Fatal(err)
			}
			sawCommit = true
		}
	}

	if receipt.SequenceID != 1 {
		t.Errorf("wanted sequence_id 1, got %d", receipt.SequenceID)
	}

	// Read-back surfaces agree with the broadcast.
	resp, err := http.Get(ts.URL + ublcore.APIPrefix + "/ledger/head")
	if err != nil {
		t.Fatal(err)
	}
	var head struct {
		LatestHash string `json:"latest_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&head); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if head.LatestHash != receipt.EntryHash {
		t.Errorf("head %s disagrees with broadcast %s", head.LatestHash, receipt.EntryHash)
	}

	resp, err = http.Get(ts.URL + ublcore.APIPrefix + "/ledger/entries?after=0")
	if err != nil {
		t.Fatal(err)
	}
	var entries struct {
		Entries []ledger.Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(entries.Entries) != 1 || entries.Entries[0].EntryHash != receipt.EntryHash {
		t.Errorf("read-back disagrees with broadcast: %+v", entries.Entries)
	}

	resp, err = http.Get(ts.URL + ublcore.APIPrefix + "/ledger/verify")
	if err != nil {
		t.Fatal(err)
	}
	var report ledger.VerifyReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if !report.OK || report.Total != 1 {
		t.Errorf("verify disagrees: %+v", report)
	}
}

func TestLedgerEntriesRejectsBadQuery(t *testing.T) {
	ts := spinServer(t)

	for _, q := range []string{"?after=bogus", "?limit=-1", "?limit=bogus"} {
		resp, err := http.Get(ts.URL + ublcore.APIPrefix + "/ledger/entries" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: wanted a 400, got: %d", q, resp.StatusCode)
		}
	}
}
