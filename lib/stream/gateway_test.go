package stream

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loglinehq/ublcore/lib/ledger"
	"github.com/loglinehq/ublcore/lib/ledger/memory"
	"github.com/loglinehq/ublcore/lib/policy"
	"github.com/loglinehq/ublcore/lib/token"
)

type testEnv struct {
	srv    *httptest.Server
	issuer *token.Issuer
	seq    ledger.Sequencer
}

func newTestEnv(t *testing.T, engine *policy.Engine) *testEnv {
	t.Helper()
	return newTestEnvSeq(t, engine, memory.New())
}

func newTestEnvSeq(t *testing.T, engine *policy.Engine, seq ledger.Sequencer) *testEnv {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	issuer := token.NewIssuer(priv, 0)

	hub := NewHub()
	go hub.Run(context.Background())

	srv := httptest.NewServer(NewGateway(context.Background(), hub, seq, engine, issuer, 0))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, issuer: issuer, seq: seq}
}

func (te *testEnv) dial(t *testing.T, did string) *websocket.Conn {
	t.Helper()

	tok, err := te.issuer.Issue(did)
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(te.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": []string{"Bearer " + tok},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, id string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.WriteJSON(Frame{Event: event, ID: id, Data: raw}); err != nil {
		t.Fatal(err)
	}
}

// readEvent reads frames until one with the wanted event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}

		if frame.Event == event {
			return frame
		}
	}
}

func readAck(t *testing.T, conn *websocket.Conn) Ack {
	t.Helper()

	frame := readEvent(t, conn, EventAck)

	var ack Ack
	if err := json.Unmarshal(frame.Data, &ack); err != nil {
		t.Fatal(err)
	}

	return ack
}

// waitRegistered round-trips a status event so the test knows the hub
// has picked the connection up before anything gets broadcast.
func waitRegistered(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	send(t, conn, EventStatus, "", map[string]any{"online": true})
	readEvent(t, conn, EventStatus)
}

func testEntry(prevHash string) map[string]any {
	return map[string]any{
		"prev_hash":        prevHash,
		"sender_did":       "did:ubl:alice",
		"payload":          map[string]any{"hello": "world"},
		"payload_type":     "agent.message",
		"signature":        "00",
		"client_timestamp": "2026-08-28T00:00:00.000Z",
	}
}

func TestAppendCommitsAndBroadcasts(t *testing.T) {
	te := newTestEnv(t, policy.Default())

	alice := te.dial(t, "did:ubl:alice")
	bob := te.dial(t, "did:ubl:bob")
	waitRegistered(t, alice)
	waitRegistered(t, bob)

	send(t, alice, EventAppend, "req-1", testEntry(ledger.ZeroHash))

	ack := readAck(t, alice)
	if ack.Status != StatusCommitted {
		t.Fatalf("wanted committed ack, got: %+v", ack)
	}

	for name, conn := range map[string]*websocket.Conn{"submitter": alice, "peer": bob} {
		frame := readEvent(t, conn, EventCommitted)

		var receipt ledger.Receipt
		if err := json.Unmarshal(frame.Data, &receipt); err != nil {
			t.Fatal(err)
		}

		if receipt.SequenceID != 1 {
			t.Errorf("%s saw sequence_id %d, wanted 1", name, receipt.SequenceID)
		}

		head, err := te.seq.Head(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		if receipt.EntryHash != head {
			t.Errorf("%s saw entry_hash %s, wanted head %s", name, receipt.EntryHash, head)
		}
	}
}

func TestAppendStaleHead(t *testing.T) {
	te := newTestEnv(t, policy.Default())
	alice := te.dial(t, "did:ubl:alice")

	send(t, alice, EventAppend, "req-1", testEntry(ledger.ZeroHash))
	if ack := readAck(t, alice); ack.Status != StatusCommitted {
		t.Fatalf("setup commit failed: %+v", ack)
	}

	send(t, alice, EventAppend, "req-2", testEntry(ledger.ZeroHash))

	ack := readAck(t, alice)
	if ack.Error != KindChainReorg {
		t.Fatalf("wanted %s, got: %+v", KindChainReorg, ack)
	}

	head, err := te.seq.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if ack.LatestHash != head {
		t.Errorf("wanted latest_hash %s, got: %s", head, ack.LatestHash)
	}

	// Rebase onto the returned head and the retry lands.
	send(t, alice, EventAppend, "req-3", testEntry(ack.LatestHash))
	if ack := readAck(t, alice); ack.Status != StatusCommitted {
		t.Fatalf("rebased retry failed: %+v", ack)
	}
}

func TestAppendValidation(t *testing.T) {
	te := newTestEnv(t, policy.Default())
	alice := te.dial(t, "did:ubl:alice")

	for _, tt := range []struct {
		name   string
		mutate func(map[string]any)
		detail string
	}{
		{
			name:   "missing prev_hash",
			mutate: func(m map[string]any) { delete(m, "prev_hash") },
			detail: "prev_hash",
		},
		{
			name:   "missing payload",
			mutate: func(m map[string]any) { delete(m, "payload") },
			detail: "payload",
		},
		{
			name:   "missing signature",
			mutate: func(m map[string]any) { delete(m, "signature") },
			detail: "signature",
		},
		{
			name:   "bad group_id",
			mutate: func(m map[string]any) { m["group_id"] = "not-a-uuid" },
			detail: "group_id",
		},
		{
			name:   "client-set sequence_id",
			mutate: func(m map[string]any) { m["sequence_id"] = 9 },
			detail: "sequence_id",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			entry := testEntry(ledger.ZeroHash)
			tt.mutate(entry)

			send(t, alice, EventAppend, tt.name, entry)

			ack := readAck(t, alice)
			if ack.Error != KindInvalidPayload {
				t.Fatalf("wanted %s, got: %+v", KindInvalidPayload, ack)
			}

			if !strings.Contains(ack.Detail, tt.detail) {
				t.Errorf("detail %q does not mention %s", ack.Detail, tt.detail)
			}
		})
	}
}

func TestAppendSenderMustMatchToken(t *testing.T) {
	te := newTestEnv(t, policy.Default())
	mallory := te.dial(t, "did:ubl:mallory")

	// Entry claims alice but the credential is mallory's.
	send(t, mallory, EventAppend, "req-1", testEntry(ledger.ZeroHash))

	ack := readAck(t, mallory)
	if ack.Status != StatusRejected || ack.Error != KindInvalidPayload {
		t.Fatalf("wanted an %s rejection, got: %+v", KindInvalidPayload, ack)
	}

	head, err := te.seq.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if head != ledger.ZeroHash {
		t.Error("rejected entry reached the ledger")
	}
}

func TestAppendPolicyRejection(t *testing.T) {
	engine, err := policy.Load(strings.NewReader(`
rules:
  - name: no-messages
    action: DENY
    expression: payloadType == "agent.message"
`), "no-messages")
	if err != nil {
		t.Fatal(err)
	}

	te := newTestEnv(t, engine)
	alice := te.dial(t, "did:ubl:alice")

	send(t, alice, EventAppend, "req-1", testEntry(ledger.ZeroHash))

	ack := readAck(t, alice)
	if ack.Error != KindPolicyRejected {
		t.Fatalf("wanted %s, got: %+v", KindPolicyRejected, ack)
	}

	if !strings.Contains(ack.Detail, "no-messages") {
		t.Errorf("detail %q does not name the rule", ack.Detail)
	}
}

func TestStatusRelay(t *testing.T) {
	te := newTestEnv(t, policy.Default())

	alice := te.dial(t, "did:ubl:alice")
	bob := te.dial(t, "did:ubl:bob")
	waitRegistered(t, alice)
	waitRegistered(t, bob)

	send(t, alice, EventStatus, "", map[string]any{"did": "did:ubl:alice", "state": "working"})

	for name, conn := range map[string]*websocket.Conn{"submitter": alice, "peer": bob} {
		// Leftover registration round-trips are also status events; skip them.
		var status map[string]any
		for status["state"] == nil {
			frame := readEvent(t, conn, EventStatus)
			if err := json.Unmarshal(frame.Data, &status); err != nil {
				t.Fatal(err)
			}
		}

		if status["state"] != "working" {
			t.Errorf("%s saw a mangled status event: %v", name, status)
		}
	}

	// Nothing was persisted.
	head, err := te.seq.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if head != ledger.ZeroHash {
		t.Error("status event reached the ledger")
	}
}

func TestUpgradeRequiresToken(t *testing.T) {
	te := newTestEnv(t, policy.Default())

	url := "ws" + strings.TrimPrefix(te.srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without a token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wanted a 401, got: %v", resp)
	}

	if _, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": []string{"Bearer garbage"},
	}); err == nil {
		t.Fatal("dial with a garbage token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wanted a 401, got: %v", resp)
	}
}

func TestTokenQueryParameter(t *testing.T) {
	te := newTestEnv(t, policy.Default())

	tok, err := te.issuer.Issue("did:ubl:alice")
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(te.srv.URL, "http") + "?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	send(t, conn, EventAppend, "req-1", testEntry(ledger.ZeroHash))
	if ack := readAck(t, conn); ack.Status != StatusCommitted {
		t.Fatalf("wanted committed ack, got: %+v", ack)
	}
}

// commitObserver wraps a sequencer and records the context each Commit
// call ran under.
type commitObserver struct {
	ledger.Sequencer

	mu   sync.Mutex
	ctxs []context.Context
}

func (o *commitObserver) Commit(ctx context.Context, entry *ledger.Entry) (ledger.Receipt, error) {
	o.mu.Lock()
	o.ctxs = append(o.ctxs, ctx)
	o.mu.Unlock()

	return o.Sequencer.Commit(ctx, entry)
}

func TestAppendRunsUnderDeadline(t *testing.T) {
	obs := &commitObserver{Sequencer: memory.New()}
	te := newTestEnvSeq(t, policy.Default(), obs)

	conn := te.dial(t, "did:ubl:alice")

	send(t, conn, EventAppend, "req-1", testEntry(ledger.ZeroHash))
	if ack := readAck(t, conn); ack.Status != StatusCommitted {
		t.Fatalf("wanted committed ack, got: %+v", ack)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()

	if len(obs.ctxs) != 1 {
		t.Fatalf("wanted 1 commit, saw %d", len(obs.ctxs))
	}

	if _, ok := obs.ctxs[0].Deadline(); !ok {
		t.Error("commit ran under a context with no deadline")
	}
}
