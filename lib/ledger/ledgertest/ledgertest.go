// Package ledgertest contains a conformance suite for ledger.Sequencer
// implementations. Any backend that passes Common upholds the chain
// continuity, sequencing, and reorg contracts.
package ledgertest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/loglinehq/ublcore/lib/ledger"
)

func entry(prevHash, sender string, payload map[string]any) *ledger.Entry {
	if payload == nil {
		payload = map[string]any{"ping": true}
	}

	return &ledger.Entry{
		PrevHash:        prevHash,
		SenderDID:       "did:ubl:" + sender,
		Payload:         payload,
		PayloadType:     "test.event",
		Signature:       "00",
		ClientTimestamp: "2026-08-28T00:00:00.000Z",
	}
}

// Common runs the sequencer contract tests against seq. The sequencer
// must start empty.
func Common(t *testing.T, seq ledger.Sequencer) {
	t.Helper()

	var head string

	t.Run("empty head is the zero hash", func(t *testing.T) {
		got, err := seq.Head(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if got != ledger.ZeroHash {
			t.Errorf("wanted head %s, got: %s", ledger.ZeroHash, got)
		}
	})

	t.Run("genesis commit", func(t *testing.T) {
		receipt, err := seq.Commit(t.Context(), entry(ledger.ZeroHash, "alice", nil))
		if err != nil {
			t.Fatal(err)
		}

		if receipt.SequenceID != 1 {
			t.Errorf("wanted sequence_id 1, got: %d", receipt.SequenceID)
		}

		if receipt.ServerTimestamp.IsZero() {
			t.Error("server_timestamp was not assigned")
		}

		want, err := ledger.EntryHash(ledger.ZeroHash, "did:ubl:alice", map[string]any{"ping": true}, "2026-08-28T00:00:00.000Z")
		if err != nil {
			t.Fatal(err)
		}

		if receipt.EntryHash != want {
			t.Errorf("wanted entry_hash %s, got: %s", want, receipt.EntryHash)
		}

		head = receipt.EntryHash
	})

	t.Run("head follows the commit", func(t *testing.T) {
		got, err := seq.Head(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if got != head {
			t.Errorf("wanted head %s, got: %s", head, got)
		}
	})

	t.Run("stale prev_hash is a reorg", func(t *testing.T) {
		_, err := seq.Commit(t.Context(), entry(ledger.ZeroHash, "bob", nil))

		cre, ok := ledger.IsChainReorg(err)
		if !ok {
			t.Fatalf("wanted ChainReorgError, got: %v", err)
		}

		if cre.LatestHash != head {
			t.Errorf("wanted latest_hash %s, got: %s", head, cre.LatestHash)
		}
	})

	t.Run("chain grows", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			receipt, err := seq.Commit(t.Context(), entry(head, "alice", map[string]any{"i": i}))
			if err != nil {
				t.Fatal(err)
			}

			if want := int64(i) + 2; receipt.SequenceID != want {
				t.Errorf("wanted sequence_id %d, got: %d", want, receipt.SequenceID)
			}

			head = receipt.EntryHash
		}
	})

	t.Run("entries paginate in order", func(t *testing.T) {
		all, err := seq.Entries(t.Context(), 0, 0)
		if err != nil {
			t.Fatal(err)
		}

		if len(all) != 6 {
			t.Fatalf("wanted 6 entries, got: %d", len(all))
		}

		prev := ledger.ZeroHash
		for i, e := range all {
			if e.SequenceID != int64(i)+1 {
				t.Errorf("wanted sequence_id %d, got: %d", i+1, e.SequenceID)
			}

			if e.PrevHash != prev {
				t.Errorf("broken linkage at sequence %d", e.SequenceID)
			}

			prev = e.EntryHash
		}

		tail, err := seq.Entries(t.Context(), 4, 0)
		if err != nil {
			t.Fatal(err)
		}

		if len(tail) != 2 || tail[0].SequenceID != 5 {
			t.Errorf("wanted entries 5..6 after 4, got: %d entries", len(tail))
		}

		capped, err := seq.Entries(t.Context(), 0, 3)
		if err != nil {
			t.Fatal(err)
		}

		if len(capped) != 3 {
			t.Errorf("wanted 3 entries with limit 3, got: %d", len(capped))
		}

		past, err := seq.Entries(t.Context(), 100, 0)
		if err != nil {
			t.Fatal(err)
		}

		if len(past) != 0 {
			t.Errorf("wanted no entries past the head, got: %d", len(past))
		}
	})

	t.Run("defaults and tags persist", func(t *testing.T) {
		all, err := seq.Entries(t.Context(), 0, 1)
		if err != nil {
			t.Fatal(err)
		}

		if got := all[0].PactumState; got != ledger.StateCommitted {
			t.Errorf("wanted pactum_state %s, got: %s", ledger.StateCommitted, got)
		}

		if got := all[0].RiskLevel; got != ledger.RiskLowest {
			t.Errorf("wanted risk_level %s, got: %s", ledger.RiskLowest, got)
		}
	})

	t.Run("concurrent commits against one head", func(t *testing.T) {
		const racers = 8

		var wg sync.WaitGroup
		results := make(chan error, racers)

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := seq.Commit(t.Context(), entry(head, "racer", map[string]any{"racer": fmt.Sprint(i)}))
				results <- err
			}(i)
		}

		wg.Wait()
		close(results)

		var wins, reorgs int
		for err := range results {
			switch _, ok := ledger.IsChainReorg(err); {
			case err == nil:
				wins++
			case ok:
				reorgs++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}

		if wins != 1 {
			t.Errorf("wanted exactly one winner, got: %d", wins)
		}

		if reorgs != racers-1 {
			t.Errorf("wanted %d reorgs, got: %d", racers-1, reorgs)
		}

		got, err := seq.Head(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		head = got
	})

	t.Run("full chain verifies", func(t *testing.T) {
		report, err := ledger.Verify(t.Context(), seq)
		if err != nil {
			t.Fatal(err)
		}

		if !report.OK {
			t.Errorf("chain failed verification: %v", report.Errors)
		}

		if report.LastHash != head {
			t.Errorf("wanted last hash %s, got: %s", head, report.LastHash)
		}
	})
}
