package ledger

import (
	"context"
	"fmt"
)

// VerifyReport summarizes a full chain audit.
type VerifyReport struct {
	OK       bool     `json:"ok"`
	Total    int64    `json:"total"`
	LastSeq  int64    `json:"last_sequence_id"`
	LastHash string   `json:"last_hash"`
	Errors   []string `json:"errors,omitempty"`
}

// Verify walks the whole chain, recomputing every entry hash and checking
// linkage and sequence monotonicity. It reads in pages so an arbitrarily
// long ledger does not need to fit in memory.
func Verify(ctx context.Context, seq Sequencer) (VerifyReport, error) {
	const pageSize = 512

	report := VerifyReport{OK: true, LastHash: ZeroHash}

	expectedPrev := ZeroHash
	var after int64

	for {
		page, err := seq.Entries(ctx, after, pageSize)
		if err != nil {
			return VerifyReport{}, fmt.Errorf("ledger: can't read entries after %d: %w", after, err)
		}

		if len(page) == 0 {
			return report, nil
		}

		for _, entry := range page {
			if entry.SequenceID != report.LastSeq+1 {
				report.OK = false
				report.Errors = append(report.Errors, fmt.Sprintf("sequence gap: want %d, got %d", report.LastSeq+1, entry.SequenceID))
			}

			if entry.PrevHash != expectedPrev {
				report.OK = false
				report.Errors = append(report.Errors, fmt.Sprintf("prev_hash mismatch at sequence %d", entry.SequenceID))
			}

			computed, err := EntryHash(entry.PrevHash, entry.SenderDID, entry.Payload, entry.ClientTimestamp)
			if err != nil {
				report.OK = false
				report.Errors = append(report.Errors, fmt.Sprintf("can't recompute hash at sequence %d: %v", entry.SequenceID, err))
			} else if computed != entry.EntryHash {
				report.OK = false
				report.Errors = append(report.Errors, fmt.Sprintf("entry_hash mismatch at sequence %d", entry.SequenceID))
			}

			expectedPrev = entry.EntryHash
			report.Total++
			report.LastSeq = entry.SequenceID
			report.LastHash = entry.EntryHash
		}

		after = report.LastSeq
	}
}
