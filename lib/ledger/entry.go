// Package ledger implements the hash-chained, sequence-ordered append-only
// log at the heart of UBL Core. Every entry commits to its predecessor's
// hash, the sequencer assigns a strictly increasing sequence_id, and the
// continuity check plus the insert happen atomically so the chain can
// never fork.
package ledger

import "time"

// Tag defaults applied when the client leaves the fields unset.
const (
	StateCommitted = "COMMITTED"
	RiskLowest     = "L0"
)

// Entry is one ledger record. Field names on the wire match the client
// protocol; sequence_id and server_timestamp are server-assigned at
// commit and must be zero on submission.
type Entry struct {
	EntryHash       string         `json:"entry_hash"`
	PrevHash        string         `json:"prev_hash"`
	SenderDID       string         `json:"sender_did"`
	TargetDID       *string        `json:"target_did,omitempty"`
	GroupID         *string        `json:"group_id,omitempty"`
	Payload         map[string]any `json:"payload"`
	PayloadType     string         `json:"payload_type"`
	PactumState     string         `json:"pactum_state,omitempty"`
	RiskLevel       string         `json:"risk_level,omitempty"`
	GasCost         *float64       `json:"gas_cost,omitempty"`
	TokenUsage      *int64         `json:"token_usage,omitempty"`
	Signature       string         `json:"signature"`
	ClientTimestamp string         `json:"client_timestamp"`
	SequenceID      int64          `json:"sequence_id"`
	ServerTimestamp time.Time      `json:"server_timestamp"`
}

// ApplyDefaults fills the tag fields the way the sequencer persists them.
func (e *Entry) ApplyDefaults() {
	if e.PactumState == "" {
		e.PactumState = StateCommitted
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLowest
	}
}

// Receipt is what a successful commit returns and what gets broadcast to
// every connected peer.
type Receipt struct {
	EntryHash       string    `json:"entry_hash"`
	SequenceID      int64     `json:"sequence_id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}
