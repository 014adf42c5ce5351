// Package stream is the real-time side of UBL Core: long-lived WebSocket
// connections carrying ledger appends, commit broadcasts, and ephemeral
// agent status events.
package stream

import "encoding/json"

// Events carried on the wire.
const (
	// EventAppend is a client-to-server append request. The frame's id is
	// echoed on the ack so clients can correlate in-flight requests.
	EventAppend = "ledger:append"

	// EventAck answers an EventAppend frame.
	EventAck = "ledger:append:ack"

	// EventCommitted is broadcast to every connected peer, submitter
	// included, after a successful commit.
	EventCommitted = "ledger:committed"

	// EventStatus frames are relayed verbatim to every connected peer and
	// never persisted.
	EventStatus = "agent:status"
)

// Rejection kinds carried in Ack.Error.
const (
	KindInvalidPayload = "INVALID_PAYLOAD"
	KindChainReorg     = "CHAIN_REORG_REQUIRED"
	KindPolicyRejected = "POLICY_REJECTED"
	KindLedgerRejected = "LEDGER_REJECTED"
)

// Frame is the envelope every stream message travels in.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the append acknowledgment sent only to the submitter.
type Ack struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
	LatestHash string `json:"latest_hash,omitempty"`
}

const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
)
