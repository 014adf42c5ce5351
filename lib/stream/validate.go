package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loglinehq/ublcore/lib/ledger"
)

var errNotAnObject = errors.New("stream: append data must be a JSON object")

// decodeEntry parses an append frame's data into a ledger entry. Numbers
// inside the payload stay json.Number so the canonical encoding, and
// therefore the entry hash, reproduces the client's digits exactly.
func decodeEntry(raw json.RawMessage) (*ledger.Entry, error) {
	var entry ledger.Entry

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&entry); err != nil {
		return nil, err
	}

	if entry.Payload == nil {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, errNotAnObject
		}
	}

	return &entry, nil
}

// validateEntry applies the structural schema every append must pass
// before it touches the sequencer. It returns a semicolon-joined list of
// everything wrong, mirroring how the client sees flattened schema
// issues.
func validateEntry(entry *ledger.Entry) error {
	var issues []string

	if entry.PrevHash == "" {
		issues = append(issues, "prev_hash: required")
	}

	if entry.SenderDID == "" {
		issues = append(issues, "sender_did: required")
	}

	if entry.Payload == nil {
		issues = append(issues, "payload: required")
	}

	if entry.PayloadType == "" {
		issues = append(issues, "payload_type: required")
	}

	if entry.Signature == "" {
		issues = append(issues, "signature: required")
	}

	if entry.ClientTimestamp == "" {
		issues = append(issues, "client_timestamp: required")
	}

	if entry.GroupID != nil {
		if _, err := uuid.Parse(*entry.GroupID); err != nil {
			issues = append(issues, "group_id: must be a UUID")
		}
	}

	if entry.SequenceID != 0 {
		issues = append(issues, "sequence_id: server-assigned, must be unset")
	}

	if len(issues) != 0 {
		return fmt.Errorf("%s", strings.Join(issues, "; "))
	}

	// The server owns these no matter what the client sent.
	entry.EntryHash = ""
	entry.ServerTimestamp = time.Time{}

	return nil
}
