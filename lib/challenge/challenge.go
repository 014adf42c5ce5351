// Package challenge issues and consumes the one-time authentication
// nonces of the identity-verification handshake. At most one challenge is
// live per principal: issuing a new one overwrites the old one, and a
// successful verification consumes it.
package challenge

import "time"

// Challenge is the record a principal must sign to prove key possession.
type Challenge struct {
	// Nonce is hex-encoded random data. The client signs the nonce string's
	// UTF-8 bytes, not the decoded bytes.
	Nonce string `json:"nonce"`

	// Difficulty is reserved for future proof-of-work semantics. It is
	// reported to clients and never consulted during verification.
	Difficulty int `json:"difficulty"`

	// IssuedAt is the server time of issuance in milliseconds since the
	// Unix epoch, matching the wire format clients expect.
	IssuedAt int64 `json:"server_ts"`
}

// IssuedTime converts the wire timestamp back into a time.Time.
func (c Challenge) IssuedTime() time.Time {
	return time.UnixMilli(c.IssuedAt)
}
