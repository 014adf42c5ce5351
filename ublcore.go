// Package ublcore holds the constants shared between the UBL Core server
// and its tooling.
package ublcore

import "time"

// Version is set at build time via ldflags.
var Version = "devel"

// BasePrefix is the root URL prefix the API is served under. Set once at
// startup from the --base-prefix flag.
var BasePrefix = ""

const (
	// ZeroHash is the prev_hash sentinel of the genesis entry: the hex
	// form of an all-zero SHA-256 digest.
	ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// NonceLength is the number of random bytes in a challenge nonce
	// before hex encoding.
	NonceLength = 16

	// DefaultDifficulty is the difficulty reported with every challenge.
	// The field is reserved for future proof-of-work semantics and is
	// never consulted during verification.
	DefaultDifficulty = 1

	// DefaultChallengeTTL bounds how long an issued nonce may sit in the
	// store before the cleanup pass reclaims it. Verification only
	// requires that the nonce is the most recently issued one for the
	// principal, so this is an eviction bound, not an auth deadline.
	DefaultChallengeTTL = 10 * time.Minute

	// DefaultTokenTTL is the lifetime of an issued bearer token.
	DefaultTokenTTL = 15 * time.Minute

	// DefaultOpTimeout bounds a single storage or policy call made on
	// behalf of a stream append. A hung backend must not park the
	// connection's read loop forever.
	DefaultOpTimeout = 10 * time.Second

	// StreamPath is the WebSocket endpoint of the real-time channel.
	StreamPath = "/ubl-stream"

	// APIPrefix is the prefix of the request/response API surface.
	APIPrefix = "/api/v1"
)
