package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loglinehq/ublcore"
	"github.com/loglinehq/ublcore/lib/store"
)

var (
	// ErrMismatch is returned when the presented nonce is not the one
	// currently live for the principal: it was never issued, already
	// consumed, overwritten by a newer challenge, or evicted.
	ErrMismatch = errors.New("challenge: nonce does not match the live challenge")
)

// Store issues and consumes challenges on top of an expiring key/value
// backend. The backend decides the sharing story: memory is per-process,
// valkey spans replicas.
type Store struct {
	db  store.JSON[Challenge]
	ttl time.Duration
}

// NewStore builds a challenge store. ttl bounds how long an unconsumed
// challenge survives; zero means ublcore.DefaultChallengeTTL.
func NewStore(backend store.Interface, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = ublcore.DefaultChallengeTTL
	}

	return &Store{
		db:  store.JSON[Challenge]{Underlying: backend, Prefix: "challenge:"},
		ttl: ttl,
	}
}

// Issue creates a fresh challenge for did, replacing any prior one.
func (s *Store) Issue(ctx context.Context, did string) (Challenge, error) {
	buf := make([]byte, ublcore.NonceLength)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, fmt.Errorf("challenge: can't read entropy: %w", err)
	}

	result := Challenge{
		Nonce:      hex.EncodeToString(buf),
		Difficulty: ublcore.DefaultDifficulty,
		IssuedAt:   time.Now().UnixMilli(),
	}

	if err := s.db.Set(ctx, did, result, s.ttl); err != nil {
		return Challenge{}, fmt.Errorf("challenge: can't store challenge for %q: %w", did, err)
	}

	return result, nil
}

// Peek returns the live challenge for did without consuming it, or
// ErrMismatch when none is live or the nonce disagrees.
func (s *Store) Peek(ctx context.Context, did, nonce string) (Challenge, error) {
	got, err := s.db.Get(ctx, did)
	if errors.Is(err, store.ErrNotFound) {
		return Challenge{}, fmt.Errorf("%w: nothing live for %q", ErrMismatch, did)
	} else if err != nil {
		return Challenge{}, fmt.Errorf("challenge: can't read challenge for %q: %w", did, err)
	}

	if got.Nonce != nonce {
		return Challenge{}, fmt.Errorf("%w: stale nonce for %q", ErrMismatch, did)
	}

	return got, nil
}

// Consume removes the live challenge for did, enforcing single use. Call
// only after the signature over the nonce has fully verified. Of two
// racing consumers of the same nonce at most one succeeds; the loser
// gets ErrMismatch.
func (s *Store) Consume(ctx context.Context, did, nonce string) error {
	if gen, ok := s.db.Underlying.(store.GenerationStore); ok {
		return s.consumeGeneration(ctx, gen, did, nonce)
	}

	if _, err := s.Peek(ctx, did, nonce); err != nil {
		return err
	}

	if err := s.db.Delete(ctx, did); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Someone else got here between the read and the delete.
			return fmt.Errorf("%w: challenge for %q consumed concurrently", ErrMismatch, did)
		}

		return fmt.Errorf("challenge: can't consume challenge for %q: %w", did, err)
	}

	return nil
}

// consumeGeneration is Consume on a backend with compare-and-delete:
// the delete is refused outright when the challenge was consumed or
// reissued after the read, so a stale verify can never eat a fresh
// nonce.
func (s *Store) consumeGeneration(ctx context.Context, gen store.GenerationStore, did, nonce string) error {
	raw, generation, err := gen.GetWithGeneration(ctx, s.db.Prefix+did)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: nothing live for %q", ErrMismatch, did)
	} else if err != nil {
		return fmt.Errorf("challenge: can't read challenge for %q: %w", did, err)
	}

	var got Challenge
	if err := json.Unmarshal(raw, &got); err != nil {
		return fmt.Errorf("challenge: can't decode challenge for %q: %w", did, err)
	}

	if got.Nonce != nonce {
		return fmt.Errorf("%w: stale nonce for %q", ErrMismatch, did)
	}

	if err := gen.DeleteGeneration(ctx, s.db.Prefix+did, generation); err != nil {
		return fmt.Errorf("%w: challenge for %q consumed concurrently", ErrMismatch, did)
	}

	return nil
}
