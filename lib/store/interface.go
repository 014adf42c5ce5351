// Package store abstracts the expiring key/value storage that UBL Core
// uses for transient state, most importantly outstanding authentication
// challenges. Backends range from a process-local map to a shared valkey
// instance so that several gateway replicas can agree on which nonce is
// live for a principal.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the
	// value for a given key.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the
	// stored bytes into a value used by the code.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode a value
	// into the format the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface is the set of calls UBL Core makes against transient storage.
// Values expire; an expired value is indistinguishable from a missing one.
type Interface interface {
	// Delete removes a value from the store by key.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming it exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires after expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

// GenerationStore is implemented by backends that can refuse a delete
// when the key was overwritten after the caller read it. Every Set of a
// key advances its generation; DeleteGeneration removes the key only
// while the generation still matches and returns ErrNotFound otherwise.
// Single-use consumption uses this to guarantee that of two racing
// readers at most one delete wins.
type GenerationStore interface {
	GetWithGeneration(ctx context.Context, key string) ([]byte, uint64, error)
	DeleteGeneration(ctx context.Context, key string, generation uint64) error
}

func z[T any]() T { return *new(T) }

// JSON adapts an Interface into a typed store by round-tripping values
// through encoding/json. An optional Prefix namespaces the keys.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	if j.Prefix != "" {
		key = j.Prefix + key
	}

	return j.Underlying.Delete(ctx, key)
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	if j.Prefix != "" {
		key = j.Prefix + key
	}

	data, err := j.Underlying.Get(ctx, key)
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	if j.Prefix != "" {
		key = j.Prefix + key
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Set(ctx, key, data, expiry)
}
