// Package memory implements store.Interface with a process-local decaying
// map. Challenge state kept here does not survive a restart and cannot be
// shared between gateway instances.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loglinehq/ublcore/decaymap"
	"github.com/loglinehq/ublcore/lib/store"
)

type factory struct{}

func (factory) Build(ctx context.Context, _ json.RawMessage) (store.Interface, error) {
	return New(ctx), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	store *decaymap.Impl[string, []byte]
}

func (i *impl) Delete(_ context.Context, key string) error {
	if !i.store.Delete(key) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) Get(_ context.Context, key string) ([]byte, error) {
	result, ok := i.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, nil
}

func (i *impl) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	i.store.Set(key, value, expiry)
	return nil
}

func (i *impl) GetWithGeneration(_ context.Context, key string) ([]byte, uint64, error) {
	result, gen, ok := i.store.GetWithGeneration(key)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return result, gen, nil
}

func (i *impl) DeleteGeneration(_ context.Context, key string, generation uint64) error {
	if !i.store.DeleteGeneration(key, generation) {
		return fmt.Errorf("%w: %q", store.ErrNotFound, key)
	}

	return nil
}

func (i *impl) cleanupThread(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			i.store.Cleanup()
		}
	}
}

// New creates a process-local in-memory store. The result also
// implements store.GenerationStore. This will not scale to multiple
// UBL Core instances; use the valkey backend for that.
func New(ctx context.Context) store.Interface {
	result := &impl{
		store: decaymap.New[string, []byte](),
	}

	go result.cleanupThread(ctx)

	return result
}
