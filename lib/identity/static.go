package identity

import (
	"context"
	"fmt"
)

// Static is a fixed in-memory registry, mostly useful in tests and small
// single-tenant deployments.
type Static map[string]Identity

func (s Static) Lookup(_ context.Context, did string) (Identity, error) {
	id, ok := s[did]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrNotFound, did)
	}

	return id, nil
}
