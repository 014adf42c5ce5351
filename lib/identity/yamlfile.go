package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoIdentities is returned when a registry file parses but contains no
// entries, which is almost always a deployment mistake.
var ErrNoIdentities = errors.New("identity: registry file contains no identities")

type registryFile struct {
	Identities []Identity `yaml:"identities"`
}

// FileRegistry serves lookups from a YAML file loaded at startup.
type FileRegistry struct {
	mu   sync.RWMutex
	byID map[string]Identity
}

// LoadFile reads a registry file of the form:
//
//	identities:
//	  - did: did:ubl:alice
//	    public_key: <64 hex chars>
func LoadFile(fname string) (*FileRegistry, error) {
	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("identity: can't open registry file %s: %w", fname, err)
	}
	defer fin.Close()

	var parsed registryFile
	if err := yaml.NewDecoder(fin).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("identity: can't parse registry file %s: %w", fname, err)
	}

	if len(parsed.Identities) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoIdentities, fname)
	}

	byID := make(map[string]Identity, len(parsed.Identities))
	for _, id := range parsed.Identities {
		if id.DID == "" || id.PublicKey == "" {
			return nil, fmt.Errorf("identity: registry file %s has an entry missing did or public_key", fname)
		}

		if _, err := id.Key(); err != nil {
			return nil, err
		}

		byID[id.DID] = id
	}

	return &FileRegistry{byID: byID}, nil
}

func (f *FileRegistry) Lookup(_ context.Context, did string) (Identity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	id, ok := f.byID[did]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrNotFound, did)
	}

	return id, nil
}

// Reload replaces the registry contents from the same file format. Safe to
// call from a SIGHUP handler.
func (f *FileRegistry) Reload(fname string) error {
	next, err := LoadFile(fname)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.byID = next.byID
	f.mu.Unlock()

	return nil
}
