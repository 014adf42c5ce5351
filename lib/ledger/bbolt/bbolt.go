// Package bbolt implements ledger.Sequencer on a bbolt database.
//
// Entries live in one bucket keyed by big-endian sequence_id, so a cursor
// walk is chain order. bbolt runs a single write transaction at a time,
// which makes the head check and the insert inside one Update call the
// atomic conditional write the chain needs: a commit that loses the race
// re-reads the head inside its own transaction and reports the reorg.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loglinehq/ublcore/lib/ledger"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath     = errors.New("ledger/bbolt: path is missing from config")
	ErrCantWriteToPath = errors.New("ledger/bbolt: can't write to path")
)

var entriesBucket = []byte("ledger_entries")

func init() {
	ledger.Register("bbolt", Factory{})
}

// Factory builds bbolt-backed sequencers from JSON configuration.
type Factory struct{}

func (Factory) Build(ctx context.Context, data json.RawMessage) (ledger.Sequencer, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	bdb, err := bbolt.Open(config.Path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("can't create ledger bucket: %w", err)
	}

	return &Store{bdb: bdb}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBadConfig, err)
	}

	return nil
}

// Config is the bbolt sequencer configuration.
type Config struct {
	// Path is the filesystem path of the database file.
	Path string `json:"path"`
}

func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		dir := filepath.Dir(c.Path)
		if err := os.WriteFile(filepath.Join(dir, ".test-file"), []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToPath)
		}
		os.Remove(filepath.Join(dir, ".test-file"))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

type Store struct {
	bdb *bbolt.DB
}

func seqKey(seq int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(seq))
	return key[:]
}

func headOf(bkt *bbolt.Bucket) (string, int64, error) {
	key, value := bkt.Cursor().Last()
	if key == nil {
		return ledger.ZeroHash, 0, nil
	}

	var last ledger.Entry
	if err := json.Unmarshal(value, &last); err != nil {
		return "", 0, fmt.Errorf("ledger/bbolt: can't decode head entry: %w", err)
	}

	return last.EntryHash, int64(binary.BigEndian.Uint64(key)), nil
}

func (s *Store) Commit(ctx context.Context, entry *ledger.Entry) (ledger.Receipt, error) {
	var receipt ledger.Receipt

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(entriesBucket)

		head, lastSeq, err := headOf(bkt)
		if err != nil {
			return err
		}

		if entry.PrevHash != head {
			return &ledger.ChainReorgError{LatestHash: head}
		}

		hash, err := ledger.EntryHash(entry.PrevHash, entry.SenderDID, entry.Payload, entry.ClientTimestamp)
		if err != nil {
			return err
		}

		committed := *entry
		committed.ApplyDefaults()
		committed.EntryHash = hash
		committed.SequenceID = lastSeq + 1
		committed.ServerTimestamp = time.Now().UTC()

		raw, err := json.Marshal(committed)
		if err != nil {
			return fmt.Errorf("ledger/bbolt: can't encode entry: %w", err)
		}

		if err := bkt.Put(seqKey(committed.SequenceID), raw); err != nil {
			return fmt.Errorf("ledger/bbolt: can't persist entry: %w", err)
		}

		receipt = ledger.Receipt{
			EntryHash:       committed.EntryHash,
			SequenceID:      committed.SequenceID,
			ServerTimestamp: committed.ServerTimestamp,
		}

		return nil
	})
	if err != nil {
		return ledger.Receipt{}, err
	}

	return receipt, nil
}

func (s *Store) Head(ctx context.Context) (string, error) {
	var head string

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		var err error
		head, _, err = headOf(tx.Bucket(entriesBucket))
		return err
	}); err != nil {
		return "", err
	}

	return head, nil
}

func (s *Store) Entries(ctx context.Context, after int64, limit int) ([]ledger.Entry, error) {
	var result []ledger.Entry

	if after < 0 {
		after = 0
	}

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()

		for key, value := c.Seek(seqKey(after + 1)); key != nil; key, value = c.Next() {
			var entry ledger.Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("ledger/bbolt: can't decode entry %d: %w", binary.BigEndian.Uint64(key), err)
			}

			result = append(result, entry)
			if limit > 0 && len(result) == limit {
				return nil
			}
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.bdb.Close()
}
