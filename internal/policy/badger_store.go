package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/quantumflow/finassist/internal/models"
)

const badgerChunkPrefix = "policy:chunk:"

// BadgerChunkStore persists chunks in BadgerDB.
// Keys embed the zero-padded ordinal so prefix iteration yields insertion order.
type BadgerChunkStore struct {
	db *badger.DB
}

// NewBadgerChunkStore opens (or creates) a Badger database at path.
// An empty path opens an in-memory database.
func NewBadgerChunkStore(path string) (*BadgerChunkStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(expandPath(path))
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerChunkStore{db: db}, nil
}

func chunkKey(ordinal int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", badgerChunkPrefix, ordinal))
}

// Append writes chunks in one write batch
func (s *BadgerChunkStore) Append(ctx context.Context, chunks []models.Chunk) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", c.ID, err)
		}
		if err := wb.Set(chunkKey(c.Ordinal), data); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", c.ID, err)
		}
	}

	return wb.Flush()
}

// All reads every chunk in ordinal order
func (s *BadgerChunkStore) All(ctx context.Context) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerChunkPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var c models.Chunk
				if err := json.Unmarshal(val, &c); err != nil {
					return fmt.Errorf("corrupt chunk at %s: %w", item.Key(), err)
				}
				chunks = append(chunks, c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// Count walks the keys without loading values
func (s *BadgerChunkStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerChunkPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database
func (s *BadgerChunkStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to the home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
