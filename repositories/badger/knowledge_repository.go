// Package badger persists knowledge entries in an embedded BadgerDB, one
// key per entry. Keys carry a zero-padded sequence number so a prefix
// scan returns entries in insertion order.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/upb/chat-gateway/models"
	"go.uber.org/zap"
)

const (
	entryPrefix  = "kb/"
	sequenceKey  = "seq/kb"
	sequenceSize = 100
)

// Config holds the BadgerDB options
type Config struct {
	Dir      string
	InMemory bool
}

// KnowledgeRepository implements repositories.KnowledgeRepository
type KnowledgeRepository struct {
	db     *dgbadger.DB
	seq    *dgbadger.Sequence
	logger *zap.Logger
}

// Open opens or creates the store
func Open(cfg Config, logger *zap.Logger) (*KnowledgeRepository, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: directory is required for persistent store")
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create knowledge directory %s: %w", cfg.Dir, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&zapAdapter{logger.Sugar()})

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lease knowledge sequence: %w", err)
	}

	return &KnowledgeRepository{db: db, seq: seq, logger: logger}, nil
}

func entryKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, n))
}

// LoadAll scans every entry in key order
func (r *KnowledgeRepository) LoadAll(ctx context.Context) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	prefix := []byte(entryPrefix)

	err := r.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry models.KnowledgeEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load knowledge entries: %w", err)
	}
	return entries, nil
}

// Append writes one entry under the next sequence number
func (r *KnowledgeRepository) Append(ctx context.Context, entry models.KnowledgeEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	n, err := r.seq.Next()
	if err != nil {
		return fmt.Errorf("next knowledge sequence: %w", err)
	}

	if err := r.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set(entryKey(n), data)
	}); err != nil {
		return fmt.Errorf("write knowledge entry: %w", err)
	}
	return nil
}

// Close releases the sequence lease and closes the database
func (r *KnowledgeRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		r.logger.Warn("failed to release knowledge sequence", zap.Error(err))
	}
	return r.db.Close()
}

// zapAdapter routes badger's internal logging into zap
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a *zapAdapter) Errorf(format string, args ...interface{}) { a.s.Errorf(format, args...) }
func (a *zapAdapter) Warningf(format string, args ...interface{}) { a.s.Warnf(format, args...) }
func (a *zapAdapter) Infof(format string, args ...interface{}) { a.s.Debugf(format, args...) }
func (a *zapAdapter) Debugf(format string, args ...interface{}) { a.s.Debugf(format, args...) }
