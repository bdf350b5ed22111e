// Package filelog persists knowledge entries as a JSON snapshot,
// {"queries": [...]}, plus an append-only log holding one JSON entry per
// line. Appends are written with O_APPEND and fsynced. Compact folds the
// log into a new snapshot. One process at a time may hold the log open.
package filelog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"go.uber.org/zap"
)

// ErrLogLocked is returned by Open while another process holds the log
var ErrLogLocked = errors.New("knowledge log is locked by another process")

// KnowledgeRepository implements repositories.KnowledgeRepository and
// repositories.Compactor
type KnowledgeRepository struct {
	snapshotPath string
	logPath      string
	logger       *zap.Logger

	mu  sync.Mutex
	log logFile
}

// logFile is the part of *os.File the repository writes through
type logFile interface {
	io.Writer
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// Open opens the log for appending, creating directories and files as
// needed, and locks it exclusively. A torn trailing record left by a crash
// is cut off once the lock is held.
func Open(snapshotPath, logPath string, logger *zap.Logger) (*KnowledgeRepository, error) {
	for _, p := range []string{snapshotPath, logPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge directory: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open knowledge log: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", logPath, err)
	}

	if err := repairTail(logPath, logger); err != nil {
		f.Close()
		return nil, err
	}

	return &KnowledgeRepository{
		snapshotPath: snapshotPath,
		logPath:      logPath,
		logger:       logger,
		log:          f,
	}, nil
}

// repairTail truncates the log after its last newline
func repairTail(path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read knowledge log: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}

	keep := bytes.LastIndexByte(data, '\n') + 1
	logger.Warn("truncating torn knowledge log record",
		zap.String("path", path),
		zap.Int("dropped_bytes", len(data)-keep),
	)
	if err := os.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("truncate knowledge log: %w", err)
	}
	return nil
}

// LoadAll returns snapshot entries followed by log entries
func (r *KnowledgeRepository) LoadAll(ctx context.Context) ([]models.KnowledgeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *KnowledgeRepository) loadLocked(ctx context.Context) ([]models.KnowledgeEntry, error) {
	entries, err := ReadSnapshot(r.snapshotPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(r.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open knowledge log: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read knowledge log: %w", readErr)
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var entry models.KnowledgeEntry
			if err := json.Unmarshal(trimmed, &entry); err != nil {
				r.logger.Warn("skipping undecodable knowledge log record",
					zap.String("path", r.logPath),
					zap.Int("line", lineNo),
					zap.Error(err),
				)
			} else {
				entries = append(entries, entry)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	return entries, nil
}

// Append writes one line and fsyncs the log
func (r *KnowledgeRepository) Append(ctx context.Context, entry models.KnowledgeEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := r.log.Stat()
	if err != nil {
		return fmt.Errorf("stat knowledge log: %w", err)
	}

	if _, err := r.log.Write(data); err != nil {
		return r.rollback(info.Size(), fmt.Errorf("append knowledge log: %w", err))
	}
	if err := r.log.Sync(); err != nil {
		return r.rollback(info.Size(), fmt.Errorf("sync knowledge log: %w", err))
	}
	return nil
}

// rollback cuts a failed append back to size so later appends never land
// behind a partial record
func (r *KnowledgeRepository) rollback(size int64, cause error) error {
	if err := r.log.Truncate(size); err != nil {
		r.logger.Error("failed to roll back knowledge log append",
			zap.String("path", r.logPath),
			zap.Int64("size", size),
			zap.Error(err),
		)
		return errors.Join(cause, err)
	}
	return cause
}

// Compact writes snapshot+log to a new snapshot, then empties the log.
// A crash between the rename and the truncate loads the log's entries
// twice; duplicates are valid knowledge entries.
func (r *KnowledgeRepository) Compact(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.loadLocked(ctx)
	if err != nil {
		return err
	}

	if err := WriteSnapshot(r.snapshotPath, entries); err != nil {
		return err
	}

	if err := r.log.Truncate(0); err != nil {
		return fmt.Errorf("truncate knowledge log: %w", err)
	}
	if err := r.log.Sync(); err != nil {
		return fmt.Errorf("sync knowledge log: %w", err)
	}

	r.logger.Info("knowledge log compacted",
		zap.String("snapshot", r.snapshotPath),
		zap.Int("entries", len(entries)),
	)
	return nil
}

// Close closes the log file
func (r *KnowledgeRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Close()
}

// ReadSnapshot decodes a {"queries": [...]} file. A missing file is empty.
func ReadSnapshot(path string) ([]models.KnowledgeEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var snap models.KnowledgeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, services.WrapStorage("knowledge snapshot",
			fmt.Errorf("%w: %v", services.ErrKnowledgeCorrupt, err))
	}
	return snap.Queries, nil
}

// WriteSnapshot atomically replaces path with entries
func WriteSnapshot(path string, entries []models.KnowledgeEntry) error {
	if entries == nil {
		entries = []models.KnowledgeEntry{}
	}
	data, err := json.MarshalIndent(models.KnowledgeSnapshot{Queries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal knowledge snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
