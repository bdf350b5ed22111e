package filelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "data.json"), filepath.Join(dir, "data.log")
}

func entry(q string) models.KnowledgeEntry {
	return *models.NewKnowledgeEntry(q, "answer "+q, []float32{1, 0})
}

func TestKnowledgeRepository_AppendAndLoad(t *testing.T) {
	snap, logPath := paths(t)
	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	entries, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, repo.Append(ctx, entry("a")))
	require.NoError(t, repo.Append(ctx, entry("b")))

	entries, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Question)
	assert.Equal(t, "b", entries[1].Question)
	assert.Equal(t, []float32{1, 0}, entries[1].Embedding)
}

func TestKnowledgeRepository_LegacySnapshot(t *testing.T) {
	snap, logPath := paths(t)
	legacy := `{"queries": [{"question": "What is SIGCE?", "answer": "SIGCE is the campus system."}]}`
	require.NoError(t, os.WriteFile(snap, []byte(legacy), 0o644))

	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Append(context.Background(), entry("later")))

	entries, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "What is SIGCE?", entries[0].Question)
	assert.False(t, entries[0].HasEmbedding())
	assert.Equal(t, "later", entries[1].Question)
}

func TestKnowledgeRepository_TornTrailingLine(t *testing.T) {
	snap, logPath := paths(t)
	good := `{"question":"a","answer":"1"}` + "\n" + `{"question":"b","answer":"2"}` + "\n"
	torn := `{"question":"c","ans`

	t.Run("load skips the torn record", func(t *testing.T) {
		require.NoError(t, os.WriteFile(logPath, []byte(good+torn), 0o644))
		repo := &KnowledgeRepository{snapshotPath: snap, logPath: logPath, logger: zap.NewNop()}

		entries, err := repo.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[1].Question)
	})

	t.Run("open cuts the torn record before appending", func(t *testing.T) {
		require.NoError(t, os.WriteFile(logPath, []byte(good+torn), 0o644))
		repo, err := Open(snap, logPath, zap.NewNop())
		require.NoError(t, err)
		defer repo.Close()

		require.NoError(t, repo.Append(context.Background(), entry("d")))

		entries, err := repo.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "d", entries[2].Question)
	})
}

func TestKnowledgeRepository_CorruptInteriorLine(t *testing.T) {
	snap, logPath := paths(t)
	log := `{"question":"a","answer":"1"}` + "\n" +
		"garbage\n" +
		`{"question":"b","ans` + `{"question":"c","answer":"3"}` + "\n" +
		`{"question":"d","answer":"4"}` + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(log), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	repo, err := Open(snap, logPath, zap.New(core))
	require.NoError(t, err)
	defer repo.Close()

	entries, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, questions(entries))
	assert.Equal(t, 2, logs.FilterMessage("skipping undecodable knowledge log record").Len())
}

// failingLog writes half of the first failing record and reports an error
type failingLog struct {
	*os.File
	failWrites int
}

func (f *failingLog) Write(p []byte) (int, error) {
	if f.failWrites > 0 {
		f.failWrites--
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

func TestKnowledgeRepository_FailedAppendIsRolledBack(t *testing.T) {
	snap, logPath := paths(t)
	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Append(ctx, entry(q)))
	}
	before, err := os.Stat(logPath)
	require.NoError(t, err)

	repo.log = &failingLog{File: repo.log.(*os.File), failWrites: 1}
	assert.Error(t, repo.Append(ctx, entry("d")))

	after, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())

	require.NoError(t, repo.Append(ctx, entry("e")))

	entries, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "e"}, questions(entries))
}

func TestKnowledgeRepository_SecondOpenerIsRejected(t *testing.T) {
	snap, logPath := paths(t)
	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.Append(context.Background(), entry("a")))

	_, err = Open(snap, logPath, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogLocked)

	require.NoError(t, repo.Close())

	reopened, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, questions(entries))
}

func TestKnowledgeRepository_CorruptSnapshot(t *testing.T) {
	snap, logPath := paths(t)
	require.NoError(t, os.WriteFile(snap, []byte("{"), 0o644))

	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.LoadAll(context.Background())
	assert.ErrorIs(t, err, services.ErrKnowledgeCorrupt)
}

func TestKnowledgeRepository_Compact(t *testing.T) {
	snap, logPath := paths(t)
	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Append(ctx, entry(q)))
	}
	require.NoError(t, repo.Compact(ctx))

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	onDisk, err := ReadSnapshot(snap)
	require.NoError(t, err)
	assert.Len(t, onDisk, 3)

	require.NoError(t, repo.Append(ctx, entry("d")))
	entries, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, questions(entries))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(snap), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestKnowledgeRepository_ConcurrentAppends(t *testing.T) {
	snap, logPath := paths(t)
	repo, err := Open(snap, logPath, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Append(ctx, entry(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	entries, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func questions(entries []models.KnowledgeEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Question
	}
	return out
}
