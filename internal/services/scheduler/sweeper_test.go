package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type staticInputs []string

func (s staticInputs) ActiveInputs() []string { return s }

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
}

func TestUploadSweeper_Sweep(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "old.png")
	fresh := filepath.Join(dir, "fresh.png")
	queued := filepath.Join(dir, "queued.png")
	touch(t, old, 2*time.Hour)
	touch(t, fresh, time.Minute)
	touch(t, queued, 3*time.Hour)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	sweeper := NewUploadSweeper(dir, time.Hour, staticInputs{queued}, arbor.NewLogger())

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, queued, "files owned by a queued job are kept")
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestUploadSweeper_MissingDir(t *testing.T) {
	sweeper := NewUploadSweeper(filepath.Join(t.TempDir(), "none"), time.Hour, staticInputs{}, arbor.NewLogger())

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestService_RegisterAndRunNow(t *testing.T) {
	service := NewService(arbor.NewLogger())

	calls := 0
	require.NoError(t, service.RegisterJob("count", "0 0 * * * *", "counts", func(ctx context.Context) error {
		calls++
		return nil
	}))

	assert.Error(t, service.RegisterJob("count", "0 0 * * * *", "dup", func(ctx context.Context) error { return nil }))
	assert.Error(t, service.RegisterJob("bad", "every minute", "bad", func(ctx context.Context) error { return nil }))
	assert.Error(t, service.RegisterJob("empty", "", "empty", func(ctx context.Context) error { return nil }))

	require.NoError(t, service.RunNow("count"))
	assert.Equal(t, 1, calls)
	assert.Error(t, service.RunNow("missing"))

	jobs := service.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "count", jobs[0].Name)
	assert.NotNil(t, jobs[0].LastRun)
	assert.Empty(t, jobs[0].LastError)
}

func TestService_PanicRecorded(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.RegisterJob("boom", "0 0 * * * *", "panics", func(ctx context.Context) error {
		panic("boom")
	}))

	err := service.RunNow("boom")
	require.Error(t, err)
	assert.Contains(t, service.Jobs()[0].LastError, "boom")
}

func TestService_StartStop(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.Start())
	assert.Error(t, service.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, service.Stop(ctx))
	require.NoError(t, service.Stop(ctx))
}
