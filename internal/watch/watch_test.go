package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/dedup"
	"github.com/subcog/subcog/internal/embedding"
	"github.com/subcog/subcog/internal/index"
	"github.com/subcog/subcog/internal/models"
	"github.com/subcog/subcog/internal/vectorindex"
)

func newTestCaptureService(t *testing.T) *capture.Service {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.NewSQLiteIndex(context.Background(), filepath.Join(dir, "memories.db"), filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	vec, err := vectorindex.NewMemoryIndex(8)
	require.NoError(t, err)

	embedder := embedding.NewMockEmbedder(8)
	dd := dedup.New(idx, vec, 100, time.Minute, 0.92)
	return capture.New(capture.DefaultConfig(), idx, vec, dd, embedder, nil, nil)
}

func TestWatch_SyncExistingFiles_capturesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("remember this"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.xyz"), []byte("ignore this"), 0o644))

	svc := newTestCaptureService(t)
	w := New([]string{dir}, []string{".txt"}, true, svc, models.Namespace("default"), models.Domain("general"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	w.SyncExistingFiles()
}

func TestWatch_DebounceCapturesWrittenFile(t *testing.T) {
	dir := t.TempDir()
	svc := newTestCaptureService(t)
	w := New([]string{dir}, []string{".txt"}, true, svc, models.Namespace("default"), models.Domain("general"), WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("a new session note"), 0o644))
	time.Sleep(300 * time.Millisecond)
}

func TestMatchExtension(t *testing.T) {
	cases := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
	}
	for _, c := range cases {
		if got := matchExtension(c.path, c.extensions); got != c.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", c.path, c.extensions, got, c.want)
		}
	}
}

func TestIsWithin(t *testing.T) {
	cases := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
	}
	for _, c := range cases {
		if got := isWithin(c.dir, c.path); got != c.want {
			t.Errorf("isWithin(%q, %q) = %v, want %v", c.dir, c.path, got, c.want)
		}
	}
}

func TestWatch_AddRemoveDirectory(t *testing.T) {
	svc := newTestCaptureService(t)
	w := New(nil, []string{".txt"}, true, svc, models.Namespace("default"), models.Domain("general"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	dir := t.TempDir()
	require.NoError(t, w.AddDirectory(dir, false))
	require.Len(t, w.Directories(), 1)

	require.NoError(t, w.RemoveDirectory(dir))
	require.Len(t, w.Directories(), 0)
}
