package processor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lipsync/internal/adapters/storage/localfs"
	"lipsync/internal/ports"
)

func TestPersistKeepsSuffixAndIsUnique(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inputs")
	ih := NewInputHandler(nil)

	a, err := ih.Persist(dir, "Face.JPG", strings.NewReader("one"))
	require.NoError(t, err)
	b, err := ih.Persist(dir, "Face.JPG", strings.NewReader("two"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, filepath.IsAbs(a))
	assert.Equal(t, ".JPG", filepath.Ext(a))

	got, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	c, err := ih.Persist(dir, "noext", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "", Suffix(c))
}

func TestCleanupRunRemovesEverything(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	sp := localfs.New(filepath.Join(root, "storage"))
	_, err := sp.PutObject(ctx, ports.PutObjectInput{ObjectKey: "uploads/r/video.mp4", Reader: strings.NewReader("v")})
	require.NoError(t, err)

	work := filepath.Join(root, "runs", "r")
	require.NoError(t, os.MkdirAll(filepath.Join(work, "results"), 0o755))
	video := filepath.Join(work, "v.mp4")
	require.NoError(t, os.WriteFile(video, []byte("v"), 0o644))

	art := &Artifacts{
		WorkDir:        work,
		VideoPath:      video,
		AudioPath:      filepath.Join(work, "never-created.wav"),
		DescriptorPath: filepath.Join(work, DescriptorFile),
		ObjectKeys:     []string{"uploads/r/video.mp4", "uploads/r/audio.wav", ""},
	}
	require.NoError(t, NewCleanup(sp).CleanupRun(ctx, art))

	_, err = os.Stat(work)
	assert.True(t, os.IsNotExist(err))
	_, _, _, err = sp.GetObject(ctx, "uploads/r/video.mp4")
	assert.ErrorIs(t, err, ports.ErrObjectNotFound)

	// A second pass finds nothing left and still succeeds.
	assert.NoError(t, NewCleanup(sp).CleanupRun(ctx, art))
}

func TestCleanupRunEmptyArtifacts(t *testing.T) {
	assert.NoError(t, NewCleanup(nil).CleanupRun(context.Background(), &Artifacts{}))
}
