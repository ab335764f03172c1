package processor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteDescriptor(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "inputs", "input-123.mp4")
	audio := filepath.Join(dir, "inputs", "input-456.wav")

	p, err := WriteDescriptor(dir, video, audio)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
	assert.Equal(t, DescriptorFile, filepath.Base(p))

	raw, err := os.ReadFile(p)
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{
		"video_path": video,
		"audio_path": audio,
		"bbox_shift": 0,
	}, got["task1"])
}

func TestWriteDescriptorOverwrites(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteDescriptor(dir, "/a/old.mp4", "/a/old.wav")
	require.NoError(t, err)
	p, err := WriteDescriptor(dir, "/a/new.mp4", "/a/new.wav")
	require.NoError(t, err)

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "/a/new.mp4")
	assert.NotContains(t, string(raw), "old")
}

func TestWriteDescriptorMissingDir(t *testing.T) {
	_, err := WriteDescriptor(filepath.Join(t.TempDir(), "absent"), "/v.mp4", "/a.wav")
	assert.Error(t, err)
}
