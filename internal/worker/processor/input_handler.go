package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lipsync/internal/models"
	"lipsync/internal/ports"
)

type InputHandler struct {
	sp ports.StorageProvider
}

func NewInputHandler(sp ports.StorageProvider) *InputHandler {
	return &InputHandler{sp: sp}
}

// Persist writes r to a new, uniquely named file in dir whose suffix is the
// original filename's extension, and returns its absolute path. The content
// is not inspected.
func (ih *InputHandler) Persist(dir, originalName string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create inputs directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "input-*"+Suffix(originalName))
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}

	return filepath.Abs(name)
}

// Materialize downloads the run's two uploaded objects into dir and records
// the local paths on art as soon as each exists, so cleanup sees partial work.
func (ih *InputHandler) Materialize(ctx context.Context, run *models.Run, dir string, art *Artifacts) error {
	videoPath, err := ih.fetch(ctx, dir, run.VideoKey, run.VideoName)
	if err != nil {
		return fmt.Errorf("video input: %w", err)
	}
	art.VideoPath = videoPath

	audioPath, err := ih.fetch(ctx, dir, run.AudioKey, run.AudioName)
	if err != nil {
		return fmt.Errorf("audio input: %w", err)
	}
	art.AudioPath = audioPath
	return nil
}

func (ih *InputHandler) fetch(ctx context.Context, dir, objectKey, originalName string) (string, error) {
	rc, _, _, err := ih.sp.GetObject(ctx, objectKey)
	if err != nil {
		return "", fmt.Errorf("download %s failed: %w", objectKey, err)
	}
	defer rc.Close()

	p, err := ih.Persist(dir, originalName, rc)
	if err != nil {
		return "", fmt.Errorf("failed to save %s locally: %w", originalName, err)
	}
	return p, nil
}
