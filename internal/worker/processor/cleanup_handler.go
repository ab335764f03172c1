package processor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lipsync/internal/ports"
)

// Artifacts lists everything a run leaves behind that must be removed.
type Artifacts struct {
	WorkDir        string
	VideoPath      string
	AudioPath      string
	DescriptorPath string
	// ObjectKeys are the uploaded inputs in object storage.
	ObjectKeys []string
}

type Cleanup struct {
	sp ports.StorageProvider
}

func NewCleanup(sp ports.StorageProvider) *Cleanup {
	return &Cleanup{sp: sp}
}

// CleanupRun removes the persisted inputs, the descriptor, the work dir and
// the uploaded objects. Anything already gone counts as removed; every other
// failure is collected and returned after all removals were attempted.
func (c *Cleanup) CleanupRun(ctx context.Context, art *Artifacts) error {
	var errs []error

	for _, p := range []string{art.VideoPath, art.AudioPath, art.DescriptorPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if art.WorkDir != "" {
		if err := os.RemoveAll(art.WorkDir); err != nil {
			errs = append(errs, err)
		}
	}

	if c.sp != nil {
		for _, key := range art.ObjectKeys {
			if key == "" {
				continue
			}
			if err := c.sp.DeleteObject(ctx, key); err != nil && !errors.Is(err, ports.ErrObjectNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
	}

	return errors.Join(errs...)
}
