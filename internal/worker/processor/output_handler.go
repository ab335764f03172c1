package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lipsync/internal/ports"
)

type OutputHandler struct {
	sp      ports.StorageProvider
	toolDir string
}

func NewOutputHandler(sp ports.StorageProvider, toolDir string) *OutputHandler {
	return &OutputHandler{sp: sp, toolDir: toolDir}
}

// ExpectedResultPath is where the tool is expected to write its video:
// <resultDir>/<stem(videoName)>_<stem(audioName)>.mp4.
func ExpectedResultPath(resultDir, videoName, audioName string) string {
	return filepath.Join(resultDir, ResultName(videoName, audioName))
}

type ResolveRequest struct {
	ResultDir string
	VideoName string
	AudioName string
	// PersistedVideo and PersistedAudio are the paths handed to the tool; a tool
	// that names its output after its inputs uses these stems instead.
	PersistedVideo string
	PersistedAudio string
	SentinelPath   string
}

// Resolve returns the path of the produced video, or false when none exists.
// A sentinel path that exists wins; otherwise the naming convention decides,
// trying the original upload names before the persisted ones.
func (oh *OutputHandler) Resolve(req ResolveRequest) (string, bool) {
	if req.SentinelPath != "" {
		p := req.SentinelPath
		if !filepath.IsAbs(p) && oh.toolDir != "" {
			p = filepath.Join(oh.toolDir, p)
		}
		if isFile(p) {
			return p, true
		}
	}

	candidates := []string{ExpectedResultPath(req.ResultDir, req.VideoName, req.AudioName)}
	if req.PersistedVideo != "" && req.PersistedAudio != "" {
		candidates = append(candidates, ExpectedResultPath(req.ResultDir, req.PersistedVideo, req.PersistedAudio))
	}
	for _, p := range candidates {
		if isFile(p) {
			return p, true
		}
	}
	return "", false
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// ResultKey is the object key of an archived result.
func ResultKey(runID, resultName string) string {
	return fmt.Sprintf("results/%s/%s", runID, SanitizeFilename(resultName))
}

// Archive uploads the result video so the API can serve it from any host, and
// returns the provider's object key.
func (oh *OutputHandler) Archive(ctx context.Context, runID, localPath, resultName string) (string, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("result file not found: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open result: %w", err)
	}
	defer f.Close()

	out, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   ResultKey(runID, resultName),
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload result: %w", err)
	}
	return out.ObjectKey, nil
}
