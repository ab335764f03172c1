package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lipsync/internal/httpkit"
	"lipsync/internal/models"
	apperrors "lipsync/internal/pkg/errors"
	"lipsync/internal/ports"
	"lipsync/internal/worker/processor"
	"lipsync/internal/worker/util"
)

// multipartMemory is how much of a multipart body is buffered in memory; the
// rest spills to temp files. signedURLTTL bounds redirects to the object store.
const (
	multipartMemory   = 32 << 20
	resultContentType = "video/mp4"
	signedURLTTL      = 15 * time.Minute
)

// runView is a run as returned by the API.
type runView struct {
	*models.Run
	EventsURL   string `json:"events_url"`
	VideoURL    string `json:"video_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func newRunView(run *models.Run) runView {
	v := runView{Run: run, EventsURL: "/runs/" + run.ID + "/ws"}
	if run.HasResult() {
		v.VideoURL = "/runs/" + run.ID + "/video"
		v.DownloadURL = v.VideoURL + "?download=1"
	}
	return v
}

// PostRun stores the uploaded inputs, records a QUEUED run and enqueues it.
func (h *Handler) PostRun(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Validationf("upload exceeds %d MB", h.maxUploadBytes>>20).
				WithField("limit_bytes", h.maxUploadBytes)
		}
		return apperrors.Validation("invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	video, videoHeader := formFile(r, "video")
	if video != nil {
		defer video.Close()
	}
	audio, audioHeader := formFile(r, "audio")
	if audio != nil {
		defer audio.Close()
	}

	batchSize := DefaultBatchSize
	if raw := strings.TrimSpace(r.FormValue("batch_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.ValidationField("batch_size", "batch_size must be an integer")
		}
		batchSize = n
	}

	req := processor.RunRequest{
		VideoName:  headerName(videoHeader),
		AudioName:  headerName(audioHeader),
		UseFloat16: processor.IsTruthy(r.FormValue("use_float16")),
		BatchSize:  batchSize,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	runID := util.NewRunID()
	log = log.WithRunID(runID)

	videoKey, err := h.upload(ctx, runID, "video", req.VideoName, video, videoHeader.Size)
	if err != nil {
		return apperrors.Wrap(err, "api.upload", "failed to store video")
	}
	audioKey, err := h.upload(ctx, runID, "audio", req.AudioName, audio, audioHeader.Size)
	if err != nil {
		h.discard(ctx, videoKey)
		return apperrors.Wrap(err, "api.upload", "failed to store audio")
	}

	run := &models.Run{
		ID:         runID,
		Status:     models.RunQueued,
		VideoName:  req.VideoName,
		AudioName:  req.AudioName,
		VideoKey:   videoKey,
		AudioKey:   audioKey,
		UseFloat16: req.UseFloat16,
		BatchSize:  req.BatchSize,
	}
	if err := h.store.Create(ctx, run); err != nil {
		h.discard(ctx, videoKey, audioKey)
		return apperrors.Wrap(err, "api.create", "failed to record run")
	}

	if err := h.queue.Push(ctx, runID); err != nil {
		h.discard(ctx, videoKey, audioKey)
		_ = h.store.Finish(context.WithoutCancel(ctx), runID, models.RunOutcome{
			Status:    models.RunFailed,
			ErrorText: "failed to enqueue run",
		})
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "api.enqueue", "run queue unavailable")
	}

	log.Info("run queued",
		"video", req.VideoName,
		"audio", req.AudioName,
		"batch_size", req.BatchSize,
		"use_float16", req.UseFloat16,
	)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"run": newRunView(run)})
	return nil
}

func formFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader) {
	f, fh, err := r.FormFile(field)
	if err != nil {
		return nil, nil
	}
	return f, fh
}

func headerName(fh *multipart.FileHeader) string {
	if fh == nil {
		return ""
	}
	return strings.TrimSpace(fh.Filename)
}

func (h *Handler) upload(ctx context.Context, runID, kind, name string, body io.Reader, size int64) (string, error) {
	ext := processor.Suffix(name)
	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   fmt.Sprintf("uploads/%s/%s%s", runID, kind, ext),
		ContentType: processor.MimeFromExt(ext),
		Reader:      body,
		Size:        size,
	})
	if err != nil {
		return "", err
	}
	return out.ObjectKey, nil
}

// discard removes uploads of a run that could not be queued.
func (h *Handler) discard(ctx context.Context, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := h.sp.DeleteObject(ctx, key); err != nil && !errors.Is(err, ports.ErrObjectNotFound) {
			h.log.FromContext(ctx).Warn("failed to discard upload", "object_key", key, "error", err.Error())
		}
	}
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	filter := models.ListRunsFilter{}
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		filter.Status = models.RunStatus(s)
		if !filter.Status.Valid() {
			return apperrors.ValidationField("status", "status must be one of QUEUED, RUNNING, SUCCEEDED, FAILED")
		}
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 200 {
			return apperrors.ValidationField("limit", "limit must be between 1 and 200")
		}
		filter.Limit = n
	}

	runs, err := h.store.List(r.Context(), filter)
	if err != nil {
		return apperrors.Wrap(err, "api.list", "failed to list runs")
	}

	out := make([]runView, 0, len(runs))
	for i := range runs {
		out = append(out, newRunView(&runs[i]))
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
	return nil
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"run": newRunView(run)})
	return nil
}

// RunVideo streams a run's result video, inline by default or as an
// attachment with ?download=1.
func (h *Handler) RunVideo(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	run, err := h.loadRun(r)
	if err != nil {
		return err
	}
	if !run.HasResult() {
		return apperrors.ResultNotFound(run.ID)
	}

	disposition := "inline"
	if processor.IsTruthy(r.URL.Query().Get("download")) {
		disposition = "attachment"
	}
	disposition = mime.FormatMediaType(disposition, map[string]string{"filename": run.ResultName})

	// Providers that can sign hand the download to the object store.
	signed, err := h.sp.GetSignedURL(ctx, ports.SignedURLInput{
		ObjectKey:          run.ResultKey,
		ExpiresIn:          signedURLTTL,
		ContentType:        resultContentType,
		ContentDisposition: disposition,
	})
	if err != nil {
		h.log.FromContext(ctx).Warn("failed to sign result url, streaming instead", "run_id", run.ID, "error", err.Error())
	} else if signed.URL != "" {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, signed.URL, http.StatusFound)
		return nil
	}

	rc, _, size, err := h.sp.GetObject(ctx, run.ResultKey)
	if err != nil {
		if errors.Is(err, ports.ErrObjectNotFound) {
			return apperrors.ResultNotFound(run.ID)
		}
		return apperrors.Wrap(err, "api.video", "failed to open result video")
	}
	defer rc.Close()

	// Results are always archived as mp4; provider sniffing is not reliable for it.
	w.Header().Set("Content-Type", resultContentType)
	w.Header().Set("Content-Disposition", disposition)

	// Seekable objects get range support so the browser can scrub the preview.
	if rs, ok := rc.(io.ReadSeeker); ok {
		modified := time.Time{}
		if run.FinishedAt != nil {
			modified = *run.FinishedAt
		}
		http.ServeContent(w, r, run.ResultName, modified, rs)
		return nil
	}

	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
	return nil
}

func (h *Handler) loadRun(r *http.Request) (*models.Run, error) {
	runID := chi.URLParam(r, "runId")
	if !util.ValidRunID(runID) {
		return nil, apperrors.NotFound("run", runID)
	}

	run, err := h.store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			return nil, apperrors.NotFound("run", runID)
		}
		return nil, apperrors.Wrap(err, "api.get", "failed to load run")
	}
	return run, nil
}
