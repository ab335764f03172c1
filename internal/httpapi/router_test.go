package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lipsync/internal/adapters/storage/localfs"
	"lipsync/internal/models"
	"lipsync/internal/pkg/logger"
	"lipsync/internal/ports"
	"lipsync/internal/progress"
	"lipsync/internal/repositories"
	"lipsync/internal/worker/queue"
	"lipsync/internal/worker/util"
)

type testAPI struct {
	store  *repositories.MemoryRunStore
	sp     *localfs.LocalFS
	queue  *queue.MemoryQueue
	broker *progress.MemoryBroker
	srv    *httptest.Server
}

// newTestAPI serves the router over in-memory backends. wrap, when given,
// decorates the local storage seen by the handlers.
func newTestAPI(t *testing.T, maxUpload int64, wrap ...func(ports.StorageProvider) ports.StorageProvider) *testAPI {
	t.Helper()
	a := &testAPI{
		store:  repositories.NewMemoryRunStore(),
		sp:     localfs.New(filepath.Join(t.TempDir(), "storage")),
		queue:  queue.NewMemoryQueue(16),
		broker: progress.NewMemoryBroker(),
	}
	var sp ports.StorageProvider = a.sp
	for _, fn := range wrap {
		sp = fn(sp)
	}
	a.srv = httptest.NewServer(NewRouter(Deps{
		Store:          a.store,
		SP:             sp,
		Queue:          a.queue,
		Broker:         a.broker,
		Log:            logger.Discard(),
		MaxUploadBytes: maxUpload,
	}))
	t.Cleanup(a.srv.Close)
	return a
}

type part struct {
	field, filename, body string
}

func multipartBody(t *testing.T, parts []part) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.body))
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func (a *testAPI) postRun(t *testing.T, parts []part) (*http.Response, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, parts)
	resp, err := http.Post(a.srv.URL+"/runs", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (a *testAPI) seed(t *testing.T, status models.RunStatus) *models.Run {
	t.Helper()
	run := &models.Run{
		ID:        util.NewRunID(),
		Status:    models.RunQueued,
		VideoName: "video.mp4",
		AudioName: "audio.wav",
		BatchSize: 8,
	}
	require.NoError(t, a.store.Create(context.Background(), run))
	if status == models.RunQueued {
		return run
	}
	require.NoError(t, a.store.MarkRunning(context.Background(), run.ID))
	if status.Terminal() {
		outcome := models.RunOutcome{Status: status}
		if status == models.RunSucceeded {
			key := "results/" + run.ID + "/video_audio.mp4"
			_, err := a.sp.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("MP4DATA")})
			require.NoError(t, err)
			outcome.ResultKey = key
			outcome.ResultName = "video_audio.mp4"
		} else {
			outcome.ErrorText = "Output video not generated"
		}
		require.NoError(t, a.store.Finish(context.Background(), run.ID, outcome))
	}
	got, err := a.store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	return got
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	return e
}

func TestPostRunQueuesRun(t *testing.T) {
	a := newTestAPI(t, 0)

	resp, body := a.postRun(t, []part{
		{"video", "My Video.MP4", "VIDEO"},
		{"audio", "speech.wav", "AUDIO"},
		{"use_float16", "", "true"},
		{"batch_size", "", "4"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	run := body["run"].(map[string]any)
	id := run["id"].(string)
	assert.True(t, util.ValidRunID(id))
	assert.Equal(t, "QUEUED", run["status"])
	assert.Equal(t, "My Video.MP4", run["video_name"])
	assert.Equal(t, true, run["use_float16"])
	assert.EqualValues(t, 4, run["batch_size"])
	assert.Equal(t, "/runs/"+id+"/ws", run["events_url"])
	assert.NotContains(t, run, "video_url")

	queued, err := a.queue.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, queued)

	stored, err := a.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "uploads/"+id+"/video.MP4", stored.VideoKey)

	rc, _, _, err := a.sp.GetObject(context.Background(), stored.AudioKey)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "AUDIO", string(data))
}

func TestPostRunDefaults(t *testing.T) {
	a := newTestAPI(t, 0)

	resp, body := a.postRun(t, []part{
		{"video", "face.png", "IMG"},
		{"audio", "voice.mp3", "AUDIO"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	run := body["run"].(map[string]any)
	assert.EqualValues(t, 8, run["batch_size"])
	assert.Equal(t, false, run["use_float16"])
}

func TestPostRunValidation(t *testing.T) {
	tests := []struct {
		name  string
		parts []part
		field string
	}{
		{"missing video", []part{{"audio", "a.wav", "x"}}, "video"},
		{"missing audio", []part{{"video", "v.mp4", "x"}}, "audio"},
		{"bad video type", []part{{"video", "v.gif", "x"}, {"audio", "a.wav", "x"}}, "video"},
		{"bad audio type", []part{{"video", "v.mp4", "x"}, {"audio", "a.ogg", "x"}}, "audio"},
		{"zero batch", []part{{"video", "v.mp4", "x"}, {"audio", "a.wav", "x"}, {"batch_size", "", "0"}}, "batch_size"},
		{"non-numeric batch", []part{{"video", "v.mp4", "x"}, {"audio", "a.wav", "x"}, {"batch_size", "", "eight"}}, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, 0)
			resp, body := a.postRun(t, tt.parts)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			e := errorOf(t, body)
			assert.Equal(t, "VALIDATION_ERROR", e["code"])
			assert.Equal(t, tt.field, e["details"].(map[string]any)["field"])

			n, _ := a.queue.Len(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestPostRunTooLarge(t *testing.T) {
	a := newTestAPI(t, 1024)

	resp, body := a.postRun(t, []part{
		{"video", "v.mp4", strings.Repeat("x", 4096)},
		{"audio", "a.wav", "x"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorOf(t, body)["code"])
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestGetRun(t *testing.T) {
	a := newTestAPI(t, 0)
	run := a.seed(t, models.RunSucceeded)

	resp, body := getJSON(t, a.srv.URL+"/runs/"+run.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := body["run"].(map[string]any)
	assert.Equal(t, "SUCCEEDED", got["status"])
	assert.Equal(t, "video_audio.mp4", got["result_name"])
	assert.Equal(t, "/runs/"+run.ID+"/video", got["video_url"])
	assert.Equal(t, "/runs/"+run.ID+"/video?download=1", got["download_url"])
	assert.NotContains(t, got, "ResultKey")

	resp, body = getJSON(t, a.srv.URL+"/runs/"+util.NewRunID())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorOf(t, body)["code"])

	resp, _ = getJSON(t, a.srv.URL+"/runs/not-a-run-id")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	a := newTestAPI(t, 0)
	a.seed(t, models.RunQueued)
	failed := a.seed(t, models.RunFailed)

	resp, body := getJSON(t, a.srv.URL+"/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["runs"], 2)

	resp, body = getJSON(t, a.srv.URL+"/runs?status=failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, failed.ID, runs[0].(map[string]any)["id"])
	assert.Equal(t, "Output video not generated", runs[0].(map[string]any)["error_text"])

	resp, _ = getJSON(t, a.srv.URL+"/runs?status=DONE")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = getJSON(t, a.srv.URL+"/runs?limit=500")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunVideo(t *testing.T) {
	a := newTestAPI(t, 0)
	run := a.seed(t, models.RunSucceeded)

	resp, err := http.Get(a.srv.URL + "/runs/" + run.ID + "/video")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MP4DATA", string(data))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename=video_audio.mp4`, resp.Header.Get("Content-Disposition"))

	resp, err = http.Get(a.srv.URL + "/runs/" + run.ID + "/video?download=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, `attachment; filename=video_audio.mp4`, resp.Header.Get("Content-Disposition"))

	req, _ := http.NewRequest(http.MethodGet, a.srv.URL+"/runs/"+run.ID+"/video", nil)
	req.Header.Set("Range", "bytes=0-2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "MP4", string(data))
}

// signingStorage signs every key under a fixed base URL.
type signingStorage struct {
	ports.StorageProvider
	base string
	err  error
	last ports.SignedURLInput
}

func (s *signingStorage) GetSignedURL(ctx context.Context, in ports.SignedURLInput) (ports.SignedURLOutput, error) {
	s.last = in
	if s.err != nil {
		return ports.SignedURLOutput{}, s.err
	}
	return ports.SignedURLOutput{URL: s.base + "/" + in.ObjectKey + "?sig=abc", ExpiresAt: time.Now().Add(in.ExpiresIn)}, nil
}

func TestRunVideoRedirectsToSignedURL(t *testing.T) {
	signer := &signingStorage{base: "https://bucket.example.com"}
	a := newTestAPI(t, 0, func(sp ports.StorageProvider) ports.StorageProvider {
		signer.StorageProvider = sp
		return signer
	})
	run := a.seed(t, models.RunSucceeded)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(a.srv.URL + "/runs/" + run.ID + "/video?download=1")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://bucket.example.com/"+run.ResultKey+"?sig=abc", resp.Header.Get("Location"))
	assert.Equal(t, run.ResultKey, signer.last.ObjectKey)
	assert.Equal(t, "video/mp4", signer.last.ContentType)
	assert.Equal(t, "attachment; filename=video_audio.mp4", signer.last.ContentDisposition)
	assert.Positive(t, signer.last.ExpiresIn)
}

func TestRunVideoStreamsWhenSigningFails(t *testing.T) {
	signer := &signingStorage{err: assert.AnError}
	a := newTestAPI(t, 0, func(sp ports.StorageProvider) ports.StorageProvider {
		signer.StorageProvider = sp
		return signer
	})
	run := a.seed(t, models.RunSucceeded)

	resp, err := http.Get(a.srv.URL + "/runs/" + run.ID + "/video")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MP4DATA", string(data))
}

func TestRunVideoWithoutResult(t *testing.T) {
	a := newTestAPI(t, 0)

	for _, status := range []models.RunStatus{models.RunFailed, models.RunRunning} {
		run := a.seed(t, status)
		resp, body := getJSON(t, a.srv.URL+"/runs/"+run.ID+"/video")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "RESULT_NOT_FOUND", errorOf(t, body)["code"])
	}
}

func dialEvents(t *testing.T, a *testAPI, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/runs/" + runID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestRunEventsStreamsUntilFinished(t *testing.T) {
	a := newTestAPI(t, 0)
	run := a.seed(t, models.RunRunning)
	conn := dialEvents(t, a, run.ID)

	var snap struct {
		Type string         `json:"type"`
		Run  map[string]any `json:"run"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "RUNNING", snap.Run["status"])

	ctx := context.Background()
	require.NoError(t, a.broker.Publish(ctx, progress.Event{
		Type: progress.EventProgress, RunID: run.ID, Progress: 0.5, ProgressSource: models.ProgressSourceTool,
		Line: "PROGRESS 1/2", LogTail: []string{"PROGRESS 1/2"},
	}))
	var ev progress.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, progress.EventProgress, ev.Type)
	assert.InDelta(t, 0.5, ev.Progress, 1e-9)
	assert.Equal(t, "PROGRESS 1/2", ev.Line)

	require.NoError(t, a.broker.Publish(ctx, progress.Event{Type: progress.EventFinished, RunID: run.ID, Status: models.RunSucceeded, ResultName: "video_audio.mp4"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, progress.EventFinished, ev.Type)
	assert.Equal(t, "video_audio.mp4", ev.ResultName)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestRunEventsFinishedRun(t *testing.T) {
	a := newTestAPI(t, 0)
	run := a.seed(t, models.RunFailed)
	conn := dialEvents(t, a, run.ID)

	var snap map[string]any
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap["type"])

	var ev progress.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, progress.EventFinished, ev.Type)
	assert.Equal(t, models.RunFailed, ev.Status)
	assert.Equal(t, "Output video not generated", ev.ErrorText)
}

func TestRunEventsUnknownRun(t *testing.T) {
	a := newTestAPI(t, 0)
	resp, body := getJSON(t, a.srv.URL+"/runs/"+util.NewRunID()+"/ws")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorOf(t, body)["code"])
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, 0)

	resp, body := getJSON(t, a.srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "checks")

	resp, body = getJSON(t, a.srv.URL+"/health?deep=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"].(map[string]any)["status"])
	assert.Equal(t, "localfs", checks["storage"].(map[string]any)["provider"])
	assert.Equal(t, "disabled", checks["redis"].(map[string]any)["status"])
}

func TestPage(t *testing.T) {
	a := newTestAPI(t, 0)
	resp, err := http.Get(a.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(data), "Batch Size")
	assert.Contains(t, string(data), `accept=".wav,.mp3"`)
}
