// videocursor/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocursor/asset"
	"videocursor/classify"
	"videocursor/config"
	"videocursor/edit"
	"videocursor/ffmpeg"
	"videocursor/job"
	"videocursor/resolve"
)

type fakeEngine struct {
	runErr error
}

func (f *fakeEngine) Run(ctx context.Context, op edit.Operation, refs ffmpeg.Refs, onProgress func(int)) (string, error) {
	if f.runErr != nil {
		return "frame= 1 error output", f.runErr
	}
	if onProgress != nil {
		onProgress(100)
	}
	if err := os.WriteFile(refs.Output, []byte("rendered"), 0o600); err != nil {
		return "", err
	}
	return "done", nil
}

func (f *fakeEngine) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	var p ffmpeg.ProbeResult
	p.Format.Duration = "30"
	p.Streams = []ffmpeg.ProbeStream{{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720}}
	return &p, nil
}

type fakeClassifier struct {
	cand *classify.Candidate
	err  error
}

func (f *fakeClassifier) Classify(ctx context.Context, instruction string) (*classify.Candidate, error) {
	return f.cand, f.err
}

func (f *fakeClassifier) Analyze(ctx context.Context, instruction string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(instruction, "better") {
		return "vague", nil
	}
	return "specific", nil
}

type env struct {
	router     *gin.Engine
	store      *asset.Store
	slots      *asset.Slots
	cfg        *config.Config
	engine     *fakeEngine
	classifier *fakeClassifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(os.Stderr)

	cfg := &config.Config{
		MaxConcurrency: 2,
		MaxUploadSize:  10 << 20,
		FFTimeout:      time.Minute,
		DataDir:        t.TempDir(),
	}

	store, err := asset.NewStore(cfg, log)
	require.NoError(t, err)

	slots := asset.NewSlots()
	engine := &fakeEngine{}
	classifier := &fakeClassifier{}
	resolver := resolve.NewResolver(classifier, log)
	manager := job.NewManager(cfg, log, store, slots, engine)
	store.SetInFlight(manager.InFlightFor)

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	t.Cleanup(cancel)

	h := NewHandler(cfg, log, store, slots, resolver, manager, classifier, engine)
	return &env{router: SetupRouter(h), store: store, slots: slots, cfg: cfg, engine: engine, classifier: classifier}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) upload(t *testing.T, filename, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["file_id"].(string)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadProbesAndSelects(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "holiday.mp4", "video bytes")

	current, ok := e.slots.Current("default")
	require.True(t, ok)
	assert.Equal(t, id, current)

	a, err := e.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 30.0, a.Duration)
}

func TestUploadAudioDoesNotSelect(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "track.mp3", "audio bytes")

	_, ok := e.slots.Current("default")
	assert.False(t, ok)
}

func TestListAndDeleteFiles(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = e.do(t, http.MethodDelete, "/api/files/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Selection must not survive the delete.
	_, ok := e.slots.Current("default")
	assert.False(t, ok)

	w = e.do(t, http.MethodDelete, "/api/files/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInfo(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodGet, "/api/info/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, 30.0, resp["duration"])
	assert.NotNil(t, resp["streams"])
}

func TestSelectAndCurrent(t *testing.T) {
	e := newEnv(t)
	first := e.upload(t, "a.mp4", "x")
	second := e.upload(t, "b.mp4", "y")

	// Upload of b made it current; select a again.
	w := e.do(t, http.MethodPost, "/api/select", gin.H{"file_id": first})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, first, resp["file_id"])
	assert.NotEqual(t, second, resp["file_id"])

	w = e.do(t, http.MethodPost, "/api/select", gin.H{"file_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrimEndpoint(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodPost, "/api/trim", gin.H{
		"file_id": id, "start_time": 5, "end_time": 20,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "completed", resp["status"])
	outputID := resp["output_id"].(string)
	require.NotEmpty(t, outputID)
	assert.Contains(t, resp["download_url"], "/api/download/"+outputID)

	// The result became the working asset.
	current, _ := e.slots.Current("default")
	assert.Equal(t, outputID, current)

	derived, err := e.store.Get(outputID)
	require.NoError(t, err)
	assert.Equal(t, id, derived.DerivedFrom)
}

func TestTrimValidationError(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodPost, "/api/trim", gin.H{"start_time": 20, "end_time": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditWithoutSelection(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/trim", gin.H{"start_time": 0, "end_time": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditUnknownFileID(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodPost, "/api/trim", gin.H{
		"file_id": "does-not-exist", "start_time": 0, "end_time": 5,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "file not found")
}

func TestEditFailurePayload(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")
	e.engine.runErr = errors.New("encoder blew up")

	w := e.do(t, http.MethodPost, "/api/trim", gin.H{"start_time": 0, "end_time": 5})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["error"], "encoder blew up")
	assert.NotEmpty(t, resp["job_id"])
	assert.Contains(t, resp, "progress")
}

func TestEditUsesCurrentSelection(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodPost, "/api/gif", gin.H{"start_time": 0, "duration": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	derived, err := e.store.Get(resp["output_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, id, derived.DerivedFrom)
	assert.Equal(t, ".gif", derived.Ext())
}

func TestBackgroundAudioEndpoint(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")
	track := e.upload(t, "track.mp3", "audio")

	w := e.do(t, http.MethodPost, "/api/audio/background", gin.H{
		"audio_file_id": track, "volume": 0.3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/audio/background", gin.H{
		"audio_file_id": "missing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOutputsListingAndDownload(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodPost, "/api/convert", gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	outputID := decode(t, w)["output_id"].(string)

	w = e.do(t, http.MethodGet, "/api/outputs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), outputID)

	w = e.do(t, http.MethodGet, "/api/download/"+outputID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "edited_clip.mp4")
	assert.Equal(t, "rendered", w.Body.String())

	w = e.do(t, http.MethodGet, "/api/outputs/"+outputID+".mp4", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPreview(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "original bytes")

	w := e.do(t, http.MethodGet, "/api/preview/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "original bytes", w.Body.String())
}

func TestAIEditCompletes(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")
	e.classifier.cand = &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"start_time": 0, "end_time": 10},
	}

	w := e.do(t, http.MethodPost, "/api/ai/edit", gin.H{"prompt": "keep the first 10 seconds"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "completed", resp["status"])
	assert.NotEmpty(t, resp["output_id"])
}

func TestAIEditConversational(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")
	e.classifier.cand = &classify.Candidate{Actionable: false, Reply: "Hello!"}

	w := e.do(t, http.MethodPost, "/api/ai/edit", gin.H{"prompt": "hi there"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "conversation", resp["status"])
	assert.Equal(t, "Hello!", resp["reply"])
}

func TestAIEditNoSelection(t *testing.T) {
	e := newEnv(t)
	e.classifier.cand = &classify.Candidate{Actionable: true, Kind: "trim"}

	w := e.do(t, http.MethodPost, "/api/ai/edit", gin.H{"prompt": "trim it"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "conversation", resp["status"])
	assert.Equal(t, resolve.ReasonNoAsset, resp["reason"])
}

func TestAIEditClassifierDown(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "clip.mp4", "x")
	e.classifier.err = classify.ErrUnavailable

	w := e.do(t, http.MethodPost, "/api/ai/edit", gin.H{"prompt": "trim it"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// streamGet hits an SSE endpoint through a real server; the recorder
// cannot carry a stream.
func (e *env) streamGet(t *testing.T, path string) (int, http.Header, string) {
	t.Helper()
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, string(body)
}

func TestAIEditStream(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")
	e.classifier.cand = &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"start_time": 0, "end_time": 10},
	}

	code, header, body := e.streamGet(t, "/api/ai/edit/stream/"+id+"?prompt=trim+the+start")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, header.Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:completed")
	assert.Contains(t, body, "download_url")
	assert.Contains(t, body, "job_id")
}

func TestAIEditStreamErrorEvent(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")
	e.engine.runErr = errors.New("encoder blew up")
	e.classifier.cand = &classify.Candidate{
		Actionable: true,
		Kind:       "trim",
		Params:     map[string]interface{}{"start_time": 0, "end_time": 10},
	}

	code, _, body := e.streamGet(t, "/api/ai/edit/stream/"+id+"?prompt=trim+the+start")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "event:error")
	assert.Contains(t, body, "encoder blew up")
	assert.Contains(t, body, "job_id")
}

func TestAIEditStreamRequiresPrompt(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")

	w := e.do(t, http.MethodGet, "/api/ai/edit/stream/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/ai/analyze", gin.H{"prompt": "make it look better"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vague", decode(t, w)["type"])

	w = e.do(t, http.MethodPost, "/api/ai/analyze", gin.H{"prompt": "cut the first 5 seconds"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "specific", decode(t, w)["type"])
}

func TestAuthMiddleware(t *testing.T) {
	e := newEnv(t)
	e.cfg.AuthEnable = true
	e.cfg.AuthKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionIsolation(t *testing.T) {
	e := newEnv(t)
	id := e.upload(t, "clip.mp4", "x")
	_ = id

	req := httptest.NewRequest(http.MethodGet, "/api/current", nil)
	req.Header.Set("X-Session-ID", "other-session")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
