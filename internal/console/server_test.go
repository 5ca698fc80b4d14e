package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/media"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/preview"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/render"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/upload"
)

type fakeController struct {
	mu        sync.Mutex
	snap      preview.Snapshot
	observers []func(preview.Snapshot)
	runErr    error
	fileErr   error
	gotPath   string
	gotData   string
}

func (c *fakeController) set(state preview.State, info media.Info) {
	c.snap = preview.Snapshot{State: state, Media: info, Polling: state.Processed()}
	for _, fn := range c.observers {
		fn(c.snap)
	}
}

func (c *fakeController) SelectLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(preview.Camera, media.Info{Kind: media.KindStream, URL: "/video_feed?mode=raw"})
}

func (c *fakeController) SelectFile(ctx context.Context, path string) (upload.File, error) {
	data, _ := os.ReadFile(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gotPath, c.gotData = path, string(data)
	if c.fileErr != nil {
		return upload.File{}, c.fileErr
	}
	c.set(preview.File, media.Info{Kind: media.KindVideo, URL: path, Name: filepath.Base(path)})
	return upload.File{LocalPath: path, Name: filepath.Base(path), Handle: "uploads/x"}, nil
}

func (c *fakeController) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runErr != nil {
		return c.runErr
	}
	c.set(preview.ProcessedCamera, media.Info{Kind: media.KindStream, URL: "/video_feed?mode=processed"})
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(preview.None, media.Info{Kind: media.KindNone})
}

func (c *fakeController) Snapshot() preview.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeController) OnChange(fn func(preview.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

type fixture struct {
	ctrl    *fakeController
	server  *Server
	frames  *FrameBroadcaster
	rows    *RowStore
	video   *VideoSlot
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T, rate int) *fixture {
	t.Helper()
	m := metrics.New()
	f := &fixture{
		ctrl:    &fakeController{snap: preview.Snapshot{State: preview.None, Media: media.Info{Kind: media.KindNone}}},
		frames:  NewFrameBroadcaster(logger.Discard(), m),
		rows:    NewRowStore(logger.Discard()),
		video:   &VideoSlot{},
		metrics: m,
	}
	f.server = NewServer(Config{
		Controller:   f.ctrl,
		Frames:       f.frames,
		Rows:         f.rows,
		Video:        f.video,
		Metrics:      m,
		Logger:       logger.Discard(),
		ActionRate:   rate,
		ActionWindow: time.Minute,
		SpoolDir:     t.TempDir(),
	})
	t.Cleanup(func() { _ = f.server.Close() })
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func multipartBody(t *testing.T, field, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, _ = part.Write([]byte(content))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func sampleRows() []render.Row {
	return []render.Row{
		{ID: "child_1", Label: "child", Confidence: "0.91", Timestamp: "NA", Posture: "sitting", Motion: "0.12", ScaleHint: "Yes", Thumbnail: render.Thumbnail{Text: render.Placeholder}, Highlight: true},
		{ID: "NA", Label: "man", Confidence: "NA", Timestamp: "NA", Posture: "NA", Motion: "NA", ScaleHint: "No", Thumbnail: render.Thumbnail{Text: render.Placeholder}},
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/preview/stream")
}

func TestStateAndActions(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "None", decodeBody(t, rec)["state"])

	rec = f.do(http.MethodPost, "/api/source/live", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Camera", decodeBody(t, rec)["state"])

	rec = f.do(http.MethodPost, "/api/run", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ProcessedCamera", body["state"])
	assert.Equal(t, true, body["polling"])

	rec = f.do(http.MethodPost, "/api/stop", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "None", decodeBody(t, rec)["state"])
}

func TestActionErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(c *fakeController)
		target string
		file   bool
		status int
	}{
		{
			name:   "invalid transition",
			setup:  func(c *fakeController) { c.runErr = &preview.TransitionError{From: preview.None, Action: "run", Err: preview.ErrNoSource} },
			target: "/api/run",
			status: http.StatusConflict,
		},
		{
			name:   "upload rejected",
			setup:  func(c *fakeController) { c.fileErr = &upload.RejectedError{Reason: "No selected file", Status: 400} },
			target: "/api/source/file",
			file:   true,
			status: http.StatusBadGateway,
		},
		{
			name:   "superseded",
			setup:  func(c *fakeController) { c.fileErr = preview.ErrSuperseded },
			target: "/api/source/file",
			file:   true,
			status: http.StatusConflict,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 10)
			tc.setup(f.ctrl)

			var rec *httptest.ResponseRecorder
			if tc.file {
				body, ct := multipartBody(t, "file", "clip.mp4", "bytes")
				rec = f.do(http.MethodPost, tc.target, body, ct)
			} else {
				rec = f.do(http.MethodPost, tc.target, nil, "")
			}
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
			assert.Equal(t, "None", f.ctrl.Snapshot().State.String())
		})
	}
}

func TestSelectFileBadRequests(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(http.MethodPost, "/api/source/file", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t, "other", "clip.mp4", "bytes")
	rec = f.do(http.MethodPost, "/api/source/file", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ctrl.gotPath)
}

func TestSelectFileSpoolsAndPrunes(t *testing.T) {
	f := newFixture(t, 10)

	body, ct := multipartBody(t, "file", "first.mp4", "first-bytes")
	rec := f.do(http.MethodPost, "/api/source/file", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File", decodeBody(t, rec)["state"])

	first := f.ctrl.gotPath
	assert.Equal(t, "first.mp4", filepath.Base(first))
	assert.Equal(t, "first-bytes", f.ctrl.gotData)
	assert.FileExists(t, first)

	body, ct = multipartBody(t, "file", "second.mp4", "second-bytes")
	rec = f.do(http.MethodPost, "/api/source/file", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	second := f.ctrl.gotPath
	assert.FileExists(t, second)
	assert.NoFileExists(t, first)

	require.NoError(t, f.server.Close())
	assert.NoFileExists(t, second)
}

func TestRejectedUploadRemovesSpool(t *testing.T) {
	f := newFixture(t, 10)
	f.ctrl.fileErr = &upload.RejectedError{Reason: "boom"}

	body, ct := multipartBody(t, "file", "clip.mp4", "bytes")
	rec := f.do(http.MethodPost, "/api/source/file", body, ct)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NoFileExists(t, f.ctrl.gotPath)
}

func TestActionsAreRateLimited(t *testing.T) {
	f := newFixture(t, 1)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/stop", nil, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/stop", nil, "").Code)
	// Limits are per route.
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/source/live", nil, "").Code)
	// Reads are not limited.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/state", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/state", nil, "").Code)
}

func TestDetectionsSnapshot(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(http.MethodGet, "/api/detections", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty RowsPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Equal(t, render.Columns, empty.Columns)
	assert.Empty(t, empty.Rows)
	assert.Zero(t, empty.Version)

	f.rows.Replace(sampleRows())
	rec = f.do(http.MethodGet, "/api/detections", nil, "")
	var got RowsPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, sampleRows(), got.Rows)
}

// firstEvent reads the first SSE data line.
func firstEvent(t *testing.T, resp *http.Response) string {
	t.Helper()
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("no event: %v", sc.Err())
	return ""
}

func TestDetectionsStreamJSONAndProtobuf(t *testing.T) {
	f := newFixture(t, 10)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	f.rows.Replace(sampleRows())

	resp, err := http.Get(srv.URL + "/api/detections/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

	var payload RowsPayload
	require.NoError(t, json.Unmarshal([]byte(firstEvent(t, resp)), &payload))
	assert.Equal(t, uint64(1), payload.Version)
	require.Len(t, payload.Rows, 2)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/detections/stream", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	pbResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pbResp.Body.Close()
	assert.Equal(t, "application/protobuf", pbResp.Header.Get("X-Content-Format"))

	raw, err := base64.StdEncoding.DecodeString(firstEvent(t, pbResp))
	require.NoError(t, err)
	st := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(raw, st))
	assert.Equal(t, 1.0, st.Fields["version"].GetNumberValue())
	rows := st.Fields["rows"].GetListValue().GetValues()
	require.Len(t, rows, 2)
	assert.Equal(t, "child", rows[0].GetStructValue().Fields["label"].GetStringValue())
}

func TestPreviewStreamReplaysLatestFrame(t *testing.T) {
	f := newFixture(t, 10)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	frame, err := media.Placeholder("hello")
	require.NoError(t, err)
	f.frames.Publish(frame)

	resp, err := http.Get(srv.URL + "/preview/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	// The next boundary closes the replayed part.
	f.frames.Publish(frame)

	var got []byte
	_, err = media.ReadMJPEG(resp.Header.Get("Content-Type"), resp.Body, func(b []byte) bool {
		got = b
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, frame, got)
	assert.Equal(t, int64(1), f.metrics.ConsoleClients.Load())
}

func TestPreviewFile(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(http.MethodGet, "/preview/file", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	f.video.SetVideo(path, "video/mp4")

	req := httptest.NewRequest(http.MethodGet, "/preview/file", nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "2345", rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))

	f.video.ClearVideo()
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/preview/file", nil, "").Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console_poll_cycles_total")
}

func TestWebSocketControl(t *testing.T) {
	f := newFixture(t, 10)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	read := func() map[string]any {
		t.Helper()
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	msg := read()
	assert.Equal(t, "state", msg["type"])
	assert.Equal(t, "None", msg["state"])

	f.ctrl.mu.Lock()
	f.ctrl.runErr = &preview.TransitionError{From: preview.None, Action: "run", Err: preview.ErrNoSource}
	f.ctrl.mu.Unlock()
	require.NoError(t, conn.WriteJSON(actionMessage{Action: "run"}))
	msg = read()
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "select Real-time or Local file first")

	require.NoError(t, conn.WriteJSON(actionMessage{Action: "live"}))
	msg = read()
	assert.Equal(t, "state", msg["type"])
	assert.Equal(t, "Camera", msg["state"])

	require.NoError(t, conn.WriteJSON(actionMessage{Action: "dance"}))
	msg = read()
	assert.Equal(t, "error", msg["type"])
}
