// Package console serves the operator page: the preview container, the
// detections table and the source controls.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/media"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/preview"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/upload"
)

// maxUploadBytes caps a file posted to /api/source/file.
const maxUploadBytes = 2 << 30

// Controller is the preview state machine as seen by the console.
type Controller interface {
	SelectLive()
	SelectFile(ctx context.Context, path string) (upload.File, error)
	Run() error
	Stop()
	Snapshot() preview.Snapshot
	OnChange(fn func(preview.Snapshot))
}

// Config wires a Server.
type Config struct {
	Controller   Controller
	Frames       *FrameBroadcaster
	Rows         *RowStore
	Video        *VideoSlot
	Metrics      *metrics.Metrics // optional; enables /metrics
	Logger       *logger.Logger
	ActionRate   int
	ActionWindow time.Duration
	SpoolDir     string // where posted files are kept while selected; "" means os.TempDir
}

// Server serves the console endpoints.
type Server struct {
	cfg    Config
	ctrl   Controller
	frames *FrameBroadcaster
	rows   *RowStore
	video  *VideoSlot
	states *EventBroadcaster
	log    *logger.Logger

	spoolMu sync.Mutex
	spools  map[string]bool // spool directory -> upload still in flight
}

// NewServer returns a configured console server.
func NewServer(cfg Config) *Server {
	if cfg.ActionRate <= 0 {
		cfg.ActionRate = 20
	}
	if cfg.ActionWindow <= 0 {
		cfg.ActionWindow = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.For("Console")
	}
	if cfg.Video == nil {
		cfg.Video = &VideoSlot{}
	}

	s := &Server{
		cfg:    cfg,
		ctrl:   cfg.Controller,
		frames: cfg.Frames,
		rows:   cfg.Rows,
		video:  cfg.Video,
		states: NewEventBroadcaster("StateStream", cfg.Logger),
		log:    cfg.Logger,
		spools: make(map[string]bool),
	}
	s.publishState(s.ctrl.Snapshot())
	s.ctrl.OnChange(s.publishState)
	return s
}

// stateMessage is the websocket form of a snapshot.
type stateMessage struct {
	Type string `json:"type"`
	preview.Snapshot
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) publishState(snap preview.Snapshot) {
	data, err := json.Marshal(stateMessage{Type: "state", Snapshot: snap})
	if err != nil {
		s.log.Errorf("state marshal error: %v", err)
		return
	}
	s.states.Publish(&SerializedEvent{JSONData: data})
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	ratelimited := func(method, route string, handle httprouter.Handle) {
		limited := httprate.Limit(s.cfg.ActionRate, s.cfg.ActionWindow, httprate.WithKeyFuncs(httprate.KeyByIP))
		router.Handle(method, route, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, ps)
			})).ServeHTTP(w, r)
		})
	}

	router.GET("/", s.handleIndex)
	router.GET("/preview/stream", s.handlePreviewStream)
	router.GET("/preview/file", s.handlePreviewFile)
	router.HEAD("/preview/file", s.handlePreviewFile)
	router.GET("/api/state", s.handleState)
	router.GET("/api/detections", s.handleDetections)
	router.GET("/api/detections/stream", s.handleDetectionsStream)
	router.GET("/ws", s.handleWebSocket)
	ratelimited(http.MethodPost, "/api/source/live", s.handleSelectLive)
	ratelimited(http.MethodPost, "/api/source/file", s.handleSelectFile)
	ratelimited(http.MethodPost, "/api/run", s.handleRun)
	ratelimited(http.MethodPost, "/api/stop", s.handleStop)
	if s.cfg.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	return router
}

// Close removes every spooled upload.
func (s *Server) Close() error {
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()
	var errs []error
	for dir := range s.spools {
		errs = append(errs, os.RemoveAll(dir))
		delete(s.spools, dir)
	}
	return errors.Join(errs...)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handlePreviewStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.log)
}

func (s *Server) handlePreviewFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.video.ServeHTTP(w, r)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.rows.Snapshot())
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, eventCh := s.rows.Events().Subscribe()
	defer s.rows.Events().Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.log)
}

func (s *Server) handleSelectLive(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.ctrl.SelectLive()
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.ctrl.Run(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.ctrl.Stop()
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	path, err := s.spool(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	_, err = s.ctrl.SelectFile(r.Context(), path)
	s.pruneSpools(filepath.Dir(path))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.ctrl.Snapshot())
}

// pruneSpools marks done as finished and removes every spool directory that
// is neither in flight nor holding the mounted file.
func (s *Server) pruneSpools(done string) {
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()

	keep := ""
	if snap := s.ctrl.Snapshot(); snap.Media.Kind == media.KindImage || snap.Media.Kind == media.KindVideo {
		keep = filepath.Dir(snap.Media.URL)
	}
	s.spools[done] = false
	for dir, inFlight := range s.spools {
		if inFlight || dir == keep {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warnf("remove %s: %v", dir, err)
		}
		delete(s.spools, dir)
	}
}

// spool copies the multipart "file" field into a fresh directory, keeping the
// original base name so the upload carries it.
func (s *Server) spool(r *http.Request) (string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", fmt.Errorf("expected multipart form: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", errors.New("no file part")
		}
		if err != nil {
			return "", err
		}
		if part.FormName() != backend.UploadField {
			part.Close()
			continue
		}
		name := filepath.Base(part.FileName())
		if name == "." || name == "/" || name == "" {
			part.Close()
			return "", errors.New("no selected file")
		}

		dir, err := os.MkdirTemp(s.cfg.SpoolDir, "console-upload-*")
		if err != nil {
			part.Close()
			return "", err
		}
		s.spoolMu.Lock()
		s.spools[dir] = true
		s.spoolMu.Unlock()

		path := filepath.Join(dir, name)
		err = copyToFile(path, part)
		part.Close()
		if err != nil {
			s.pruneSpools(dir)
			return "", err
		}
		return path, nil
	}
}

func copyToFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// statusFor maps controller errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, preview.ErrSuperseded), errors.Is(err, preview.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, upload.ErrUploadRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, statusFor(err))
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
