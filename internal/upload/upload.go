// Package upload sends a locally selected file to the backend and records the
// handle the backend returns for it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
)

// ErrUploadRejected matches every *RejectedError.
var ErrUploadRejected = errors.New("upload rejected")

// RejectedError reports an upload the backend did not accept, or one that
// never reached it.
type RejectedError struct {
	Reason string
	Status int
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload rejected (status %d): %s", e.Status, e.Reason)
	}
	return "upload rejected: " + e.Reason
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool { return target == ErrUploadRejected }

// File is a local file together with its server-side handle.
type File struct {
	ID          uuid.UUID
	LocalPath   string
	Name        string
	ContentType string
	Size        int64
	Handle      string
}

// IsImage reports whether the file previews as a still image.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.ContentType, "image/")
}

// IsVideo reports whether the file previews as a video.
func (f File) IsVideo() bool {
	return strings.HasPrefix(f.ContentType, "video/")
}

// Uploader is the backend surface the coordinator needs.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader, requestID string) (backend.UploadResponse, int, error)
}

// Coordinator performs the upload handshake.
type Coordinator struct {
	backend Uploader
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(b Uploader, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = logger.For("Upload")
	}
	return &Coordinator{backend: b, log: log, metrics: m}
}

// Describe inspects a local file without uploading it.
func Describe(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()
	return describe(path, f)
}

func describe(path string, f *os.File) (File, error) {
	st, err := f.Stat()
	if err != nil {
		return File{}, err
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return File{}, err
	}

	return File{
		ID:          uuid.New(),
		LocalPath:   path,
		Name:        filepath.Base(path),
		ContentType: contentType(path, head[:n]),
		Size:        st.Size(),
	}, nil
}

// videoTypes covers containers missing from mime's builtin table.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

// contentType prefers the extension, since sniffing does not recognise most
// video containers.
func contentType(path string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	ct := http.DetectContentType(head)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return "application/octet-stream"
}

// Upload streams the file at path to the backend. On success the returned
// File carries the handle; on failure the error matches ErrUploadRejected
// unless the local file could not be read at all.
func (c *Coordinator) Upload(ctx context.Context, path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	file, err := describe(path, f)
	if err != nil {
		return File{}, fmt.Errorf("inspect %s: %w", path, err)
	}

	resp, status, err := c.backend.Upload(ctx, file.Name, f, file.ID.String())
	if err != nil {
		return File{}, c.reject(file, &RejectedError{Reason: "upload request failed", Status: status, Err: err})
	}
	if resp.FilePath == "" {
		reason := resp.Error
		if reason == "" {
			reason = "no file handle in response"
		}
		return File{}, c.reject(file, &RejectedError{Reason: reason, Status: status})
	}

	file.Handle = resp.FilePath
	if c.metrics != nil {
		c.metrics.Uploads.Add(1)
		c.metrics.UploadBytes.Add(uint64(file.Size))
	}
	c.log.Infof("uploaded %s (%s, %d bytes) as %s [%s]", file.Name, file.ContentType, file.Size, file.Handle, file.ID)
	return file, nil
}

func (c *Coordinator) reject(file File, err *RejectedError) error {
	if c.metrics != nil {
		c.metrics.UploadsRejected.Add(1)
	}
	c.log.Warnf("upload of %s [%s] failed: %v", file.Name, file.ID, err)
	return err
}
