package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/upload"
)

// Kind identifies what a mounted element shows.
type Kind string

const (
	KindNone   Kind = "none"
	KindStream Kind = "stream"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
)

// Info describes a mounted element.
type Info struct {
	Kind        Kind   `json:"kind"`
	URL         string `json:"url,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Element is whatever currently occupies the preview container.
type Element interface {
	Info() Info
	// Close detaches the element. Nothing it owns reaches the container
	// after Close returns.
	Close()
}

// FrameSink is the preview container's image surface.
type FrameSink interface {
	Publish(jpeg []byte)
}

// VideoSlot exposes a local video file to the console's video element.
type VideoSlot interface {
	SetVideo(path, contentType string)
	ClearVideo()
}

// StreamOpener starts a streaming GET.
type StreamOpener interface {
	OpenStream(ctx context.Context, url string) (*http.Response, error)
}

// Mounter creates preview elements. Mounting never fails: a stream that cannot
// be opened or a file that cannot be decoded leaves a placeholder visible,
// just as a broken <img> would.
type Mounter struct {
	ctx      context.Context
	opener   StreamOpener
	frames   FrameSink
	video    VideoSlot
	maxWidth int
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// MounterConfig wires a Mounter.
type MounterConfig struct {
	Opener   StreamOpener
	Frames   FrameSink
	Video    VideoSlot // optional
	MaxWidth int
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
}

// NewMounter creates a Mounter whose streams live no longer than ctx.
func NewMounter(ctx context.Context, cfg MounterConfig) *Mounter {
	m := &Mounter{
		ctx:      ctx,
		opener:   cfg.Opener,
		frames:   cfg.Frames,
		video:    cfg.Video,
		maxWidth: cfg.MaxWidth,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if m.maxWidth <= 0 {
		m.maxWidth = DefaultMaxWidth
	}
	if m.log == nil {
		m.log = logger.For("Media")
	}
	return m
}

// element guards publishing so a closed element goes quiet at once.
type element struct {
	info Info
	m    *Mounter

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	onClose func()
}

func (e *element) Info() Info { return e.info }

func (e *element) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	if e.onClose != nil {
		e.onClose()
	}
}

func (e *element) publish(frame []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.m.frames.Publish(frame)
	if e.m.metrics != nil {
		e.m.metrics.PreviewFrames.Add(1)
	}
	return true
}

func (e *element) placeholder(lines ...string) {
	frame, err := Placeholder(lines...)
	if err != nil {
		e.m.log.Errorf("placeholder: %v", err)
		return
	}
	e.publish(frame)
}

// MountStream consumes the MJPEG stream at url and republishes every frame.
// When the stream ends the last frame stays up; there is no reconnect.
func (m *Mounter) MountStream(url string) Element {
	ctx, cancel := context.WithCancel(m.ctx)
	e := &element{info: Info{Kind: KindStream, URL: url}, m: m, cancel: cancel}
	e.placeholder("Connecting...", url)

	go func() {
		defer cancel()
		n, err := m.readStream(ctx, url, e)
		switch {
		case ctx.Err() != nil:
			m.log.Debugf("stream %s closed after %d frames", url, n)
		case err != nil:
			if m.metrics != nil {
				m.metrics.StreamErrors.Add(1)
			}
			m.log.Warnf("stream %s failed after %d frames: %v", url, n, err)
			if n == 0 {
				e.placeholder("Stream unavailable", url)
			}
		default:
			m.log.Infof("stream %s ended after %d frames", url, n)
		}
	}()
	return e
}

func (m *Mounter) readStream(ctx context.Context, url string, e *element) (int, error) {
	resp, err := m.opener.OpenStream(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return ReadMJPEG(resp.Header.Get("Content-Type"), resp.Body, func(frame []byte) bool {
		return e.publish(frame)
	})
}

// ReadMJPEG splits a multipart/x-mixed-replace body into parts and hands each
// non-empty part to fn until fn returns false or the body ends. It reports
// how many frames were delivered.
func ReadMJPEG(contentType string, body io.Reader, fn func(frame []byte) bool) (int, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0, fmt.Errorf("content type %q: %w", contentType, err)
	}
	boundary := params["boundary"]
	if mediaType != "multipart/x-mixed-replace" || boundary == "" {
		return 0, fmt.Errorf("not an MJPEG stream: %q", contentType)
	}

	mr := multipart.NewReader(body, boundary)
	n := 0
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		frame, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return n, err
		}
		if len(frame) == 0 {
			continue
		}
		if !fn(frame) {
			return n, nil
		}
		n++
	}
}

// MountFile previews a local file: images are decoded and published once,
// videos go to the video slot.
func (m *Mounter) MountFile(f upload.File) Element {
	e := &element{
		info: Info{Kind: KindImage, URL: f.LocalPath, Name: f.Name, ContentType: f.ContentType},
		m:    m,
	}
	if !f.IsImage() {
		e.info.Kind = KindVideo
		if m.video != nil {
			m.video.SetVideo(f.LocalPath, f.ContentType)
			e.onClose = m.video.ClearVideo
		}
		e.placeholder("Local file", f.Name)
		return e
	}

	frame, err := m.decodeFile(f.LocalPath)
	if err != nil {
		m.log.Warnf("preview %s: %v", f.Name, err)
		e.placeholder("Cannot preview", f.Name)
		return e
	}
	e.publish(frame)
	return e
}

func (m *Mounter) decodeFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return PreviewImage(fh, m.maxWidth)
}

// Unmount leaves the container empty.
func (m *Mounter) Unmount() {
	frame, err := Placeholder("No source selected")
	if err != nil {
		m.log.Errorf("placeholder: %v", err)
		return
	}
	m.frames.Publish(frame)
}
