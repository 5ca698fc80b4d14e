// Package preview owns the preview container and the detection poller, and
// moves them together between the five preview sources.
package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/media"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/poller"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/upload"
)

// Mounter puts elements into the preview container.
type Mounter interface {
	MountStream(url string) media.Element
	MountFile(f upload.File) media.Element
	Unmount()
}

// Poller is the detection refresh loop.
type Poller interface {
	Start(ctx context.Context, interval time.Duration)
	Stop()
	Active() bool
}

// Uploader sends a local file to the backend.
type Uploader interface {
	Upload(ctx context.Context, path string) (upload.File, error)
}

// Streams builds backend stream URLs.
type Streams interface {
	StreamURL(mode backend.StreamMode) string
	FileStreamURL(handle string) string
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State    State      `json:"state"`
	FileName string     `json:"file_name,omitempty"`
	Handle   string     `json:"handle,omitempty"`
	Media    media.Info `json:"media"`
	Polling  bool       `json:"polling"`
}

// Deps wires a Controller.
type Deps struct {
	Mounter  Mounter
	Poller   Poller
	Uploader Uploader
	Streams  Streams
	Interval time.Duration // defaults to poller.DefaultInterval
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
}

// Controller is the preview source state machine. Every transition runs under
// one mutex, and leaving a state always closes its media element and stops the
// poller in the same critical section.
type Controller struct {
	ctx      context.Context
	mounter  Mounter
	poller   Poller
	uploader Uploader
	streams  Streams
	interval time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	media     media.Element
	file      *upload.File
	selection uint64
	observers []func(Snapshot)
}

// New creates a controller in None. Polling runs under ctx.
func New(ctx context.Context, deps Deps) *Controller {
	c := &Controller{
		ctx:      ctx,
		mounter:  deps.Mounter,
		poller:   deps.Poller,
		uploader: deps.Uploader,
		streams:  deps.Streams,
		interval: deps.Interval,
		log:      deps.Logger,
		metrics:  deps.Metrics,
	}
	if c.interval <= 0 {
		c.interval = poller.DefaultInterval
	}
	if c.log == nil {
		c.log = logger.For("Preview")
	}
	return c
}

// OnChange registers fn to be called after every successful transition. fn
// runs with the controller locked and must not call back into it.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current source.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{State: c.state, Polling: c.poller.Active(), Media: media.Info{Kind: media.KindNone}}
	if c.media != nil {
		s.Media = c.media.Info()
	}
	if c.file != nil {
		s.FileName = c.file.Name
		s.Handle = c.file.Handle
	}
	return s
}

// SelectLive shows the raw camera stream.
func (c *Controller) SelectLive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selection++
	c.file = nil
	c.releaseLocked()
	c.media = c.mounter.MountStream(c.streams.StreamURL(backend.ModeRaw))
	c.enterLocked(Camera)
}

// SelectFile uploads the file at path and, once the backend accepts it, shows
// a local preview of it. The previously retained handle is dropped as soon as
// the selection is made. A failed upload returns an error matching
// upload.ErrUploadRejected and changes nothing else; an upload overtaken by a
// newer selection returns ErrSuperseded.
func (c *Controller) SelectFile(ctx context.Context, path string) (upload.File, error) {
	c.mu.Lock()
	c.selection++
	sel := c.selection
	c.file = nil
	c.mu.Unlock()

	f, err := c.uploader.Upload(ctx, path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if sel != c.selection {
		c.log.Infof("discarding upload of %s: a newer source was selected", path)
		if err != nil {
			return upload.File{}, errors.Join(ErrSuperseded, err)
		}
		return upload.File{}, ErrSuperseded
	}
	if err != nil {
		return upload.File{}, err
	}

	c.releaseLocked()
	c.media = c.mounter.MountFile(f)
	c.file = &f
	c.enterLocked(File)
	return f, nil
}

// Run switches the selected raw source to its processed stream and starts
// polling detections.
func (c *Controller) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var url string
	var next State
	switch c.state {
	case Camera:
		url, next = c.streams.StreamURL(backend.ModeProcessed), ProcessedCamera
	case File:
		if c.file == nil || c.file.Handle == "" {
			return c.rejectLocked("run", ErrNoUpload)
		}
		url, next = c.streams.FileStreamURL(c.file.Handle), ProcessedFile
	default:
		return c.rejectLocked("run", ErrNoSource)
	}

	c.releaseLocked()
	c.media = c.mounter.MountStream(url)
	c.poller.Start(c.ctx, c.interval)
	c.enterLocked(next)
	return nil
}

// Stop empties the preview container and stops polling.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selection++
	c.file = nil
	c.releaseLocked()
	c.mounter.Unmount()
	c.enterLocked(None)
}

// releaseLocked detaches the media element and stops the poller. The two are
// never torn down separately.
func (c *Controller) releaseLocked() {
	if c.media != nil {
		c.media.Close()
		c.media = nil
	}
	c.poller.Stop()
}

func (c *Controller) enterLocked(next State) {
	prev := c.state
	c.state = next
	if c.metrics != nil {
		c.metrics.ObserveTransition(next.String())
	}
	c.log.Infof("%s -> %s", prev, next)

	snap := c.snapshotLocked()
	for _, fn := range c.observers {
		fn(snap)
	}
}

func (c *Controller) rejectLocked(action string, reason error) error {
	if c.metrics != nil {
		c.metrics.ObserveInvalidTransition(c.state.String())
	}
	err := &TransitionError{From: c.state, Action: action, Err: reason}
	c.log.Warnf("%v", err)
	return err
}
