// Package poller runs the repeating fetch, normalize and render cycle that
// keeps the detections table current.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/timeutil"
)

// DefaultInterval is the refresh period used by the preview controller.
const DefaultInterval = 800 * time.Millisecond

// Source fetches the raw detection list.
type Source interface {
	FetchDetections(ctx context.Context) ([]detection.Raw, error)
}

// Sink receives each accepted detection list.
type Sink interface {
	Render(items []detection.Canonical)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(items []detection.Canonical)

// Render calls f.
func (f SinkFunc) Render(items []detection.Canonical) { f(items) }

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real ticker source.
func WithClock(c timeutil.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithMetrics enables cycle accounting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// Poller keeps at most one schedule alive. Each tick runs its own cycle, so a
// slow fetch never delays the next one; a response that arrives after Stop, or
// after a newer response was rendered, is dropped.
type Poller struct {
	src     Source
	sink    Sink
	clock   timeutil.Clock
	log     *logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	gen      uint64
	running  bool
	cancel   context.CancelFunc
	seq      uint64 // last sequence number handed out
	rendered uint64 // sequence number of the last rendered response
	wg       sync.WaitGroup
}

// New creates a stopped poller.
func New(src Source, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		src:   src,
		sink:  sink,
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.For("Poller")
	}
	return p
}

// Start replaces any running schedule with a new one: one cycle right away,
// then one per interval. Fetches use ctx; cancelling it ends the schedule too.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	p.stopLocked()
	p.gen++
	gen := p.gen
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	ticker := p.clock.NewTicker(interval)
	if p.metrics != nil {
		p.metrics.PollersActive.Store(1)
	}
	p.mu.Unlock()

	p.log.Debugf("polling every %v", interval)

	p.spawn(ctx, gen)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				p.spawn(ctx, gen)
			}
		}
	}()
}

// Stop ends the schedule. It is idempotent and safe before Start. In-flight
// fetches finish but their results are never rendered.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.stopLocked()
	p.gen++
	p.log.Debugf("polling stopped")
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
	if p.metrics != nil {
		p.metrics.PollersActive.Store(0)
	}
}

// Active reports whether a schedule is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Wait blocks until every schedule and cycle goroutine started so far has
// returned. Fetches that never resolve keep it blocked.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) spawn(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.cycle(ctx, gen, seq)
	}()
}

func (p *Poller) cycle(ctx context.Context, gen, seq uint64) {
	if p.metrics != nil {
		p.metrics.PollCycles.Add(1)
	}

	raws, err := p.src.FetchDetections(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.PollFailures.Add(1)
		}
		p.log.Debugf("poll #%d failed: %v", seq, err)
		return
	}
	items := detection.NormalizeAll(raws)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || !p.running || seq < p.rendered {
		if p.metrics != nil {
			p.metrics.PollDiscarded.Add(1)
		}
		p.log.Debugf("poll #%d discarded (gen %d/%d, last rendered #%d)", seq, gen, p.gen, p.rendered)
		return
	}
	p.rendered = seq
	p.sink.Render(items)
	if p.metrics != nil {
		p.metrics.RowsRendered.Add(uint64(len(items)))
		p.metrics.LastRowCount.Store(uint64(len(items)))
	}
}
