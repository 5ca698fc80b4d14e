// Package timeutil abstracts tickers so repeating loops can be driven by hand in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock creates tickers.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker holds a channel that delivers ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// NewTicker returns a time.Ticker wrapper.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// ManualClock hands out tickers that only fire when Tick is called.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*ManualTicker
}

// NewManualClock creates a ManualClock starting at now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// NewTicker registers a new manual ticker. The period is recorded but unused.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ManualTicker{ch: make(chan time.Time, 1), Period: d}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances the clock by one period of the most recent ticker and fires
// every live ticker. It reports how many tickers fired.
func (c *ManualClock) Tick() int {
	c.mu.Lock()
	tickers := append([]*ManualTicker(nil), c.tickers...)
	if n := len(tickers); n > 0 {
		c.now = c.now.Add(tickers[n-1].Period)
	}
	now := c.now
	c.mu.Unlock()

	fired := 0
	for _, t := range tickers {
		if t.fire(now) {
			fired++
		}
	}
	return fired
}

// Tickers returns every ticker handed out so far.
func (c *ManualClock) Tickers() []*ManualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ManualTicker(nil), c.tickers...)
}

// ManualTicker is a Ticker controlled by ManualClock.
type ManualTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
	Period  time.Duration
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop turns the ticker off.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *ManualTicker) fire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	select {
	case t.ch <- now:
	default:
		// Like time.Ticker, a slow reader loses ticks.
	}
	return true
}
