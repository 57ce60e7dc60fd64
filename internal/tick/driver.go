// Package tick runs handlers at a fixed rate on a single goroutine.
//
// Ticks never overlap: a tick starts only after every handler of the previous
// tick returned. Primary handlers run first in registration order, then the
// after handlers, which are where queued network output gets flushed.
package tick

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	// DefaultResetAfter is how long the time base runs before it restarts.
	DefaultResetAfter = time.Hour
	rateWindow        = 30
)

var (
	ErrRunning     = errors.New("tick: driver already running")
	ErrBadInterval = errors.New("tick: interval must be positive")
)

// Tick describes one pass of the driver.
type Tick struct {
	Seq uint64
	Now time.Time
	// Delay is how late this tick started relative to its schedule.
	Delay time.Duration
}

// Handler is invoked once per tick.
type Handler func(ctx context.Context, t Tick)

type namedHandler struct {
	name string
	fn   Handler
}

type driverKey struct{}

// Driver is a non-overlapping fixed-rate scheduler.
type Driver struct {
	clock      clock.Clock
	log        *zerolog.Logger
	interval   atomic.Int64
	resetAfter time.Duration

	mu      sync.Mutex
	primary []namedHandler
	after   []namedHandler
	stop    chan struct{}
	done    chan struct{}

	statsMu  sync.Mutex
	lengths  [rateWindow]time.Duration
	nLengths int
	next     int
	lastTick time.Time
}

// NewDriver creates a stopped driver.
func NewDriver(interval time.Duration, clk clock.Clock, logger *zerolog.Logger) *Driver {
	l := logger.With().Str("component", "tick").Logger()
	d := &Driver{
		clock:      clk,
		log:        &l,
		resetAfter: DefaultResetAfter,
	}
	d.interval.Store(int64(interval))
	return d
}

// OnTick appends a primary handler.
func (d *Driver) OnTick(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primary = append(d.primary, namedHandler{name: name, fn: h})
}

// AfterTick appends a handler that runs after all primary handlers.
func (d *Driver) AfterTick(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.after = append(d.after, namedHandler{name: name, fn: h})
}

// Interval returns the current tick length.
func (d *Driver) Interval() time.Duration {
	return time.Duration(d.interval.Load())
}

// SetInterval changes the tick length starting with the next tick.
func (d *Driver) SetInterval(iv time.Duration) error {
	if iv <= 0 {
		return ErrBadInterval
	}
	d.interval.Store(int64(iv))
	d.log.Info().Dur("interval", iv).Msg("tick interval changed")
	return nil
}

// Running reports whether the tick goroutine is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop != nil
}

// Start launches the tick goroutine.
func (d *Driver) Start() error {
	if d.Interval() <= 0 {
		return ErrBadInterval
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrRunning
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	d.log.Info().Dur("interval", d.Interval()).Msg("tick driver started")
	return nil
}

// Stop ends the loop after the in-flight tick. It waits for that tick to
// finish unless ctx is one handed to a handler of this driver, in which case
// it returns at once.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	if owner, _ := ctx.Value(driverKey{}).(*Driver); owner == d {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Rate is the measured ticks per second over the last ticks.
func (d *Driver) Rate() float64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if d.nLengths == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < d.nLengths; i++ {
		total += d.lengths[i]
	}
	if total <= 0 {
		return 0
	}
	return float64(d.nLengths) / total.Seconds()
}

func (d *Driver) record(now time.Time) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if !d.lastTick.IsZero() {
		d.lengths[d.next] = now.Sub(d.lastTick)
		d.next = (d.next + 1) % rateWindow
		if d.nLengths < rateWindow {
			d.nLengths++
		}
	}
	d.lastTick = now
}

func (d *Driver) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx := context.WithValue(context.Background(), driverKey{}, d)
	s := newSchedule(d.clock.Now(), d.resetAfter)
	var seq uint64

	for {
		due := s.advance(d.Interval())
		for {
			wait := due.Sub(d.clock.Now())
			if wait <= 0 {
				break
			}
			timer := d.clock.Timer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		select {
		case <-stop:
			return
		default:
		}

		seq++
		now := d.clock.Now()
		t := Tick{Seq: seq, Now: now, Delay: now.Sub(due)}
		d.record(now)

		d.mu.Lock()
		primary, after := d.primary, d.after
		d.mu.Unlock()
		d.fire(ctx, primary, t)
		d.fire(ctx, after, t)

		s.maybeReset(d.clock.Now())
	}
}

func (d *Driver) fire(ctx context.Context, handlers []namedHandler, t Tick) {
	for _, h := range handlers {
		d.invoke(ctx, h, t)
	}
}

func (d *Driver) invoke(ctx context.Context, h namedHandler, t Tick) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("handler", h.name).
				Uint64("tick", t.Seq).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("tick handler panicked")
		}
	}()
	h.fn(ctx, t)
}

// schedule tracks tick deadlines as offsets from a time base that restarts
// periodically.
type schedule struct {
	base       time.Time
	next       time.Duration
	resetAfter time.Duration
}

func newSchedule(now time.Time, resetAfter time.Duration) *schedule {
	return &schedule{base: now, resetAfter: resetAfter}
}

// advance moves to the next deadline and returns it.
func (s *schedule) advance(interval time.Duration) time.Time {
	s.next += interval
	return s.base.Add(s.next)
}

// maybeReset restarts the time base once it has run for resetAfter.
func (s *schedule) maybeReset(now time.Time) bool {
	if now.Sub(s.base) < s.resetAfter {
		return false
	}
	s.base = now
	s.next = 0
	return true
}
