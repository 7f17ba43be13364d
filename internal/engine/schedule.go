package engine

import (
	"sync"
	"time"
)

const (
	// defaultSettle is how long the scheduler waits for triggers to stop
	// arriving before a pass runs.
	defaultSettle = 10 * time.Millisecond
	// defaultMaxWait caps how long a continuous stream of triggers can
	// postpone a pass.
	defaultMaxWait = 50 * time.Millisecond
)

// Timers abstracts wall-clock scheduling so tests can advance time by hand.
// AfterFunc returns a stop function with the semantics of time.Timer.Stop.
type Timers interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Dispatcher runs adapter calls off the Run loop.
type Dispatcher interface {
	Go(task func())
}

type realTimers struct{}

func (realTimers) Now() time.Time { return time.Now() }

func (realTimers) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type goDispatcher struct{}

func (goDispatcher) Go(task func()) { go task() }

// debouncer coalesces triggers into one fire call. A burst of triggers
// fires once, defaultSettle after the last trigger, but never later than
// defaultMaxWait after the first one.
//
// Thread-safety: Trigger and Cancel may be called from any goroutine; fire
// runs on the timer's goroutine.
type debouncer struct {
	timers  Timers
	settle  time.Duration
	maxWait time.Duration
	fire    func()

	mu      sync.Mutex
	pending bool
	first   time.Time
	stop    func() bool
	gen     uint64 // invalidates callbacks of stopped timers
}

func newDebouncer(timers Timers, settle, maxWait time.Duration, fire func()) *debouncer {
	if maxWait < settle {
		maxWait = settle
	}
	return &debouncer{timers: timers, settle: settle, maxWait: maxWait, fire: fire}
}

// Trigger requests a fire, restarting the settle window.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.timers.Now()
	if !d.pending {
		d.pending = true
		d.first = now
	}

	wait := d.settle
	if remaining := d.first.Add(d.maxWait).Sub(now); remaining < wait {
		wait = max(remaining, 0)
	}

	if d.stop != nil {
		d.stop()
	}
	d.gen++
	gen := d.gen
	d.stop = d.timers.AfterFunc(wait, func() { d.run(gen) })
}

// Pending reports whether a fire is scheduled.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Cancel drops any scheduled fire.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	d.gen++
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *debouncer) run(gen uint64) {
	d.mu.Lock()
	if !d.pending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.stop = nil
	d.mu.Unlock()

	d.fire()
}
