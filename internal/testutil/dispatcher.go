package testutil

import "sync"

// ManualDispatcher queues tasks instead of running them, so a test decides
// when an adapter call "completes".
//
// Thread-safety: safe for concurrent use via internal mutex.
type ManualDispatcher struct {
	mu    sync.Mutex
	tasks []func()
}

// NewManualDispatcher creates an empty dispatcher.
func NewManualDispatcher() *ManualDispatcher {
	return &ManualDispatcher{}
}

// Go queues task.
func (d *ManualDispatcher) Go(task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
}

// Pending returns the number of queued tasks.
func (d *ManualDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// RunNext runs the oldest queued task. Returns false if none was queued.
func (d *ManualDispatcher) RunNext() bool {
	d.mu.Lock()
	if len(d.tasks) == 0 {
		d.mu.Unlock()
		return false
	}
	task := d.tasks[0]
	d.tasks = d.tasks[1:]
	d.mu.Unlock()

	task()
	return true
}

// RunAll runs queued tasks until none are left and returns how many ran.
func (d *ManualDispatcher) RunAll() int {
	n := 0
	for d.RunNext() {
		n++
	}
	return n
}

// Discard drops all queued tasks without running them.
func (d *ManualDispatcher) Discard() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	d.tasks = nil
	return n
}
