// Package scanstat tracks per-process scan state: when a process started,
// when it was last scanned, and which worker (if any) currently owns it.
//
// Table replaces the fixed-size PID array of the original scanner (unsafe on
// systems where PIDs exceed a hardcoded bound) with a concurrent map keyed by
// Pid. All mutation happens either under the table's own mutex (touch_start,
// mark_stop) or is delegated to the Scheduler, which holds a single
// serialization latch around the whole decision+spawn path (see
// internal/scheduler).
package scanstat

import (
	"errors"
	"sync"
	"time"
)

// Pid is an OS process identifier.
type Pid uint32

// ErrSchedulingConflict is returned by SetWorker when a worker handle is
// already registered for the PID and has not been joined. Under a correct
// Scheduler this is internally impossible; its occurrence indicates a bug in
// the caller's serialization.
var ErrSchedulingConflict = errors.New("scanstat: scheduling conflict: worker already active for pid")

// Worker is the minimal handle a scheduler needs to join an in-flight scan.
// *sync.WaitGroup and similar types satisfy this via a small adapter; the
// Scheduler uses a function value returned by the spawn call.
type Worker interface {
	// Join blocks until the worker has finished.
	Join()
}

// WorkerFunc adapts a join function to the Worker interface.
type WorkerFunc func()

// Join implements Worker.
func (f WorkerFunc) Join() { f() }

// Entry is one process's tracked scan state.
type Entry struct {
	StartTime     time.Time
	CooldownUntil time.Time
	LastScanStart time.Time
	LastScanEnd   time.Time
	worker        Worker
}

// snapshot returns a value copy safe to read without holding the table lock.
func (e Entry) snapshot() Entry { return e }

// Table is the concurrent ProcessStat table, C1 of the scan orchestrator.
type Table struct {
	mu      sync.Mutex
	entries map[Pid]*Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[Pid]*Entry)}
}

// lockedEntry returns the entry for pid, creating it if absent. Caller must
// hold t.mu.
func (t *Table) lockedEntry(pid Pid) *Entry {
	e, ok := t.entries[pid]
	if !ok {
		e = &Entry{}
		t.entries[pid] = e
	}
	return e
}

// TouchStart records that pid has just been observed starting. It sets
// start_time, zeroes all other fields, and joins-and-releases any prior
// worker — a PID that just STARTed cannot have an outstanding scan from a
// prior incarnation (the OS reuses PIDs).
func (t *Table) TouchStart(pid Pid, now time.Time) {
	t.mu.Lock()
	e, ok := t.entries[pid]
	if !ok {
		e = &Entry{}
		t.entries[pid] = e
	}
	prior := e.worker
	t.mu.Unlock()

	if prior != nil {
		prior.Join()
	}

	t.mu.Lock()
	*e = Entry{StartTime: now}
	t.mu.Unlock()
}

// MarkStop joins-and-releases the worker for pid and purges its entry. It is
// a no-op if pid was never tracked.
func (t *Table) MarkStop(pid Pid) {
	t.mu.Lock()
	e, ok := t.entries[pid]
	if ok {
		delete(t.entries, pid)
	}
	t.mu.Unlock()

	if ok && e.worker != nil {
		e.worker.Join()
	}
}

// Get returns a snapshot of pid's entry and whether it is tracked.
func (t *Table) Get(pid Pid) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pid]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// BeginScan sets last_scan_start = now and last_scan_end = zero for pid,
// creating the entry lazily if pid was never seen via TouchStart (e.g. a
// polling-mode scan of a pre-existing process).
func (t *Table) BeginScan(pid Pid, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lockedEntry(pid)
	e.LastScanStart = now
	e.LastScanEnd = time.Time{}
}

// EndScan sets last_scan_end = now for pid. Safe to call even if the entry
// was purged concurrently by MarkStop (the call is then a no-op).
func (t *Table) EndScan(pid Pid, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pid]
	if !ok {
		return
	}
	e.LastScanEnd = now
}

// RollbackScanStart undoes a BeginScan after a failed worker spawn, so the
// next event can retry. It clears last_scan_start only if no end has been
// recorded in the meantime.
func (t *Table) RollbackScanStart(pid Pid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pid]
	if !ok {
		return
	}
	if e.LastScanEnd.IsZero() {
		e.LastScanStart = time.Time{}
	}
}

// SetWorker registers handle as the active worker for pid. It does not
// itself block: if a worker handle is already registered for pid and has
// not been joined (via MarkStop, ClearWorker, or TouchStart's prior-worker
// join), SetWorker returns ErrSchedulingConflict rather than overwriting
// it. The Scheduler calls SetWorker without joining first; it relies on
// single-flight (BeginScan) to keep a second worker for the same PID from
// being spawned.
func (t *Table) SetWorker(pid Pid, handle Worker) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lockedEntry(pid)
	if e.worker != nil {
		return ErrSchedulingConflict
	}
	e.worker = handle
	return nil
}

// ClearWorker removes the worker handle for pid, if any.
func (t *Table) ClearWorker(pid Pid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[pid]; ok {
		e.worker = nil
	}
}

// ArmCooldown sets cooldown_until = now.Add(d) for pid.
func (t *Table) ArmCooldown(pid Pid, now time.Time, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lockedEntry(pid)
	e.CooldownUntil = now.Add(d)
}

// Shutdown joins every outstanding worker in the table and clears it. After
// Shutdown returns, no worker handles remain (the "no leak" invariant).
func (t *Table) Shutdown() {
	t.mu.Lock()
	workers := make([]Worker, 0, len(t.entries))
	for _, e := range t.entries {
		if e.worker != nil {
			workers = append(workers, e.worker)
			e.worker = nil
		}
	}
	t.entries = make(map[Pid]*Entry)
	t.mu.Unlock()

	for _, w := range workers {
		w.Join()
	}
}

// Len returns the number of tracked PIDs. Intended for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
