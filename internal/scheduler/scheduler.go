// Package scheduler implements the Scheduler (C3), the central choke point
// every scan request funnels through. It enforces single-flight and
// debounce semantics for event-driven scans, and the additional cooldown +
// executable-memory gate for allocation-triggered scans.
//
// Concurrency model: a single mutex (the "Scheduler latch", spec.md §5) is
// held only for the duration of the decision + spawn, never across the
// scan itself. Each scan runs on its own goroutine; goroutines are Go's
// idiomatic stand-in for the original design's OS-thread-per-scan model —
// they block the same way from the caller's perspective, so every contract
// in spec.md §4.3 holds unchanged.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

const (
	// debounceWindow is how long after a scan completes duplicate requests
	// for the same PID are dropped (spec.md §4.3 step 3).
	debounceWindow = 1 * time.Second

	// cooldownWindow is how long an allocation-gated scan arms the cooldown
	// for, once it fires (spec.md §4.3, allocation-gated scan step 3).
	cooldownWindow = 1 * time.Second
)

// RegionChecker answers whether the allocation at baseAddress in pid's
// address space currently has an executable protection bit set, walking
// VirtualQueryEx-style memory regions on the real Windows implementation.
type RegionChecker interface {
	IsExecutableAllocation(ctx context.Context, pid Pid, baseAddress uintptr) bool
}

// TargetBuilder builds the per-scan ScanTarget (output directory, unique-dir
// flag, and Inspector options) from the current global configuration and a
// single PID. The Scheduler calls this while holding the latch, so it must
// not block.
type TargetBuilder func(pid Pid) inspector.ScanTarget

// ResultSink receives every completed scan result, normally wired to the
// Report aggregator (C5).
type ResultSink func(inspector.ScanResult)

// Scheduler is C3.
type Scheduler struct {
	mu    sync.Mutex // the Scheduler latch
	table *scanstat.Table

	insp   inspector.Inspector
	namer  inspector.ImageNamer
	build  TargetBuilder
	sink   ResultSink
	logger *slog.Logger

	wg sync.WaitGroup // tracks all spawned scan goroutines, for Shutdown
}

// New constructs a Scheduler. logger may be nil (defaults to slog.Default()).
func New(table *scanstat.Table, insp inspector.Inspector, namer inspector.ImageNamer, build TargetBuilder, sink ResultSink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		table:  table,
		insp:   insp,
		namer:  namer,
		build:  build,
		sink:   sink,
		logger: logger,
	}
}

// RequestScan implements spec.md §4.3's request_scan. It is safe to call
// concurrently from multiple dispatcher callbacks.
func (s *Scheduler) RequestScan(ctx context.Context, pid Pid) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, _ := s.table.Get(pid)

	if s.debounced(entry, now) {
		s.logger.Debug("scheduler: dropping scan request, within debounce window", slog.Uint64("pid", uint64(pid)))
		return
	}

	s.table.BeginScan(pid, now)
	s.spawnLocked(ctx, pid)
}

// debounced implements spec.md §4.3 step 3: while a scan is in flight, and
// for one second after it finishes, suppress duplicates.
func (s *Scheduler) debounced(e scanstat.Entry, now time.Time) bool {
	if e.LastScanStart.IsZero() {
		return false
	}
	if e.LastScanEnd.IsZero() {
		return true // scan currently in flight
	}
	return now.Sub(e.LastScanEnd) <= debounceWindow
}

// RequestAllocationGatedScan implements the allocation-gated scan path of
// spec.md §4.3, invoked only from VirtualAlloc events.
func (s *Scheduler) RequestAllocationGatedScan(ctx context.Context, pid Pid, baseAddress uintptr, regions RegionChecker) {
	s.mu.Lock()

	now := time.Now()
	entry, _ := s.table.Get(pid)
	if !entry.CooldownUntil.IsZero() && entry.CooldownUntil.After(now) {
		s.mu.Unlock()
		s.logger.Debug("scheduler: dropping allocation-gated scan, cooldown active", slog.Uint64("pid", uint64(pid)))
		return
	}
	s.mu.Unlock()

	if !regions.IsExecutableAllocation(ctx, pid, baseAddress) {
		return
	}

	s.mu.Lock()
	// Arm cooldown unconditionally on every executable-allocation-triggered
	// scan (spec.md §9: the original only rearmed when already armed; that
	// is a bug, not the intended behavior).
	s.table.ArmCooldown(pid, now, cooldownWindow)
	s.mu.Unlock()

	s.RequestScan(ctx, pid)
}

// spawnLocked spawns a new scan worker for pid. Caller must hold s.mu. By
// the time this runs, debounce has already ruled out an in-flight worker
// for this pid, so single-flight (spec.md §4.1) holds without an explicit
// join here.
func (s *Scheduler) spawnLocked(ctx context.Context, pid Pid) {
	done := make(chan struct{})
	s.wg.Add(1)
	if err := s.table.SetWorker(pid, scanstatWorker(done)); err != nil {
		// Worker spawn failure: abandon the request, roll back so the next
		// event can retry (spec.md §4.3 failure semantics).
		s.wg.Done()
		s.table.RollbackScanStart(pid)
		s.logger.Warn("scheduler: failed to register worker, rolling back", slog.Uint64("pid", uint64(pid)), slog.Any("error", err))
		return
	}

	go s.runWorker(ctx, pid, done)
}

// runWorker executes the Scanner wrapper and always signals end_scan, even
// if the Inspector panics or the process has exited mid-scan (spec.md §4.3:
// "a worker that crashes or returns an error Finding is still counted as a
// completed scan").
func (s *Scheduler) runWorker(ctx context.Context, pid Pid, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer s.table.ClearWorker(pid)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: worker panicked, treating scan as completed", slog.Uint64("pid", uint64(pid)), slog.Any("panic", r))
		}
		s.table.EndScan(pid, time.Now())
	}()

	target := s.build(pid)
	target.Pid = pid
	result := inspector.Run(ctx, target, s.insp, s.namer)
	if s.sink != nil {
		s.sink(result)
	}
}

// scanstatWorker adapts a done channel to scanstat.Worker.
func scanstatWorker(done chan struct{}) scanstat.WorkerFunc {
	return func() { <-done }
}

// Shutdown joins every outstanding worker (spec.md §4.3's shutdown()).
func (s *Scheduler) Shutdown() {
	s.table.Shutdown()
	s.wg.Wait()
}
