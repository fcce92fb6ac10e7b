package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/scanstat"
)

func newTestScheduler(t *testing.T, results *[]inspector.ScanResult) (*Scheduler, *scanstat.Table, *inspector.Fake) {
	t.Helper()
	table := scanstat.New()
	fake := inspector.NewFake()
	namer := inspector.NewFakeNamer()
	var mu sync.Mutex
	build := func(pid Pid) inspector.ScanTarget {
		return inspector.ScanTarget{OutDir: "out"}
	}
	sink := func(r inspector.ScanResult) {
		mu.Lock()
		defer mu.Unlock()
		*results = append(*results, r)
	}
	return New(table, fake, namer, build, sink, nil), table, fake
}

func TestRequestScanSingleFlight(t *testing.T) {
	var results []inspector.ScanResult
	sched, table, fake := newTestScheduler(t, &results)

	// Simulate a slow inspector by blocking the fake via a channel gate.
	release := make(chan struct{})
	fake.Default = inspector.Finding{}

	blockingInsp := &blockingInspector{release: release, inner: fake}
	sched.insp = blockingInsp

	sched.RequestScan(context.Background(), 100)
	// A second request while the first is in flight must be dropped.
	sched.RequestScan(context.Background(), 100)

	close(release)
	sched.Shutdown()

	if table.Len() != 0 {
		t.Fatal("expected no leaked entries after shutdown")
	}
	if blockingInsp.calls.Load() != 1 {
		t.Fatalf("expected exactly one scan invocation (single-flight), got %d", blockingInsp.calls.Load())
	}
}

type blockingInspector struct {
	release chan struct{}
	inner   inspector.Inspector
	calls   atomic.Int64
}

func (b *blockingInspector) Inspect(ctx context.Context, pid inspector.Pid, opts inspector.Options) inspector.Finding {
	b.calls.Add(1)
	<-b.release
	return b.inner.Inspect(ctx, pid, opts)
}

// Scenario 2 from spec.md §8: debounce.
func TestRequestScanDebounceWindow(t *testing.T) {
	var results []inspector.ScanResult
	sched, table, _ := newTestScheduler(t, &results)

	sched.RequestScan(context.Background(), 4242)
	sched.Shutdown() // ensure first scan completed synchronously for the test

	// Immediately re-request: must be dropped since we're inside the 1s
	// debounce window following completion.
	sched2, table2, fake2 := newTestScheduler(t, &results)
	now := time.Now()
	table2.BeginScan(4242, now)
	table2.EndScan(4242, now)
	sched2.RequestScan(context.Background(), 4242)
	if fake2.CallCount() != 0 {
		t.Fatal("expected request within debounce window to be dropped")
	}

	if table.Len() != 0 {
		t.Fatal("expected scheduler 1 to have no leaked entries")
	}
}

// Scenario 4 from spec.md §8: allocation gate triggers on RWX and arms cooldown.
func TestAllocationGatedScanTriggersAndArmsCooldown(t *testing.T) {
	var results []inspector.ScanResult
	sched, table, fake := newTestScheduler(t, &results)

	before := time.Now()
	sched.RequestAllocationGatedScan(context.Background(), 77, 0x1000, alwaysExecutable{})
	// Read the entry before Shutdown, which clears the whole table.
	e, ok := table.Get(77)
	sched.Shutdown()

	if fake.CallCount() != 1 {
		t.Fatalf("expected exactly one scan from the allocation gate, got %d", fake.CallCount())
	}
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if !e.CooldownUntil.After(before) {
		t.Fatal("expected cooldown to be armed for roughly 1s from the trigger")
	}
}

// Scenario 3 from spec.md §8: allocation gate drops non-executable regions.
func TestAllocationGatedScanDropsNonExecutable(t *testing.T) {
	var results []inspector.ScanResult
	sched, _, fake := newTestScheduler(t, &results)

	sched.RequestAllocationGatedScan(context.Background(), 77, 0x1000, neverExecutable{})
	sched.Shutdown()

	if fake.CallCount() != 0 {
		t.Fatal("expected no scan when the region is not executable")
	}
}

func TestAllocationGatedScanRespectsCooldown(t *testing.T) {
	var results []inspector.ScanResult
	sched, table, fake := newTestScheduler(t, &results)

	now := time.Now()
	table.ArmCooldown(77, now, 10*time.Second)

	sched.RequestAllocationGatedScan(context.Background(), 77, 0x1000, alwaysExecutable{})
	sched.Shutdown()

	if fake.CallCount() != 0 {
		t.Fatal("expected scan to be dropped while cooldown is active")
	}
}

type alwaysExecutable struct{}

func (alwaysExecutable) IsExecutableAllocation(context.Context, Pid, uintptr) bool { return true }

type neverExecutable struct{}

func (neverExecutable) IsExecutableAllocation(context.Context, Pid, uintptr) bool { return false }

func TestShutdownLeavesNoWorkers(t *testing.T) {
	var results []inspector.ScanResult
	sched, table, _ := newTestScheduler(t, &results)

	for pid := Pid(1); pid <= 10; pid++ {
		sched.RequestScan(context.Background(), pid)
	}
	sched.Shutdown()

	if table.Len() != 0 {
		t.Fatalf("expected no leaked entries, got %d", table.Len())
	}
}
