// Package dispatcher implements the Event dispatcher (C6): the routing
// table between EventSource callbacks and the Scheduler, grounded on
// spec.md §4.6 and the provider-callback bodies of etw_listener.cpp. Every
// callback contains its own panics so a misbehaving handler never escapes
// to the EventSource's own thread (spec.md §7: "errors inside the
// dispatcher are contained").
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollows-hunter/agent/internal/eventsource"
	"github.com/hollows-hunter/agent/internal/filter"
	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/scanstat"
	"github.com/hollows-hunter/agent/internal/scheduler"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// delayedLoadWindow is the ImageLoad guard from spec.md §4.6: drop the event
// if the process started this recently.
const delayedLoadWindow = 1 * time.Second

// ScanRequester is the subset of *scheduler.Scheduler the dispatcher drives.
type ScanRequester interface {
	RequestScan(ctx context.Context, pid Pid)
	RequestAllocationGatedScan(ctx context.Context, pid Pid, baseAddress uintptr, regions scheduler.RegionChecker)
}

// StatTable is the subset of *scanstat.Table the dispatcher reads/writes
// directly, independent of any in-flight scan.
type StatTable interface {
	TouchStart(pid Pid, startTime time.Time)
	MarkStop(pid Pid)
	Get(pid Pid) (scanstat.Entry, bool)
}

// Dispatcher is C6.
type Dispatcher struct {
	lists   filter.Lists
	table   StatTable
	sched   ScanRequester
	regions scheduler.RegionChecker
	namer   inspector.ImageNamer
	logger  *slog.Logger
}

// New constructs a Dispatcher. logger may be nil. namer resolves a PID's
// image name for the pid-only Filter checks (TcpIp, VirtualAlloc,
// HandleDuplicate, the ProcessStart parent-PID check), matching the
// original's isWatchedPid, which looks the name up via the OS rather than
// relying on the triggering event to carry one.
func New(lists filter.Lists, table StatTable, sched ScanRequester, regions scheduler.RegionChecker, namer inspector.ImageNamer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{lists: lists, table: table, sched: sched, regions: regions, namer: namer, logger: logger}
}

// resolveName looks up pid's image name via namer, falling back to empty on
// failure (matching the original's getProcessName, which returns an empty
// name for a process it cannot inspect).
func (d *Dispatcher) resolveName(ctx context.Context, pid Pid) string {
	name, err := d.namer.ImageName(ctx, pid)
	if err != nil {
		return ""
	}
	return name
}

// Handle is the single entry point wired as the EventSource Callback. It
// recovers from panics so a single malformed event can never take down the
// subscription (spec.md §7).
func (d *Dispatcher) Handle(ctx context.Context, ev eventsource.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher: recovered from panic handling event", slog.Any("kind", ev.Kind), slog.Any("panic", r))
		}
	}()

	switch ev.Kind {
	case eventsource.ProcessStart:
		d.onProcessStart(ctx, ev)
	case eventsource.ProcessStop:
		d.onProcessStop(ev)
	case eventsource.ImageLoad:
		d.onImageLoad(ctx, ev)
	case eventsource.TcpIp:
		d.onTcpIp(ctx, ev)
	case eventsource.VirtualAlloc:
		d.onVirtualAlloc(ctx, ev)
	case eventsource.HandleDuplicate:
		d.onHandleDuplicate(ctx, ev)
	default:
		d.logger.Warn("dispatcher: unknown event kind", slog.Any("kind", ev.Kind))
	}
}

func (d *Dispatcher) onProcessStart(ctx context.Context, ev eventsource.Event) {
	if !d.lists.IsWatched(ev.Pid, ev.ImageFileName) {
		return
	}
	d.table.TouchStart(ev.Pid, time.Now())
	d.sched.RequestScan(ctx, ev.Pid)

	if d.lists.IsWatched(ev.ParentPid, d.resolveName(ctx, ev.ParentPid)) {
		d.sched.RequestScan(ctx, ev.ParentPid)
	}
}

func (d *Dispatcher) onProcessStop(ev eventsource.Event) {
	d.table.MarkStop(ev.Pid)
}

// onImageLoad applies the Filter and the delayed-load guard. An unseen PID
// is treated as not delayed (spec.md §9's resolution of the dead-expression
// ambiguity in the original isDelayedLoad): it is scanned rather than
// dropped.
func (d *Dispatcher) onImageLoad(ctx context.Context, ev eventsource.Event) {
	if !d.lists.IsWatched(ev.Pid, ev.ImageFileName) {
		return
	}
	if d.isDelayedLoad(ev.Pid, time.Now()) {
		return
	}
	d.sched.RequestScan(ctx, ev.Pid)
}

func (d *Dispatcher) isDelayedLoad(pid Pid, now time.Time) bool {
	entry, ok := d.table.Get(pid)
	if !ok || entry.StartTime.IsZero() {
		return false
	}
	return now.Sub(entry.StartTime) <= delayedLoadWindow
}

func (d *Dispatcher) onTcpIp(ctx context.Context, ev eventsource.Event) {
	if !d.lists.IsWatched(ev.Pid, d.resolveName(ctx, ev.Pid)) {
		return
	}
	d.sched.RequestScan(ctx, ev.Pid)
}

func (d *Dispatcher) onVirtualAlloc(ctx context.Context, ev eventsource.Event) {
	if !d.lists.IsWatched(ev.Pid, d.resolveName(ctx, ev.Pid)) {
		return
	}
	d.sched.RequestAllocationGatedScan(ctx, ev.Pid, ev.BaseAddress, d.regions)
}

func (d *Dispatcher) onHandleDuplicate(ctx context.Context, ev eventsource.Event) {
	if !d.lists.IsWatched(ev.TargetPid, d.resolveName(ctx, ev.TargetPid)) {
		return
	}
	d.sched.RequestScan(ctx, ev.TargetPid)
}
