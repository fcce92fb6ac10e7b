// Package poller implements polling mode (spec.md §4.8), the alternative
// front-end used when etw_scan = false: enumerate every OS PID directly,
// filter each, and invoke the Inspector serially in the enumerating
// goroutine with no Scheduler, debounce, or cooldown involved.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollows-hunter/agent/internal/filter"
	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/report"
)

// Pid is re-exported for convenience.
type Pid = inspector.Pid

// Enumerator lists every currently running OS PID.
type Enumerator func(ctx context.Context) ([]Pid, error)

// TargetBuilder builds the per-scan ScanTarget for a single PID, shared with
// the Scheduler's equivalent hook.
type TargetBuilder func(pid Pid) inspector.ScanTarget

// TimeGate bundles the ptimes (minimum process age) check applied to every
// enumerated PID before it reaches the Inspector. The zero value disables
// the check entirely (Defined false), matching ptimes being undefined by
// default in hh_params.
type TimeGate struct {
	Timer   filter.ProcessCreationTimer
	Ptimes  time.Duration
	Defined bool
}

// Poller runs one or more polling passes.
type Poller struct {
	enumerate Enumerator
	lists     filter.Lists
	insp      inspector.Inspector
	namer     inspector.ImageNamer
	build     TargetBuilder
	gate      TimeGate
	logger    *slog.Logger
}

// New constructs a Poller. logger may be nil.
func New(enumerate Enumerator, lists filter.Lists, insp inspector.Inspector, namer inspector.ImageNamer, build TargetBuilder, gate TimeGate, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{enumerate: enumerate, lists: lists, insp: insp, namer: namer, build: build, gate: gate, logger: logger}
}

// RunOnce performs a single enumerate-filter-scan pass and returns the
// aggregated Report. Scans run serially in the calling goroutine, matching
// "invoke Inspector.inspect directly in the enumerator thread" (spec.md
// §4.8): the loop itself is serial, so no debounce or cooldown is needed.
func (p *Poller) RunOnce(ctx context.Context) (*report.Report, error) {
	start := time.Now()
	scanID := start.Format("20060102T150405")
	rep := report.New(scanID, start)

	pids, err := p.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	for _, pid := range pids {
		name, nameErr := p.namer.ImageName(ctx, pid)
		if nameErr != nil {
			p.logger.Debug("poller: could not resolve image name, skipping", slog.Uint64("pid", uint64(pid)), slog.Any("error", nameErr))
			continue
		}
		if !p.lists.IsWatched(pid, name) {
			continue
		}
		if !filter.PassesTimeThreshold(ctx, p.gate.Timer, pid, start, p.gate.Ptimes, p.gate.Defined) {
			continue
		}

		target := p.build(pid)
		target.Pid = pid
		result := inspector.Run(ctx, target, p.insp, p.namer)
		rep.Append(result)
	}

	rep.Close(time.Now())
	return rep, nil
}

// RunLoop repeats RunOnce indefinitely, passing each completed Report to
// sink, until ctx is cancelled. Matches loop_scanning (spec.md §4.8).
func (p *Poller) RunLoop(ctx context.Context, sink func(*report.Report)) error {
	for {
		rep, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		if sink != nil {
			sink(rep)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
