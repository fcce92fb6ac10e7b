// Package agent contains the hollows-hunter agent orchestrator. It wires
// together the Filter, the Scheduler, the Event dispatcher (or Poller in
// non-ETW mode), the Post-scan actuator, and the optional history/control
// plane, managing their lifecycle through a shared context. Grounded on the
// teacher's own orchestrator (functional-option construction, Start/Stop
// lifecycle, /healthz handler), repointed from watcher/queue/transport
// fan-in to hollows-hunter's scan pipeline.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollows-hunter/agent/internal/actuator"
	"github.com/hollows-hunter/agent/internal/config"
	"github.com/hollows-hunter/agent/internal/dispatcher"
	"github.com/hollows-hunter/agent/internal/eventsource"
	"github.com/hollows-hunter/agent/internal/filter"
	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/poller"
	"github.com/hollows-hunter/agent/internal/report"
	"github.com/hollows-hunter/agent/internal/scanstat"
	"github.com/hollows-hunter/agent/internal/scheduler"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// HistorySink is the subset of internal/history's stores the agent writes
// completed scan reports to.
type HistorySink interface {
	Append(ctx context.Context, rep *report.Report, opts report.RenderOptions) error
}

// Publisher fans a completed scan result out to live control-plane
// subscribers, satisfied by internal/controlapi.Broadcaster.
type Publisher interface {
	Publish(res inspector.ScanResult)
}

// Agent is the central orchestrator of the hollows-hunter scan pipeline. It
// starts and supervises the dispatcher/poller front-end, the Scheduler, and
// every optional sink a completed scan result is fanned out to.
type Agent struct {
	cfg    *config.HHParams
	logger *slog.Logger

	table  *scanstat.Table
	lists  filter.Lists
	insp   inspector.Inspector
	namer  inspector.ImageNamer
	sched  *scheduler.Scheduler
	source eventsource.EventSource
	disp   *dispatcher.Dispatcher
	poll   *poller.Poller
	act    *actuator.Actuator
	stdout *report.StdoutLatch

	history   HistorySink
	publisher Publisher

	startTime time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	running bool

	totalScans      atomic.Int64
	suspiciousScans atomic.Int64
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithHistory registers a durable scan-history sink (SQLite or PostgreSQL).
func WithHistory(h HistorySink) Option {
	return func(a *Agent) { a.history = h }
}

// WithPublisher registers a live scan-event broadcaster.
func WithPublisher(p Publisher) Option {
	return func(a *Agent) { a.publisher = p }
}

// WithActuator registers the post-scan suspend/kill actuator.
func WithActuator(act *actuator.Actuator) Option {
	return func(a *Agent) { a.act = act }
}

// WithEventSource registers the ETW-backed EventSource used when
// cfg.ETWScan is true. Not needed in polling mode.
func WithEventSource(src eventsource.EventSource) Option {
	return func(a *Agent) { a.source = src }
}

// New creates an Agent from cfg, wiring the Filter, Scheduler, and either a
// Dispatcher+EventSource pair (cfg.ETWScan) or a Poller, depending on
// configuration. insp is the Inspector driving every scan (normally
// inspector.NewFake in this build, since the real PE-sieve engine is an
// external dependency per the scanner's own scope). namer resolves image
// names for both the Filter's pid-only checks and the Report.
func New(cfg *config.HHParams, logger *slog.Logger, insp inspector.Inspector, namer inspector.ImageNamer, timer filter.ProcessCreationTimer, regions scheduler.RegionChecker, enumerate poller.Enumerator, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:    cfg,
		logger: logger,
		insp:   insp,
		namer:  namer,
		stdout: report.NewStdoutLatch(func(s string) { fmt.Print(s) }),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.lists = filter.NewLists(cfg.NamesList, cfg.IgnoredNamesList, toPids(cfg.PidsList))
	a.table = scanstat.New()

	build := func(pid Pid) inspector.ScanTarget {
		return inspector.ScanTarget{
			Pid:       pid,
			OutDir:    cfg.OutDir,
			UniqueDir: cfg.UniqueDir,
			Options:   toInspectorOptions(cfg.Inspector),
		}
	}

	if cfg.ETWScan {
		if regions == nil {
			regions = noopRegionChecker{}
		}
		a.sched = scheduler.New(a.table, a.insp, a.namer, build, a.onResult, logger)
		a.disp = dispatcher.New(a.lists, a.table, a.sched, regions, a.namer, logger)
	} else {
		gate := poller.TimeGate{Timer: timer, Ptimes: cfg.PTimes, Defined: cfg.PTimesDefined}
		a.poll = poller.New(pollerEnumerator(enumerate), a.lists, a.insp, a.namer, build, gate, logger)
	}

	return a
}

// Start begins scanning. In ETW mode it starts the EventSource and routes
// every event to the Dispatcher; in polling mode it runs one pass
// immediately and, if cfg.LoopScanning is set, continues running passes
// until Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.logger.Info("starting hollows-hunter agent",
		slog.Bool("etw_scan", a.cfg.ETWScan),
		slog.Bool("loop_scanning", a.cfg.LoopScanning),
		slog.String("out_dir", a.cfg.OutDir),
	)

	if a.cfg.ETWScan {
		if a.source == nil {
			cancel()
			a.setRunning(false)
			return fmt.Errorf("agent: etw_scan requires an EventSource")
		}
		handle := func(ev eventsource.Event) { a.disp.Handle(ctx, ev) }
		if err := a.source.Start(ctx, eventsource.AllProviders(), handle); err != nil {
			cancel()
			a.setRunning(false)
			return fmt.Errorf("agent: event source failed to start: %w", err)
		}
		a.logger.Info("hollows-hunter agent started in ETW mode")
		return nil
	}

	a.wg.Add(1)
	go a.runPolling(ctx)
	a.logger.Info("hollows-hunter agent started in polling mode")
	return nil
}

func (a *Agent) runPolling(ctx context.Context) {
	defer a.wg.Done()

	for {
		rep, err := a.poll.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("polling pass failed", slog.Any("error", err))
		} else {
			a.finishReport(ctx, rep)
		}

		if !a.cfg.LoopScanning {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// TriggerScan requests an out-of-band scan of pid, used by the control
// API's POST /scan/{pid} endpoint. Only meaningful in ETW mode, where the
// Scheduler can service an ad-hoc request alongside its event-driven ones;
// in polling mode there is no live Scheduler to target, so the request is
// logged and dropped.
func (a *Agent) TriggerScan(pid uint32) {
	if a.sched == nil {
		a.logger.Warn("ignoring scan trigger: agent is running in polling mode", slog.Uint64("pid", uint64(pid)))
		return
	}
	a.sched.RequestScan(context.Background(), Pid(pid))
}

// Stop signals all components to shut down and waits for internal
// goroutines to exit. Safe to call multiple times.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	if a.source != nil {
		a.source.Stop()
	}
	if a.sched != nil {
		a.sched.Shutdown()
	}

	a.wg.Wait()

	a.logger.Info("hollows-hunter agent stopped")
}

func (a *Agent) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

// onResult is the Scheduler's ResultSink: it wraps one event-driven scan
// into a single-PID Report and runs it through the same fan-out path as a
// polling pass.
func (a *Agent) onResult(res inspector.ScanResult) {
	rep := report.New(res.ScanID, res.StartTick)
	rep.Append(res)
	rep.Close(res.EndTick)
	a.finishReport(context.Background(), rep)
}

// finishReport runs the actuator over any suspicious PIDs, renders and
// prints the summary unless quiet is set and nothing was suspicious,
// persists to history, and publishes to
// live subscribers.
func (a *Agent) finishReport(ctx context.Context, rep *report.Report) {
	a.totalScans.Add(int64(rep.TotalCount()))
	a.suspiciousScans.Add(int64(rep.SuspiciousCount()))

	suspicious := rep.SuspiciousPids()
	if a.act != nil && len(suspicious) > 0 {
		if a.cfg.KillSuspicious {
			a.act.Kill(suspicious)
		} else if a.cfg.SuspendSuspicious {
			a.act.Suspend(suspicious)
		}
	}

	opts := report.RenderOptions{
		HooksEnabled: a.cfg.Inspector.Hooks,
		IATEnabled:   a.cfg.Inspector.IAT,
	}

	if !a.cfg.Quiet || len(suspicious) > 0 {
		a.stdout.Print(rep.Text(false))
	}

	a.persistSummary(rep, opts, len(suspicious) > 0)

	if a.history != nil {
		if err := a.history.Append(ctx, rep, opts); err != nil {
			a.logger.Warn("failed to append scan report to history", slog.Any("error", err))
		}
	}

	if a.publisher != nil {
		for _, pid := range rep.SuspiciousPids() {
			if res, ok := rep.Result(pid); ok {
				a.publisher.Publish(res)
			}
		}
	}
}

// persistSummary writes the scan summary to disk per hh_scanner.cpp's
// summarizeScan: log.txt is appended to whenever cfg.Log is set, regardless
// of outcome; summary.txt is written (overwritten) alongside the scan's
// output directory only when the pass found at least one suspicious PID
// and an output directory is in use.
func (a *Agent) persistSummary(rep *report.Report, opts report.RenderOptions, hasSuspicious bool) {
	if a.cfg.Log {
		logPath := filepath.Join(a.cfg.OutDir, "log.txt")
		if err := appendFile(logPath, rep.Text(false)); err != nil {
			a.logger.Warn("failed to append scan summary to log.txt", slog.Any("error", err))
		}
	}

	if hasSuspicious && a.cfg.OutDir != "" {
		summaryPath := filepath.Join(a.cfg.OutDir, "summary.txt")
		if err := os.WriteFile(summaryPath, []byte(rep.Text(true)), 0o644); err != nil {
			a.logger.Warn("failed to write summary.txt", slog.Any("error", err))
		}
	}

	if a.cfg.JSONOutput && a.cfg.OutDir != "" {
		raw, err := rep.JSON(opts)
		if err != nil {
			a.logger.Warn("failed to render JSON report", slog.Any("error", err))
			return
		}
		jsonPath := filepath.Join(a.cfg.OutDir, rep.ScanID+".json")
		if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
			a.logger.Warn("failed to write JSON report", slog.Any("error", err))
		}
	}
}

func appendFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status          string  `json:"status"`
	UptimeS         float64 `json:"uptime_s"`
	TotalScans      int64   `json:"total_scans"`
	SuspiciousScans int64   `json:"suspicious_scans"`
}

// Health returns a snapshot of the current agent health state.
func (a *Agent) Health() HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return HealthStatus{
		Status:          "ok",
		UptimeS:         time.Since(a.startTime).Seconds(),
		TotalScans:      a.totalScans.Load(),
		SuspiciousScans: a.suspiciousScans.Load(),
	}
}

// HealthzHandler is an http.HandlerFunc that responds with the agent's
// health status as a JSON object and HTTP 200.
func (a *Agent) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := a.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		a.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}

func toPids(raw []uint32) []Pid {
	out := make([]Pid, len(raw))
	for i, p := range raw {
		out[i] = Pid(p)
	}
	return out
}

func toInspectorOptions(opts config.InspectorOptions) inspector.Options {
	return inspector.Options{
		IAT:        opts.IAT,
		Hooks:      opts.Hooks,
		Shellcode:  opts.Shellcode,
		Obfuscated: opts.Obfuscated,
		Threads:    opts.Threads,
		Data:       opts.Data,
		Dnet:       opts.Dnet,
		Dmode:      opts.Dmode,
		Imp:        opts.Imp,
		Minidump:   opts.Minidump,
		Reflection: opts.Reflection,
		Cache:      opts.Cache,
		OutFilter:  opts.OutFilter,
		Pattern:    opts.Pattern,
	}
}

func pollerEnumerator(enumerate poller.Enumerator) poller.Enumerator {
	if enumerate != nil {
		return enumerate
	}
	return func(ctx context.Context) ([]poller.Pid, error) { return nil, fmt.Errorf("agent: no enumerator configured") }
}

// noopRegionChecker is the conservative default used when no real
// RegionChecker is supplied (e.g. on platforms where VirtualQueryEx is
// unavailable): every allocation-gated scan request is dropped.
type noopRegionChecker struct{}

func (noopRegionChecker) IsExecutableAllocation(ctx context.Context, pid Pid, baseAddress uintptr) bool {
	return false
}
