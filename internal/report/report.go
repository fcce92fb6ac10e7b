// Package report implements the Report aggregator (C5): a pure formatting
// layer over a completed scan's results, producing the text and JSON
// summaries described in spec.md §4.5, with exact field shapes and
// conditional inclusion rules grounded on the original hh_report.cpp
// (reportsToJSON/reportsToString/toString/print_scantime).
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hollows-hunter/agent/internal/inspector"
)

// Pid is re-exported for convenience.
type Pid = inspector.Pid

// Report is the aggregate of a scan pass: one or more per-PID ScanResults
// sharing a common start/end window.
type Report struct {
	ScanID     string
	StartTick  time.Time
	EndTick    time.Time
	byPid      map[Pid]inspector.ScanResult
	suspicious []Pid // insertion order, mirrors pidToReport's map-like iteration in the original
}

// New creates an empty Report starting at startTick.
func New(scanID string, startTick time.Time) *Report {
	return &Report{ScanID: scanID, StartTick: startTick, byPid: make(map[Pid]inspector.ScanResult)}
}

// Append records one scan result into the report, tracking it as suspicious
// if Finding.Suspicious is set.
func (r *Report) Append(res inspector.ScanResult) {
	r.byPid[res.Pid] = res
	if res.Finding.Suspicious {
		r.suspicious = append(r.suspicious, res.Pid)
	}
}

// Close stamps EndTick. Call once all scans contributing to this pass have
// completed.
func (r *Report) Close(endTick time.Time) {
	r.EndTick = endTick
}

// TotalCount is the number of distinct PIDs scanned.
func (r *Report) TotalCount() int { return len(r.byPid) }

// SuspiciousCount is the number of PIDs flagged suspicious.
func (r *Report) SuspiciousCount() int { return len(r.suspicious) }

// sortedPids returns every scanned PID in ascending order, matching the
// original's std::map<DWORD,...> iteration order.
func (r *Report) sortedPids() []Pid {
	pids := make([]Pid, 0, len(r.byPid))
	for pid := range r.byPid {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// ScanTimeMS is the elapsed scan time in whole milliseconds.
func (r *Report) ScanTimeMS() int64 {
	if r.StartTick.IsZero() || r.EndTick.IsZero() {
		return 0
	}
	return r.EndTick.Sub(r.StartTick).Milliseconds()
}

// RenderOptions controls which conditional fields the JSON/text renderers
// include, mirroring the Inspector option bag that governed hh_report.cpp's
// reportsToJSON.
type RenderOptions struct {
	HooksEnabled bool // include "patched"
	IATEnabled   bool // include "iat_hooked"
}

// --- Text rendering ---

// Text renders the multi-line human-readable summary described in spec.md
// §4.5. When suspiciousOnly is false, the full scanned list is also
// included.
func (r *Report) Text(suspiciousOnly bool) string {
	var buf bytes.Buffer

	buf.WriteString("SUMMARY:\n")
	fmt.Fprintf(&buf, "Scan at: %s (%d)\n", r.StartTick.Local().Format("2006-01-02 15:04:05"), r.StartTick.Unix())
	fmt.Fprintf(&buf, "Finished scan in: %s\n", printScanTime(r.ScanTimeMS()))
	fmt.Fprintf(&buf, "[*] Total scanned: %d\n", r.TotalCount())

	if !suspiciousOnly && r.TotalCount() > 0 {
		buf.WriteString("[+] List of scanned:\n")
		r.writeList(&buf, r.sortedPids())
	}

	fmt.Fprintf(&buf, "[*] Total suspicious: %d\n", r.SuspiciousCount())
	if r.SuspiciousCount() > 0 {
		buf.WriteString("[+] List of suspicious:\n")
		r.writeList(&buf, r.suspiciousSorted())
	}

	return buf.String()
}

func (r *Report) suspiciousSorted() []Pid {
	pids := append([]Pid(nil), r.suspicious...)
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// SuspiciousPids returns every PID flagged suspicious, ascending.
func (r *Report) SuspiciousPids() []Pid {
	return r.suspiciousSorted()
}

// Result returns the stored ScanResult for pid, if this report scanned it.
func (r *Report) Result(pid Pid) (inspector.ScanResult, bool) {
	res, ok := r.byPid[pid]
	return res, ok
}

// writeList prints "[index]: PID: N, Name: X" lines, right-aligning the
// index field to the width of the largest index (hh_report.cpp used
// log10(count) for the same purpose).
func (r *Report) writeList(buf *bytes.Buffer, pids []Pid) {
	width := digitWidth(len(pids))
	for i, pid := range pids {
		res := r.byPid[pid]
		fmt.Fprintf(buf, "[%*d]: PID: %d, Name: %s\n", width, i, pid, res.ImageName)
	}
}

func digitWidth(count int) int {
	if count <= 1 {
		return 1
	}
	return int(math.Log10(float64(count-1))) + 1
}

// printScanTime renders the elapsed time exactly as the original's
// print_scantime: always "N ms.", plus " = X sec." when seconds > 0.5, plus
// " = Y min." when minutes > 0.5 (both suffixes may appear together).
func printScanTime(ms int64) string {
	s := fmt.Sprintf("%d ms.", ms)
	seconds := float64(ms) / 1000.0
	if seconds > 0.5 {
		s += fmt.Sprintf(" = %.2f sec.", seconds)
	}
	minutes := seconds / 60.0
	if minutes > 0.5 {
		s += fmt.Sprintf(" = %.2f min.", minutes)
	}
	return s
}

// --- JSON rendering ---

type jsonSuspicious struct {
	Pid             Pid    `json:"pid"`
	IsManaged       int    `json:"is_managed"`
	Name            string `json:"name"`
	Replaced        int    `json:"replaced"`
	HdrModified     int    `json:"hdr_modified"`
	Patched         *int   `json:"patched,omitempty"`
	IATHooked       *int   `json:"iat_hooked,omitempty"`
	ImplantedPE     int    `json:"implanted_pe"`
	ImplantedSHC    int    `json:"implanted_shc"`
	UnreachableFile int    `json:"unreachable_file"`
	Other           int    `json:"other"`
}

// boolToInt renders a bit field the way the original streamed it with
// std::dec: "1" or "0", never a JSON boolean.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type jsonReport struct {
	ScanDateTime    string           `json:"scan_date_time"`
	ScanTimestamp   int64            `json:"scan_timestamp"`
	ScanTimeMS      int64            `json:"scan_time_ms"`
	ScannedCount    int              `json:"scanned_count"`
	SuspiciousCount int              `json:"suspicious_count"`
	Suspicious      []jsonSuspicious `json:"suspicious,omitempty"`
}

// JSON renders the Report as the object described in spec.md §4.5. The
// conditional "patched"/"iat_hooked" fields are included only when the
// corresponding scanner option was enabled for this pass (per
// hh_report.cpp's reportsToJSON), and the "suspicious" array is present
// only when SuspiciousCount() > 0.
func (r *Report) JSON(opts RenderOptions) ([]byte, error) {
	out := jsonReport{
		ScanDateTime:    r.StartTick.Local().Format("2006-01-02 15:04:05"),
		ScanTimestamp:   r.StartTick.Unix(),
		ScanTimeMS:      r.ScanTimeMS(),
		ScannedCount:    r.TotalCount(),
		SuspiciousCount: r.SuspiciousCount(),
	}

	if r.SuspiciousCount() > 0 {
		for _, pid := range r.suspiciousSorted() {
			res := r.byPid[pid]
			f := res.Finding
			js := jsonSuspicious{
				Pid:             pid,
				IsManaged:       boolToInt(f.IsManaged),
				Name:            res.ImageName,
				Replaced:        boolToInt(f.Replaced),
				HdrModified:     boolToInt(f.HdrModified),
				ImplantedPE:     boolToInt(f.ImplantedPE),
				ImplantedSHC:    boolToInt(f.ImplantedSHC),
				UnreachableFile: boolToInt(f.UnreachableFile),
				Other:           boolToInt(f.Other),
			}
			if opts.HooksEnabled {
				v := boolToInt(f.Patched)
				js.Patched = &v
			}
			if opts.IATEnabled {
				v := boolToInt(f.IATHooked)
				js.IATHooked = &v
			}
			out.Suspicious = append(out.Suspicious, js)
		}
	}

	return json.Marshal(out)
}

// --- stdout latch ---

// StdoutLatch serializes all human-readable output so concurrent workers do
// not interleave lines (spec.md §5: "a separate mutex protecting all
// human-readable output").
type StdoutLatch struct {
	mu     sync.Mutex
	writer func(string)
}

// NewStdoutLatch wraps writer (e.g. fmt.Print) with a mutex.
func NewStdoutLatch(writer func(string)) *StdoutLatch {
	return &StdoutLatch{writer: writer}
}

// Print writes s under the latch.
func (l *StdoutLatch) Print(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer(s)
}
