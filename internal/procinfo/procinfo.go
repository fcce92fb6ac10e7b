// Package procinfo supplies the gopsutil-backed, cross-platform process
// metadata lookups shared by the Filter's time-threshold check, the
// dispatcher's pid-only Filter checks, and polling mode: PID enumeration,
// creation-time lookup, and image-name resolution. All three go through
// gopsutil on every platform, Windows included.
package procinfo

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// Source is the shared gopsutil-backed implementation of
// filter.ProcessCreationTimer and inspector.ImageNamer.
type Source struct{}

// New constructs a Source.
func New() *Source { return &Source{} }

// CreationTime implements filter.ProcessCreationTimer.
func (s *Source) CreationTime(ctx context.Context, pid Pid) (time.Time, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return time.Time{}, err
	}
	ms, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// ImageName implements inspector.ImageNamer, resolving the executable's
// base name via gopsutil.
func (s *Source) ImageName(ctx context.Context, pid Pid) (string, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	return proc.NameWithContext(ctx)
}

// EnumeratePIDs lists every currently running OS PID, used by polling mode
// (spec.md §4.8).
func EnumeratePIDs(ctx context.Context) ([]uint32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(pids))
	for i, p := range pids {
		out[i] = uint32(p)
	}
	return out, nil
}
