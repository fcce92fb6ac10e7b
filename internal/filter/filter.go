// Package filter implements the pure allow/deny predicate (C2) that decides
// whether a PID or image name is watched, and whether a process is old
// enough to be worth scanning.
//
// Semantics are grounded directly on the original scanner's
// isWatchedPid/isWatchedName (etw_listener.cpp): all three lists empty means
// "watch everything"; the allow lists (by PID or by name) always win; the
// deny list only applies when non-empty and the name is absent from it.
package filter

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for callers that only import this package.
type Pid = scanstat.Pid

// Lists holds the three watch lists from HHParams.
type Lists struct {
	Names   map[string]struct{} // names_list, lowercase basenames
	Pids    map[Pid]struct{}    // pids_list
	Ignored map[string]struct{} // ignored_names_list, lowercase basenames
}

// NewLists builds a Lists from plain string/pid slices, lowercasing and
// stripping paths from every name per spec.md §4.2 ("image-name comparisons
// are case-insensitive and performed against the basename only").
func NewLists(names, ignored []string, pids []Pid) Lists {
	l := Lists{
		Names:   make(map[string]struct{}, len(names)),
		Pids:    make(map[Pid]struct{}, len(pids)),
		Ignored: make(map[string]struct{}, len(ignored)),
	}
	for _, n := range names {
		l.Names[normalize(n)] = struct{}{}
	}
	for _, n := range ignored {
		l.Ignored[normalize(n)] = struct{}{}
	}
	for _, p := range pids {
		l.Pids[p] = struct{}{}
	}
	return l
}

func normalize(imageName string) string {
	if i := strings.LastIndexAny(imageName, `\/`); i >= 0 {
		imageName = imageName[i+1:]
	}
	return strings.ToLower(filepath.Base(imageName))
}

// IsWatched reports whether pid/imageName passes the Filter.
func (l Lists) IsWatched(pid Pid, imageName string) bool {
	if len(l.Names) == 0 && len(l.Pids) == 0 && len(l.Ignored) == 0 {
		return true
	}
	if _, ok := l.Pids[pid]; ok {
		return true
	}
	name := normalize(imageName)
	if _, ok := l.Names[name]; ok {
		return true
	}
	if len(l.Ignored) > 0 {
		if _, denied := l.Ignored[name]; !denied {
			return true
		}
	}
	return false
}

// ProcessCreationTimer resolves the OS creation time of a PID, grounded on
// gopsutil's process.NewProcess(pid).CreateTime(). Implemented as an
// interface so tests can supply a fake clock without spawning real
// processes.
type ProcessCreationTimer interface {
	CreationTime(ctx context.Context, pid Pid) (time.Time, error)
}

// PassesTimeThreshold implements spec.md §4.2's passes_time_threshold: if
// ptimes is undefined, always pass; otherwise the process must have started
// at least ptimes before now.
func PassesTimeThreshold(ctx context.Context, timer ProcessCreationTimer, pid Pid, now time.Time, ptimes time.Duration, ptimesDefined bool) bool {
	if !ptimesDefined {
		return true
	}
	ct, err := timer.CreationTime(ctx, pid)
	if err != nil {
		// Target already gone or inaccessible; do not scan on a failed
		// lookup rather than risk scanning boot-time noise.
		return false
	}
	return now.Sub(ct) >= ptimes
}
