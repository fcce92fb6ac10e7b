// Package winproc wraps the handful of raw Win32/NT syscalls the actuator
// and scheduler need: process suspend/resume, parent-PID lookup, image-name
// resolution, and the executable-allocation region walk. All of it is
// grounded on original_source/util/suspend.cpp and etw_listener.cpp's
// isAllocationExecutable, which resolve NtSuspendProcess/NtResumeProcess/
// NtQueryInformationProcess dynamically from ntdll rather than linking
// against them, since they are undocumented NT internals.
package winproc

import (
	"context"
	"errors"

	"github.com/hollows-hunter/agent/internal/scanstat"
)

// ErrUnsupportedPlatform is returned by every operation in this package on
// a non-Windows GOOS.
var ErrUnsupportedPlatform = errors.New("winproc: not supported on this platform")

// InvalidPID mirrors the original's INVALID_PID sentinel.
const InvalidPID = ^uint32(0)

// RegionChecker adapts IsExecutableAllocation to the
// scheduler.RegionChecker interface (an exported method taking ctx and
// returning a plain bool, no error), so the allocation-gated scan path can depend on this package
// without binding to the scheduler's types. A lookup failure (e.g. the
// process has already exited) is treated as "not executable", matching
// spec.md §4.3's fail-closed default for the allocation gate.
type RegionChecker struct{}

// IsExecutableAllocation reports whether the allocation at baseAddress in
// pid's address space currently has an executable protection bit set.
func (RegionChecker) IsExecutableAllocation(ctx context.Context, pid scanstat.Pid, baseAddress uintptr) bool {
	ok, err := IsExecutableAllocation(uint32(pid), baseAddress)
	if err != nil {
		return false
	}
	return ok
}

// Controller adapts the package-level Suspend/Resume/Kill functions to the
// actuator.ProcessControl interface.
type Controller struct{}

// Suspend implements actuator.ProcessControl.
func (Controller) Suspend(pid uint32) error { return Suspend(pid) }

// Resume implements actuator.ProcessControl.
func (Controller) Resume(pid uint32) error { return Resume(pid) }

// Kill implements actuator.ProcessControl.
func (Controller) Kill(pid uint32) error { return Kill(pid) }
