// Package actuator implements the Post-scan actuator (C7): optionally
// suspending or terminating each suspicious PID from a completed scan,
// grounded on process_util.h's suspend_suspicious/kill_suspicious. Per-PID
// failures are logged and otherwise ignored; spec.md §4.7 explicitly allows
// suspend/kill to race with ProcessStop and fail silently.
//
// When an audit.Logger is supplied, every suspend/kill decision (including
// per-PID failures) is additionally appended to the tamper-evident action
// log, so a later Verify can reconstruct exactly which PIDs the agent acted
// on and when.
package actuator

import (
	"encoding/json"
	"log/slog"

	"github.com/hollows-hunter/agent/internal/audit"
	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// ProcessControl is the OS primitive pair the actuator drives, satisfied by
// internal/winproc on Windows.
type ProcessControl interface {
	Suspend(pid uint32) error
	Resume(pid uint32) error
	Kill(pid uint32) error
}

// actionEntry is the audit payload recorded for one suspend/kill decision.
type actionEntry struct {
	Action string `json:"action"`
	Pid    uint32 `json:"pid"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Actuator is C7.
type Actuator struct {
	ctrl   ProcessControl
	logger *slog.Logger
	audit  *audit.Logger
}

// New constructs an Actuator. logger may be nil. auditLog may be nil, in
// which case actions are not recorded to the tamper-evident log.
func New(ctrl ProcessControl, logger *slog.Logger, auditLog *audit.Logger) *Actuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actuator{ctrl: ctrl, logger: logger, audit: auditLog}
}

func (a *Actuator) record(action string, pid Pid, actErr error) {
	if a.audit == nil {
		return
	}
	e := actionEntry{Action: action, Pid: uint32(pid), OK: actErr == nil}
	if actErr != nil {
		e.Error = actErr.Error()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := a.audit.Append(raw); err != nil {
		a.logger.Warn("actuator: could not append audit entry", slog.Any("error", err))
	}
}

// Suspend suspends every PID in suspicious, tolerating per-PID failures.
// Returns the count of PIDs successfully suspended, matching
// suspend_suspicious's "done" tally.
func (a *Actuator) Suspend(suspicious []Pid) int {
	done := 0
	for _, pid := range suspicious {
		err := a.ctrl.Suspend(uint32(pid))
		a.record("suspend", pid, err)
		if err != nil {
			a.logger.Warn("actuator: could not suspend process", slog.Uint64("pid", uint64(pid)), slog.Any("error", err))
			continue
		}
		done++
	}
	return done
}

// Kill terminates every PID in suspicious, tolerating per-PID failures.
// Returns the count of PIDs successfully killed, matching
// kill_suspicious's "killed" tally.
func (a *Actuator) Kill(suspicious []Pid) int {
	killed := 0
	for _, pid := range suspicious {
		err := a.ctrl.Kill(uint32(pid))
		a.record("kill", pid, err)
		if err != nil {
			a.logger.Warn("actuator: could not terminate process", slog.Uint64("pid", uint64(pid)), slog.Any("error", err))
			continue
		}
		killed++
	}
	return killed
}
