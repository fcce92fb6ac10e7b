// Package inspector defines the Finding data model and the Inspector
// contract: the external PE-integrity scanner the core invokes per PID but
// does not implement (spec.md explicitly treats it as an external
// collaborator). This package also provides the Scanner wrapper (C4), the
// worker function the Scheduler spawns.
package inspector

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hollows-hunter/agent/internal/scanstat"
)

// Pid is re-exported for convenience.
type Pid = scanstat.Pid

// Finding is the per-PID structured verdict produced by the Inspector.
type Finding struct {
	Pid             Pid
	Suspicious      bool
	Replaced        bool
	HdrModified     bool
	Patched         bool
	IATHooked       bool
	ImplantedPE     bool
	ImplantedSHC    bool
	UnreachableFile bool
	Errors          bool
	IsManaged       bool
	Other           bool
}

// Options is the opaque, scan-scoped option bag forwarded to the Inspector.
// Fields mirror the pass-through scanner flags named in spec.md §6.
type Options struct {
	OutputDir  string
	IAT        bool
	Hooks      bool
	Shellcode  bool
	Obfuscated bool
	Threads    bool
	Data       bool
	Dnet       bool
	Dmode      string
	Imp        bool
	Minidump   bool
	Reflection bool
	Cache      bool
	OutFilter  string
	Pattern    string
}

// Inspector is the external PE-integrity scanner contract. inspect(pid,
// options) -> Finding in spec.md §6. Synchronous; implementations must be
// safe to call concurrently across distinct PIDs.
type Inspector interface {
	Inspect(ctx context.Context, pid Pid, opts Options) Finding
}

// ImageNamer resolves a PID's backing-image basename, used to label the
// Report entry. Implementations query OS process metadata (gopsutil) or the
// Windows EnumProcessModules/GetModuleBaseName path on the real platform.
type ImageNamer interface {
	ImageName(ctx context.Context, pid Pid) (string, error)
}

// ScanTarget is the input to the Scanner wrapper: a Config snapshot scoped
// to exactly one PID (spec.md §4.4: "input: a Config snapshot whose
// pids_list is a singleton").
type ScanTarget struct {
	Pid       Pid
	OutDir    string
	UniqueDir bool
	Options   Options
}

// ScanResult is what the Scanner wrapper hands to the Report aggregator.
type ScanResult struct {
	ScanID    string
	Pid       Pid
	ImageName string
	Finding   Finding
	StartTick time.Time
	EndTick   time.Time
}

// Run is the Scanner wrapper (C4): it resolves the output directory,
// invokes the Inspector, and produces a ScanResult. It never returns an
// error — a target that cannot be opened is represented by
// Finding.Errors = true, per spec.md §4.4 ("If the target process cannot be
// opened ... the Finding's errors bit is set and the rest of the pipeline
// continues normally").
func Run(ctx context.Context, target ScanTarget, insp Inspector, namer ImageNamer) ScanResult {
	start := time.Now()

	outDir := target.OutDir
	if target.UniqueDir {
		outDir = filepath.Join(target.OutDir, "scan_"+strconv.FormatInt(start.Unix(), 10))
	}
	opts := target.Options
	opts.OutputDir = outDir

	finding := insp.Inspect(ctx, target.Pid, opts)

	imageName := ""
	if namer != nil {
		if name, err := namer.ImageName(ctx, target.Pid); err == nil {
			imageName = name
		} else {
			finding.Errors = true
		}
	}

	return ScanResult{
		ScanID:    uuid.NewString(),
		Pid:       target.Pid,
		ImageName: imageName,
		Finding:   finding,
		StartTick: start,
		EndTick:   time.Now(),
	}
}
