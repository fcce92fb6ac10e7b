package config

import (
	"flag"
	"strconv"
	"strings"
)

// NormalizeArgs rewrites a Windows-style "/flag" argument list into the
// leading-dash form the stdlib flag package expects, so the CLI still
// accepts the original tool's own argument spelling (main.cpp's
// PARAM_HOOKS "/hooks", PARAM_IMP_REC "/imp", PARAM_SHELLCODE "/shellc",
// PARAM_HELP "/help", "/?"). A bare "/" is left untouched (it cannot be a
// flag). "/?" becomes "-help".
func NormalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == "/?":
			out[i] = "-help"
		case len(a) > 1 && a[0] == '/':
			out[i] = "-" + a[1:]
		default:
			out[i] = a
		}
	}
	return out
}

// CLIFlags mirrors the subset of hh_params fields settable from the command
// line.
type CLIFlags struct {
	OutDir            string
	UniqueDir         bool
	LoopScanning      bool
	ETWScan           bool
	SuspendSuspicious bool
	KillSuspicious    bool
	Quiet             bool
	Log               bool
	JSONOutput        bool
	PTimes            string
	Names             string
	Pids              string
	Ignored           string
	ConfigPath        string
	ETWProfilePath    string
	Hooks             bool
	IAT               bool
	Shellcode         bool
	Imp               bool
}

// ParseFlags registers and parses the CLI flag set. args should already be
// normalized via NormalizeArgs (name excludes argv[0]).
func ParseFlags(fs *flag.FlagSet, args []string) (*CLIFlags, error) {
	f := &CLIFlags{}

	fs.StringVar(&f.OutDir, "dir", "", "output directory for scan dumps")
	fs.BoolVar(&f.UniqueDir, "unique", false, "use a timestamped subdirectory per scan")
	fs.BoolVar(&f.LoopScanning, "loop", false, "repeat polling-mode scans indefinitely")
	fs.BoolVar(&f.ETWScan, "etw", false, "use ETW event-driven scanning instead of polling")
	fs.BoolVar(&f.SuspendSuspicious, "suspend", false, "suspend suspicious processes after a scan")
	fs.BoolVar(&f.KillSuspicious, "kill", false, "terminate suspicious processes after a scan")
	fs.BoolVar(&f.Quiet, "quiet", false, "suppress stdout output for clean scans")
	fs.BoolVar(&f.Log, "log", false, "append the text summary to log.txt")
	fs.BoolVar(&f.JSONOutput, "json", false, "render the JSON report in addition to text")
	fs.StringVar(&f.PTimes, "ptimes", "", "minimum process age in seconds before scanning")
	fs.StringVar(&f.Names, "name", "", "semicolon-separated list of watched image names")
	fs.StringVar(&f.Pids, "pid", "", "semicolon-separated list of watched PIDs")
	fs.StringVar(&f.Ignored, "ignore", "", "semicolon-separated list of ignored image names")
	fs.StringVar(&f.ConfigPath, "config", "", "path to a YAML HHParams configuration file")
	fs.StringVar(&f.ETWProfilePath, "profile", "", "path to the INI ETWProfile file")
	fs.BoolVar(&f.Hooks, "hooks", false, "enable inline hook scanning in the Inspector")
	fs.BoolVar(&f.IAT, "imp", false, "enable import table recovery in the Inspector")
	fs.BoolVar(&f.Shellcode, "shellc", false, "enable shellcode detection in the Inspector")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Merge applies non-zero CLI flag values onto cfg, overriding whatever was
// loaded from YAML. Mirrors the original precedence: command-line
// arguments always win over a loaded configuration.
func (f *CLIFlags) Merge(cfg *HHParams) error {
	if f.OutDir != "" {
		cfg.OutDir = f.OutDir
	}
	if f.UniqueDir {
		cfg.UniqueDir = true
	}
	if f.LoopScanning {
		cfg.LoopScanning = true
	}
	if f.ETWScan {
		cfg.ETWScan = true
	}
	if f.SuspendSuspicious {
		cfg.SuspendSuspicious = true
	}
	if f.KillSuspicious {
		cfg.KillSuspicious = true
	}
	if f.Quiet {
		cfg.Quiet = true
	}
	if f.Log {
		cfg.Log = true
	}
	if f.JSONOutput {
		cfg.JSONOutput = true
	}
	if f.PTimes != "" {
		d, defined, err := ParsePTimes(f.PTimes)
		if err != nil {
			return err
		}
		cfg.PTimes, cfg.PTimesDefined = d, defined
	}
	if f.Names != "" {
		cfg.NamesList = append(cfg.NamesList, ParseNameList(f.Names)...)
	}
	if f.Ignored != "" {
		cfg.IgnoredNamesList = append(cfg.IgnoredNamesList, ParseNameList(f.Ignored)...)
	}
	if f.Pids != "" {
		for _, raw := range ParseNameList(f.Pids) {
			pid, err := parsePid(raw)
			if err != nil {
				return err
			}
			cfg.PidsList = append(cfg.PidsList, pid)
		}
	}
	if f.Hooks {
		cfg.Inspector.Hooks = true
	}
	if f.IAT {
		cfg.Inspector.Imp = true
	}
	if f.Shellcode {
		cfg.Inspector.Shellcode = true
	}
	return validate(cfg)
}

func parsePid(raw string) (uint32, error) {
	val, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(val), nil
}
