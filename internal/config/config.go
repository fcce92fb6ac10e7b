// Package config provides HHParams configuration: command-line flags, an
// INI-based ETWProfile recording which kernel providers are enabled (the
// agent loads it but subscribes to every provider regardless), and an
// optional YAML-based named inspector-option profile.
// The validation idiom (accumulate every error, return them joined) is
// carried over from the teacher's YAML config loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// timeUndefined mirrors TIME_UNDEFINED from hh_params.h: ptimes unset.
const timeUndefined = -1

// defaultOutDir mirrors HH_DEFAULT_DIR.
const defaultOutDir = "hollows_hunter.dumps"

// HHParams is the top-level scanner configuration, grounded on
// hh_params.h's t_hh_params.
type HHParams struct {
	OutDir            string        `yaml:"out_dir"`
	UniqueDir         bool          `yaml:"unique_dir"`
	LoopScanning      bool          `yaml:"loop_scanning"`
	ETWScan           bool          `yaml:"etw_scan"`
	SuspendSuspicious bool          `yaml:"suspend_suspicious"`
	KillSuspicious    bool          `yaml:"kill_suspicious"`
	Quiet             bool          `yaml:"quiet"`
	Log               bool          `yaml:"log"`
	JSONOutput        bool          `yaml:"json_output"`
	PTimes            time.Duration `yaml:"ptimes"`
	PTimesDefined     bool          `yaml:"-"`
	NamesList         []string      `yaml:"names_list"`
	PidsList          []uint32      `yaml:"pids_list"`
	IgnoredNamesList  []string      `yaml:"ignored_names_list"`

	Inspector InspectorOptions `yaml:"inspector"`

	// LogLevel sets the minimum slog severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// InspectorOptions mirrors the pesieve pass-through option bag
// (pesieve::t_params), exported so a named profile can be saved/loaded via
// YAML independent of the INI ETWProfile.
type InspectorOptions struct {
	IAT        bool   `yaml:"iat"`
	Hooks      bool   `yaml:"hooks"`
	Shellcode  bool   `yaml:"shellcode"`
	Obfuscated bool   `yaml:"obfuscated"`
	Threads    bool   `yaml:"threads"`
	Data       bool   `yaml:"data"`
	Dnet       bool   `yaml:"dnet"`
	Dmode      string `yaml:"dmode"`
	Imp        bool   `yaml:"imp"`
	Minidump   bool   `yaml:"minidump"`
	Reflection bool   `yaml:"reflection"`
	Cache      bool   `yaml:"cache"`
	OutFilter  string `yaml:"out_filter"`
	Pattern    string `yaml:"pattern"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Default returns an HHParams with the same defaults as hh_params::init():
// quiet PE-sieve output, no hooks scanning, nothing suspended or killed,
// ptimes undefined, output directory "hollows_hunter.dumps".
func Default() HHParams {
	return HHParams{
		OutDir:        defaultOutDir,
		PTimesDefined: false,
		Inspector:     InspectorOptions{Hooks: false},
		LogLevel:      "info",
	}
}

// LoadYAML reads a YAML-encoded HHParams file at path, applying defaults
// for any omitted field and validating the result.
func LoadYAML(path string) (*HHParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	if cfg.PTimes != 0 {
		cfg.PTimesDefined = true
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// SaveYAML writes cfg to path as YAML, for a named inspector-option profile
// export.
func SaveYAML(path string, cfg *HHParams) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: cannot marshal profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: cannot write %q: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *HHParams) {
	if cfg.OutDir == "" {
		cfg.OutDir = defaultOutDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *HHParams) error {
	var errs []error

	if cfg.OutDir == "" {
		errs = append(errs, errors.New("out_dir is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.PTimesDefined && cfg.PTimes < 0 {
		errs = append(errs, fmt.Errorf("ptimes %v must be non-negative when defined", cfg.PTimes))
	}
	if cfg.SuspendSuspicious && cfg.KillSuspicious {
		errs = append(errs, errors.New("suspend_suspicious and kill_suspicious are mutually exclusive for a single pass"))
	}

	return errors.Join(errs...)
}

// ParsePTimes converts a raw seconds value (as accepted on the CLI) into
// PTimes/PTimesDefined, treating the sentinel timeUndefined the same as an
// absent flag.
func ParsePTimes(raw string) (time.Duration, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("config: invalid ptimes %q: %w", raw, err)
	}
	if seconds == timeUndefined {
		return 0, false, nil
	}
	return time.Duration(seconds) * time.Second, true, nil
}

// ParseNameList splits a PARAM_LIST_SEPARATOR-delimited string into a
// trimmed slice, matching hh_scanner.h's PARAM_LIST_SEPARATOR (';').
func ParseNameList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
