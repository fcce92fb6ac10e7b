package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultMatchesInitSemantics(t *testing.T) {
	cfg := Default()
	if cfg.OutDir != defaultOutDir {
		t.Fatalf("expected default out_dir %q, got %q", defaultOutDir, cfg.OutDir)
	}
	if cfg.PTimesDefined {
		t.Fatal("expected ptimes undefined by default")
	}
	if cfg.SuspendSuspicious || cfg.KillSuspicious || cfg.LoopScanning || cfg.ETWScan {
		t.Fatal("expected all scan-mode flags false by default")
	}
}

func TestLoadYAMLAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hh.yaml")
	content := "quiet: true\njson_output: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if cfg.OutDir != defaultOutDir {
		t.Fatalf("expected default out_dir applied, got %q", cfg.OutDir)
	}
	if !cfg.Quiet || !cfg.JSONOutput {
		t.Fatal("expected quiet and json_output preserved from file")
	}
}

func TestLoadYAMLRejectsConflictingActuatorFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hh.yaml")
	content := "suspend_suspicious: true\nkill_suspicious: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadYAML(path)
	if err == nil {
		t.Fatal("expected validation error for mutually exclusive suspend/kill flags")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutually-exclusive error, got %v", err)
	}
}

func TestParsePTimesUndefinedSentinel(t *testing.T) {
	d, defined, err := ParsePTimes("-1")
	if err != nil {
		t.Fatalf("ParsePTimes: %v", err)
	}
	if defined || d != 0 {
		t.Fatalf("expected undefined ptimes for sentinel -1, got %v/%v", d, defined)
	}
}

func TestParsePTimesSeconds(t *testing.T) {
	d, defined, err := ParsePTimes("30")
	if err != nil {
		t.Fatalf("ParsePTimes: %v", err)
	}
	if !defined {
		t.Fatal("expected ptimes defined")
	}
	if d.Seconds() != 30 {
		t.Fatalf("expected 30s, got %v", d)
	}
}

func TestParseNameListSplitsOnSemicolon(t *testing.T) {
	got := ParseNameList("calc.exe; notepad.exe ;;winword.exe")
	want := []string{"calc.exe", "notepad.exe", "winword.exe"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
