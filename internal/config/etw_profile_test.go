package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitProfileSeedsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etw.ini")

	profile, err := InitProfile(path)
	if err != nil {
		t.Fatalf("InitProfile: %v", err)
	}
	if profile != AllProvidersProfile() {
		t.Fatalf("expected all-providers profile seeded, got %+v", profile)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected profile written to disk: %v", statErr)
	}
}

func TestLoadETWProfileParsesBooleanSemantics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etw.ini")
	content := "WATCH_PROCESS_START=yes\n" +
		"WATCH_IMG_LOAD=0  ; disabled\n" +
		"WATCH_ALLOCATION=True\n" +
		"watch_tcp_ip=off\n" +
		"WATCH_OBJ_MGR=3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	profile, ok, err := LoadETWProfile(path)
	if err != nil {
		t.Fatalf("LoadETWProfile: %v", err)
	}
	if !ok {
		t.Fatal("expected at least one recognized key")
	}
	want := ETWProfile{ProcessStart: true, ImgLoad: false, Allocation: true, TcpIP: false, ObjMgr: true}
	if profile != want {
		t.Fatalf("expected %+v, got %+v", want, profile)
	}
}

func TestLoadETWProfileMissingFile(t *testing.T) {
	_, ok, err := LoadETWProfile(filepath.Join(t.TempDir(), "missing.ini"))
	if err != nil {
		t.Fatalf("LoadETWProfile: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing file")
	}
}

func TestSaveETWProfileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etw.ini")
	profile := ETWProfile{ProcessStart: true, TcpIP: true}

	if err := SaveETWProfile(path, profile); err != nil {
		t.Fatalf("SaveETWProfile: %v", err)
	}
	loaded, ok, err := LoadETWProfile(path)
	if err != nil {
		t.Fatalf("LoadETWProfile: %v", err)
	}
	if !ok || loaded != profile {
		t.Fatalf("expected round-tripped profile %+v, got %+v (ok=%v)", profile, loaded, ok)
	}
}

func TestIsEnabled(t *testing.T) {
	if (ETWProfile{}).IsEnabled() {
		t.Fatal("expected all-false profile to be disabled")
	}
	if !(ETWProfile{TcpIP: true}).IsEnabled() {
		t.Fatal("expected profile with one provider enabled to be enabled")
	}
}
