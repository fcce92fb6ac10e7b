package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hollows-hunter/agent/internal/inspector"
)

func sampleReport() *Report {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := New("scan-1", start)
	r.Append(inspector.ScanResult{
		Pid:       100,
		ImageName: "evil.exe",
		Finding:   inspector.Finding{Pid: 100, Suspicious: true, Replaced: true},
		StartTick: start,
		EndTick:   start.Add(150 * time.Millisecond),
	})
	r.Close(start.Add(200 * time.Millisecond))
	return r
}

// Scenario 6 from spec.md §8.
func TestJSONRenderingScenario6(t *testing.T) {
	r := sampleReport()
	raw, err := r.JSON(RenderOptions{})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if int(decoded["suspicious_count"].(float64)) != 1 {
		t.Fatalf("expected suspicious_count=1, got %v", decoded["suspicious_count"])
	}
	if int(decoded["scanned_count"].(float64)) != 1 {
		t.Fatalf("expected scanned_count=1, got %v", decoded["scanned_count"])
	}

	susp := decoded["suspicious"].([]any)[0].(map[string]any)
	if int(susp["pid"].(float64)) != 100 {
		t.Fatalf("expected suspicious[0].pid=100, got %v", susp["pid"])
	}
	if int(susp["replaced"].(float64)) != 1 {
		t.Fatalf("expected suspicious[0].replaced=1, got %v", susp["replaced"])
	}
	if susp["name"].(string) != "evil.exe" {
		t.Fatalf("expected suspicious[0].name=evil.exe, got %v", susp["name"])
	}
	if _, ok := susp["patched"]; ok {
		t.Fatal("expected 'patched' to be omitted when hook-scanning is disabled")
	}
}

func TestJSONConditionalFields(t *testing.T) {
	r := sampleReport()

	withHooks, _ := r.JSON(RenderOptions{HooksEnabled: true})
	var decoded map[string]any
	json.Unmarshal(withHooks, &decoded)
	susp := decoded["suspicious"].([]any)[0].(map[string]any)
	if _, ok := susp["patched"]; !ok {
		t.Fatal("expected 'patched' present when hook-scanning is enabled")
	}
	if _, ok := susp["iat_hooked"]; ok {
		t.Fatal("expected 'iat_hooked' omitted when IAT-scanning is disabled")
	}

	withIAT, _ := r.JSON(RenderOptions{IATEnabled: true})
	json.Unmarshal(withIAT, &decoded)
	susp = decoded["suspicious"].([]any)[0].(map[string]any)
	if _, ok := susp["iat_hooked"]; !ok {
		t.Fatal("expected 'iat_hooked' present when IAT-scanning is enabled")
	}
}

func TestJSONOmitsSuspiciousArrayWhenZero(t *testing.T) {
	start := time.Now()
	r := New("scan-2", start)
	r.Append(inspector.ScanResult{Pid: 1, ImageName: "clean.exe", Finding: inspector.Finding{Pid: 1}})
	r.Close(start)

	raw, _ := r.JSON(RenderOptions{})
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	if _, ok := decoded["suspicious"]; ok {
		t.Fatal("expected 'suspicious' array to be absent when suspicious_count is 0")
	}
}

// Round-trip law from spec.md §8: running the aggregator twice on the same
// Report yields byte-identical output.
func TestRenderingIsIdempotent(t *testing.T) {
	r := sampleReport()

	text1 := r.Text(true)
	text2 := r.Text(true)
	if text1 != text2 {
		t.Fatal("expected identical text output across repeated renders")
	}

	json1, _ := r.JSON(RenderOptions{HooksEnabled: true, IATEnabled: true})
	json2, _ := r.JSON(RenderOptions{HooksEnabled: true, IATEnabled: true})
	if string(json1) != string(json2) {
		t.Fatal("expected identical JSON output across repeated renders")
	}
}

func TestPrintScanTimeSuffixes(t *testing.T) {
	if got := printScanTime(200); got != "200 ms." {
		t.Fatalf("expected no suffix for sub-500ms scans, got %q", got)
	}
	if got := printScanTime(700); got == "700 ms." {
		t.Fatalf("expected a seconds suffix for a 700ms scan, got %q", got)
	}
	longMs := int64(90 * 1000)
	got := printScanTime(longMs)
	if got == "" {
		t.Fatal("expected non-empty output")
	}
}

func TestTextListsAllWhenNotSuspiciousOnly(t *testing.T) {
	r := sampleReport()
	r.Append(inspector.ScanResult{Pid: 5, ImageName: "clean.exe", Finding: inspector.Finding{Pid: 5}})

	full := r.Text(false)
	suspOnly := r.Text(true)

	if full == suspOnly {
		t.Fatal("expected full listing to differ from suspicious-only listing when there are clean processes")
	}
}
