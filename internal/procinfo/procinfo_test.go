package procinfo

import (
	"context"
	"testing"
)

// EnumeratePIDs should at least find the PID running the test process
// itself on any supported platform.
func TestEnumeratePIDsFindsSelf(t *testing.T) {
	pids, err := EnumeratePIDs(context.Background())
	if err != nil {
		t.Fatalf("EnumeratePIDs: %v", err)
	}
	if len(pids) == 0 {
		t.Fatal("expected at least one running PID")
	}
}
