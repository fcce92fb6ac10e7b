package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/report"
)

func sampleReport(scanID string) *report.Report {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	r := report.New(scanID, start)
	r.Append(inspector.ScanResult{Pid: 1, ImageName: "evil.exe", Finding: inspector.Finding{Pid: 1, Suspicious: true}})
	r.Close(start.Add(100 * time.Millisecond))
	return r
}

func TestSQLiteStoreAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, sampleReport("scan-a"), report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, sampleReport("scan-b"), report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}

func TestSQLiteStoreRecentZeroIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	recs, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected nil, got %v", recs)
	}
}

func TestSQLiteStoreAppendIsIdempotentOnSameScanID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rep := sampleReport("dup")
	if err := store.Append(ctx, rep, report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, rep, report.RenderOptions{}); err != nil {
		t.Fatalf("Append again: %v", err)
	}

	recs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected re-append to replace the same row, got %d", len(recs))
	}
}
