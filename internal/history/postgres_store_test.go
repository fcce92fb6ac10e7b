//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/history/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hollows-hunter/agent/internal/history"
	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/report"
)

func setupPostgresStore(t *testing.T) (*history.PostgresStore, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("hollows_hunter_test"),
		tcpostgres.WithUsername("hh"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	store, err := history.NewPostgresStore(ctx, connStr, 2, 50*time.Millisecond)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("NewPostgresStore: %v", err)
	}

	cleanup := func() {
		store.Close(ctx)
		_ = pgContainer.Terminate(ctx)
	}
	return store, cleanup
}

func sampleReportFor(scanID string) *report.Report {
	start := time.Now().UTC()
	r := report.New(scanID, start)
	r.Append(inspector.ScanResult{Pid: 100, ImageName: "evil.exe", Finding: inspector.Finding{Pid: 100, Suspicious: true}})
	r.Close(start.Add(50 * time.Millisecond))
	return r
}

func TestPostgresStoreFlushesOnBatchSizeAndIsQueryable(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()

	ctx := context.Background()
	from := time.Now().Add(-time.Minute)

	if err := store.Append(ctx, "host-a", sampleReportFor("scan-1"), report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "host-a", sampleReportFor("scan-2"), report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := store.Query(ctx, "host-a", from, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after batch-size flush, got %d", len(records))
	}
}

func TestPostgresStoreTickerFlushesBelowBatchSize(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()

	ctx := context.Background()
	from := time.Now().Add(-time.Minute)

	if err := store.Append(ctx, "host-b", sampleReportFor("scan-3"), report.RenderOptions{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	records, err := store.Query(ctx, "host-b", from, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected ticker flush to persist 1 record, got %d", len(records))
	}
}
