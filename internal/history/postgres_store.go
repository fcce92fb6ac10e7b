package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hollows-hunter/agent/internal/report"
)

const (
	// DefaultBatchSize is the maximum number of reports held in memory
	// before an automatic flush is triggered, matching storage.Store's
	// batching threshold.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending reports even when the batch has not reached DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond
)

// pendingReport is one buffered row awaiting a batch insert.
type pendingReport struct {
	scanID          string
	hostID          string
	startTime       time.Time
	endTime         time.Time
	scanTimeMS      int64
	scannedCount    int
	suspiciousCount int
	reportJSON      []byte
}

// PostgresStore is the optional multi-host aggregation backend for scan
// history, adapted from internal/server/storage.Store's batched-insert +
// flush-ticker pattern: every completed Report is buffered and flushed to
// PostgreSQL either when the buffer fills or a ticker fires.
type PostgresStore struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []pendingReport
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewPostgresStore opens a pgxpool connection to connStr, pings it, applies
// the schema, and starts the background flush goroutine.
func NewPostgresStore(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*PostgresStore, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("history: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: pool.Ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	s := &PostgresStore{
		pool:          pool,
		batch:         make([]pendingReport, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

const postgresDDL = `
CREATE TABLE IF NOT EXISTS scan_report (
    scan_id          TEXT PRIMARY KEY,
    host_id          TEXT NOT NULL,
    start_time       TIMESTAMPTZ NOT NULL,
    end_time         TIMESTAMPTZ NOT NULL,
    scan_time_ms     BIGINT NOT NULL,
    scanned_count    INTEGER NOT NULL,
    suspicious_count INTEGER NOT NULL,
    report_json      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_report_host_start
    ON scan_report (host_id, start_time);
`

// Close stops the background flush goroutine, flushes any remaining
// buffered reports, and closes the pool. Safe to call more than once.
func (s *PostgresStore) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
		<-s.doneCh
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

func (s *PostgresStore) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// Append buffers rep for deferred batch insertion under hostID, flushing
// synchronously if the buffer has reached batchSize.
func (s *PostgresStore) Append(ctx context.Context, hostID string, rep *report.Report, opts report.RenderOptions) error {
	raw, err := rep.JSON(opts)
	if err != nil {
		return fmt.Errorf("history: render report: %w", err)
	}

	s.mu.Lock()
	s.batch = append(s.batch, pendingReport{
		scanID:          rep.ScanID,
		hostID:          hostID,
		startTime:       rep.StartTick,
		endTime:         rep.EndTick,
		scanTimeMS:      rep.ScanTimeMS(),
		scannedCount:    rep.TotalCount(),
		suspiciousCount: rep.SuspiciousCount(),
		reportJSON:      raw,
	})
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the buffer and sends all rows to PostgreSQL in a single
// pgx.Batch round-trip, matching storage.Store.Flush's ON CONFLICT DO
// NOTHING idempotent-replay semantics.
func (s *PostgresStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]pendingReport, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO scan_report
			(scan_id, host_id, start_time, end_time, scan_time_ms, scanned_count, suspicious_count, report_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range toInsert {
		r := &toInsert[i]
		b.Queue(query, r.scanID, r.hostID, r.startTime, r.endTime, r.scanTimeMS, r.scannedCount, r.suspiciousCount, r.reportJSON)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("history: batch exec report: %w", err)
		}
	}
	return nil
}

// HostScopedStore adapts a PostgresStore to the single-argument
// Recent(ctx, n) shape controlapi.HistoryStore expects, binding it to one
// host and an effectively unbounded time window.
type HostScopedStore struct {
	store  *PostgresStore
	hostID string
}

// ForHost returns a HostScopedStore bound to hostID.
func (s *PostgresStore) ForHost(hostID string) *HostScopedStore {
	return &HostScopedStore{store: s, hostID: hostID}
}

// Recent returns the n most recent scan reports for the bound host.
func (h *HostScopedStore) Recent(ctx context.Context, n int) ([]Record, error) {
	from := time.Unix(0, 0)
	to := time.Now().Add(24 * time.Hour)
	return h.store.Query(ctx, h.hostID, from, to, n)
}

// Query returns scan reports for hostID within [from, to), newest first,
// limited to at most limit rows (default 100).
func (s *PostgresStore) Query(ctx context.Context, hostID string, from, to time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT scan_id, start_time, scan_time_ms, scanned_count, suspicious_count, report_json
		 FROM scan_report
		 WHERE host_id = $1 AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time DESC LIMIT $4`,
		hostID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			startTime time.Time
			raw       []byte
		)
		if err := rows.Scan(&r.ScanID, &startTime, &r.ScanTimeMS, &r.ScannedCount, &r.SuspiciousCount, &raw); err != nil {
			return nil, fmt.Errorf("history: query scan: %w", err)
		}
		r.StartTime = startTime.UTC().Format(time.RFC3339Nano)
		r.ReportJSON = string(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}
