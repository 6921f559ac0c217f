// Package history persists scan verdicts to PostgreSQL. Verdict rows keep
// the identifiers and detection outcome of every scan so operators can audit
// what was blocked and why; prompt text itself is never stored, only its
// digest.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

// Entry is one recorded verdict.
type Entry struct {
	ScanID        string          `json:"scan_id"`
	ReportID      string          `json:"report_id,omitempty"`
	TrID          string          `json:"tr_id,omitempty"`
	ProfileID     string          `json:"profile_id,omitempty"`
	ProfileName   string          `json:"profile_name,omitempty"`
	Category      string          `json:"category,omitempty"`
	Action        string          `json:"action,omitempty"`
	ContentDigest string          `json:"content_digest,omitempty"`
	Detections    map[string]bool `json:"detections,omitempty"`
	Source        string          `json:"source,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Verdict sources recorded in history rows.
const (
	SourceSync  = "sync"
	SourceAsync = "async"
	SourceMock  = "mock"
)

// FromResponse builds an Entry from a verdict. The content digest ties the
// row back to the profile/content combination without retaining the prompt;
// verdicts recovered by polling, where the original contents are no longer
// at hand, carry no digest.
func FromResponse(resp *aisecurity.ScanResponse, req aisecurity.ScanRequest, source string) Entry {
	e := Entry{
		ScanID:      resp.ScanID,
		ReportID:    resp.ReportID,
		TrID:        resp.TrID,
		ProfileID:   resp.ProfileID,
		ProfileName: resp.ProfileName,
		Category:    resp.Category,
		Action:      resp.Action,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}
	if len(req.Contents) > 0 {
		e.ContentDigest = aisecurity.VerdictKey(req.AIProfile, req.Contents)
	}
	if resp.PromptDetected != nil {
		e.Detections = map[string]bool{
			"url_cats":  resp.PromptDetected.URLCats,
			"dlp":       resp.PromptDetected.DLP,
			"injection": resp.PromptDetected.Injection,
		}
	}
	return e
}

// Store reads and writes verdict history rows.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using a lib/pq connection string.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the history table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_history (
		id BIGSERIAL PRIMARY KEY,
		scan_id VARCHAR(255) NOT NULL,
		report_id VARCHAR(255),
		tr_id VARCHAR(255),
		profile_id VARCHAR(255),
		profile_name VARCHAR(255),
		category VARCHAR(50),
		action VARCHAR(50),
		content_digest VARCHAR(64),
		detections JSONB,
		source VARCHAR(20),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_scan_history_scan_id ON scan_history(scan_id);
	CREATE INDEX IF NOT EXISTS idx_scan_history_action ON scan_history(action);
	CREATE INDEX IF NOT EXISTS idx_scan_history_created_at ON scan_history(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

const insertSQL = `
	INSERT INTO scan_history (
		scan_id, report_id, tr_id, profile_id, profile_name,
		category, action, content_digest, detections, source, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Record inserts one verdict row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	detections, err := json.Marshal(e.Detections)
	if err != nil {
		return fmt.Errorf("history: encode detections: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, insertSQL,
		e.ScanID, e.ReportID, e.TrID, e.ProfileID, e.ProfileName,
		e.Category, e.Action, e.ContentDigest, detections, e.Source, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: record verdict: %w", err)
	}
	return nil
}

// recordBatch inserts entries in one transaction.
func (s *Store) recordBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("history: prepare batch insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		detections, err := json.Marshal(e.Detections)
		if err != nil {
			return fmt.Errorf("history: encode detections: %w", err)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			e.ScanID, e.ReportID, e.TrID, e.ProfileID, e.ProfileName,
			e.Category, e.Action, e.ContentDigest, detections, e.Source, e.CreatedAt); err != nil {
			return fmt.Errorf("history: batch insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit batch: %w", err)
	}
	return nil
}

const selectColumns = `
	scan_id, report_id, tr_id, profile_id, profile_name,
	category, action, content_digest, detections, source, created_at`

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scan_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// ByScanID returns the entries recorded for one scan.
func (s *Store) ByScanID(ctx context.Context, scanID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scan_history WHERE scan_id = $1 ORDER BY created_at DESC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("history: query by scan id: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var detections []byte
		if err := rows.Scan(
			&e.ScanID, &e.ReportID, &e.TrID, &e.ProfileID, &e.ProfileName,
			&e.Category, &e.Action, &e.ContentDigest, &detections, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		if len(detections) > 0 {
			_ = json.Unmarshal(detections, &e.Detections)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByAction returns row counts grouped by verdict action.
func (s *Store) CountByAction(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM scan_history GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("history: count by action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("history: scan count row: %w", err)
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recorder decouples verdict recording from the scan hot path. Entries are
// queued, batched, and flushed by a background worker; when the queue is
// full the entry is dropped and counted rather than blocking a scan.
type Recorder struct {
	store      *Store
	log        logrus.FieldLogger
	queue      chan Entry
	batchSize  int
	flushEvery time.Duration

	dropped atomic.Uint64
	wg      sync.WaitGroup
	done    chan struct{}
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize bounds the number of entries waiting to be flushed.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithBatchSize sets how many entries a flush writes at once.
func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval sets how often a partial batch is flushed.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flushEvery = d
		}
	}
}

// WithRecorderLogger routes recorder diagnostics to the given logger.
func WithRecorderLogger(log logrus.FieldLogger) RecorderOption {
	return func(r *Recorder) { r.log = log }
}

// NewRecorder starts the background flush worker.
func NewRecorder(store *Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		log:        logrus.StandardLogger(),
		queue:      make(chan Entry, 1024),
		batchSize:  32,
		flushEvery: 5 * time.Second,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues one entry. It never blocks; entries that do not fit are
// dropped and counted.
func (r *Recorder) Record(e Entry) {
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.recordBatch(context.Background(), batch); err != nil {
			r.log.WithError(err).Warn("Verdict history flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-r.queue:
			batch = append(batch, e)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is queued, then flush once more.
			for {
				select {
				case e := <-r.queue:
					batch = append(batch, e)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown stops the worker after draining the queue. It returns early with
// the context error if draining takes too long.
func (r *Recorder) Shutdown(ctx context.Context) error {
	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
