package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/obsidianstack/sentinel/pkg/types"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT    NOT NULL,
    service     TEXT    NOT NULL,
    kind        TEXT    NOT NULL DEFAULT '',
    severity    TEXT    NOT NULL DEFAULT '',
    failure     INTEGER NOT NULL DEFAULT 0,
    body        TEXT    NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_recorded_at ON records(recorded_at);
CREATE INDEX IF NOT EXISTS idx_records_service     ON records(service, recorded_at DESC);
`

// ArchivedRecord is one row of the archive.
type ArchivedRecord struct {
	ID         int64
	RunID      string
	Service    string
	Kind       types.Kind
	Severity   types.Severity
	Failure    bool
	Record     types.Record
	RecordedAt time.Time
}

// ArchiveQuery filters Archive.Query. Zero fields match everything.
type ArchiveQuery struct {
	Service string
	RunID   string
	Since   time.Time
	Limit   int
}

// Archive appends report records to a SQLite database and prunes rows older
// than the retention window after each publish.
type Archive struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// OpenArchive opens (or creates) the archive database at path. A zero
// retention keeps records forever.
func OpenArchive(path string, retention time.Duration) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("archive: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite %q: %w", path, err)
	}
	// One connection: SQLite serialises writers and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: enable WAL: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Archive{db: db, retention: retention, now: time.Now}, nil
}

// Close releases the database.
func (a *Archive) Close() error { return a.db.Close() }

// Name implements Sink.
func (a *Archive) Name() string { return "archive" }

// Publish implements Sink. All records of the report are inserted in one
// transaction.
func (a *Archive) Publish(ctx context.Context, rep *types.Report) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO records(run_id, service, kind, severity, failure, body, recorded_at)
        VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range rep.Signals {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("archive: encode record: %w", err)
		}
		var (
			kind     string
			severity string
			failure  bool
			at       = rep.GeneratedAt
		)
		switch {
		case rec.Signal != nil:
			kind, severity, at = string(rec.Signal.Kind), string(rec.Signal.Severity), rec.Signal.Timestamp
		case rec.Failure != nil:
			failure, at = true, rec.Failure.Timestamp
		}
		if _, err := stmt.ExecContext(ctx,
			rep.RunID, rec.Service(), kind, severity, failure, string(body), at.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("archive: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}

	pruned, err := a.Prune(ctx)
	if err != nil {
		return err
	}
	slog.Info("report: archived", "run_id", rep.RunID, "records", len(rep.Signals), "pruned", pruned)
	return nil
}

// Prune deletes records older than the retention window and returns how many
// rows were removed.
func (a *Archive) Prune(ctx context.Context) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	cutoff := a.now().Add(-a.retention).UTC().UnixMilli()
	res, err := a.db.ExecContext(ctx, `DELETE FROM records WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Query returns archived records, newest first.
func (a *Archive) Query(ctx context.Context, q ArchiveQuery) ([]*ArchivedRecord, error) {
	query := `SELECT id, run_id, service, kind, severity, failure, body, recorded_at FROM records WHERE 1=1`
	args := []any{}

	if q.Service != "" {
		query += ` AND service = ?`
		args = append(args, q.Service)
	}
	if q.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	}
	if !q.Since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, q.Since.UTC().UnixMilli())
	}
	query += ` ORDER BY recorded_at DESC, id DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedRecord
	for rows.Next() {
		r := &ArchivedRecord{}
		var (
			kind, severity, body string
			ms                   int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Service, &kind, &severity, &r.Failure, &body, &ms); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &r.Record); err != nil {
			return nil, fmt.Errorf("archive: decode record %d: %w", r.ID, err)
		}
		r.Kind, r.Severity = types.Kind(kind), types.Severity(severity)
		r.RecordedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
