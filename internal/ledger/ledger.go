// Package ledger records what each seeding run created in a local SQLite
// database so runs can be listed and audited afterwards.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joshsymonds/convseed/internal/circuit"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// Ledger is a SQLite-backed record of seeding runs. It satisfies seed.Recorder.
type Ledger struct {
	db *sql.DB
}

// RunSummary aggregates one recorded run.
type RunSummary struct {
	ID            string     `json:"run_id"`
	Domain        string     `json:"domain"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	Conversations int        `json:"conversations"`
	Posts         int        `json:"posts"`
	Replies       int        `json:"replies"`
	Likes         int        `json:"likes"`
	Flags         int        `json:"flags"`
}

// Open opens the database at path. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*Ledger, error) {
	dsn := strings.TrimSpace(path)
	inMemory := dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	l := &Ledger{db: db}
	if err := l.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            domain TEXT NOT NULL,
            started_at INTEGER NOT NULL,
            finished_at INTEGER,
            status TEXT NOT NULL,
            error TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS conversations (
            run_id TEXT NOT NULL,
            id TEXT NOT NULL,
            kind TEXT NOT NULL,
            topic TEXT NOT NULL,
            participants INTEGER NOT NULL,
            PRIMARY KEY(run_id, id),
            FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS items (
            run_id TEXT NOT NULL,
            id TEXT NOT NULL,
            conv_id TEXT NOT NULL,
            parent_id TEXT NOT NULL DEFAULT '',
            attachments INTEGER NOT NULL,
            created_at INTEGER NOT NULL,
            PRIMARY KEY(run_id, id),
            FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS reactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            item_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_items_conv ON items(run_id, conv_id);`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_run_kind ON reactions(run_id, kind);`,
	}
	for _, statement := range statements {
		if _, err := l.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (l *Ledger) BeginRun(ctx context.Context, runID, domain string, started time.Time) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO runs (id, domain, started_at, status)
        VALUES (?, ?, ?, ?);`, runID, domain, started.UnixMilli(), StatusRunning)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (l *Ledger) Conversations(ctx context.Context, runID string, convs []circuit.Conversation) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range convs {
			_, err := tx.ExecContext(ctx, `INSERT INTO conversations (run_id, id, kind, topic, participants)
                VALUES (?, ?, ?, ?, ?);`, runID, string(c.ID), string(c.Kind), c.Topic, len(c.Participants))
			if err != nil {
				return fmt.Errorf("insert conversation %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (l *Ledger) Items(ctx context.Context, runID string, items []circuit.Item) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			created := it.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO items (run_id, id, conv_id, parent_id, attachments, created_at)
                VALUES (?, ?, ?, ?, ?, ?);`,
				runID, string(it.ID), string(it.ConvID), string(it.ParentID), len(it.Attachments), created.UnixMilli())
			if err != nil {
				return fmt.Errorf("insert item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

func (l *Ledger) Reactions(ctx context.Context, runID, kind string, items []circuit.Item) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			_, err := tx.ExecContext(ctx, `INSERT INTO reactions (run_id, item_id, kind) VALUES (?, ?, ?);`,
				runID, string(it.ID), kind)
			if err != nil {
				return fmt.Errorf("insert %s reaction: %w", kind, err)
			}
		}
		return nil
	})
}

// EndRun closes a run as succeeded, or failed when runErr is set.
func (l *Ledger) EndRun(ctx context.Context, runID string, finished time.Time, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := l.db.ExecContext(ctx, `UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?;`,
		finished.UnixMilli(), status, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const summarySelect = `SELECT r.id, r.domain, r.started_at, r.finished_at, r.status, r.error,
    (SELECT COUNT(*) FROM conversations c WHERE c.run_id = r.id),
    (SELECT COUNT(*) FROM items i WHERE i.run_id = r.id AND i.parent_id = ''),
    (SELECT COUNT(*) FROM items i WHERE i.run_id = r.id AND i.parent_id <> ''),
    (SELECT COUNT(*) FROM reactions x WHERE x.run_id = r.id AND x.kind = 'like'),
    (SELECT COUNT(*) FROM reactions x WHERE x.run_id = r.id AND x.kind = 'flag')
    FROM runs r`

func (l *Ledger) Summary(ctx context.Context, runID string) (RunSummary, error) {
	row := l.db.QueryRowContext(ctx, summarySelect+` WHERE r.id = ?;`, runID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return sum, err
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, summarySelect+` ORDER BY r.started_at DESC, r.id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var (
		sum      RunSummary
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&sum.ID, &sum.Domain, &started, &finished, &sum.Status, &sum.Error,
		&sum.Conversations, &sum.Posts, &sum.Replies, &sum.Likes, &sum.Flags)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunSummary{}, err
		}
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	sum.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		sum.FinishedAt = &t
	}
	return sum, nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
