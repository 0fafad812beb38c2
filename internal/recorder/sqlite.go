package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so readers (dashboards, the API) don't block the bot's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL UNIQUE,
			account     TEXT NOT NULL,
			state       TEXT NOT NULL,
			has_result  INTEGER NOT NULL DEFAULT 0,
			wins        INTEGER,
			losses      INTEGER,
			profit      INTEGER,
			error       TEXT,
			forced      INTEGER NOT NULL DEFAULT 0,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_finished ON run_history(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_account ON run_history(account)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(evt *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO run_history
		(run_id, account, state, has_result, wins, losses, profit, error, forced, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		evt.RunID, evt.Account, evt.State, boolInt(evt.HasResult),
		evt.Wins, evt.Losses, evt.Profit, evt.Error, boolInt(evt.Forced),
		evt.StartedAt.UnixMilli(), evt.FinishedAt.UnixMilli(),
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (r *SQLiteRecorder) RecentRuns(limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT run_id, account, state, has_result, wins, losses, profit,
		error, forced, started_at, finished_at
		FROM run_history ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var (
			evt               RunEvent
			hasResult, forced int
			started, finished int64
			errText           sql.NullString
		)
		if err := rows.Scan(&evt.RunID, &evt.Account, &evt.State, &hasResult,
			&evt.Wins, &evt.Losses, &evt.Profit, &errText, &forced, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		evt.HasResult = hasResult != 0
		evt.Forced = forced != 0
		evt.Error = errText.String
		evt.StartedAt = time.UnixMilli(started)
		evt.FinishedAt = time.UnixMilli(finished)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
