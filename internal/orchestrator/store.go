package orchestrator

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/outcome-labs/oswap/internal/model"
)

// Run is one journaled execution, persisted at every state transition so
// an interrupted run can still be inspected afterwards.
type Run struct {
	RunID     string            `json:"run_id"`
	Action    string            `json:"action"`
	Venue     string            `json:"venue"`
	State     string            `json:"state"`
	Request   model.SwapRequest `json:"request"`
	Result    RunResult         `json:"result"`
	UpdatedAt string            `json:"updated_at"`
}

func NewRunID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "run-unknown"
	}
	return fmt.Sprintf("run_%s", hex.EncodeToString(b))
}

// Journal records runs in a local sqlite database guarded by a file lock
// so concurrent invocations do not interleave writes.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create run lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			venue TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_runs_state_updated ON runs(state, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init run journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(run Run) error {
	if strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("save run: missing run id")
	}
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock run journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock run journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	updatedUnix, ok := parseRFC3339Unix(run.UpdatedAt)
	if !ok {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = j.db.Exec(`
		INSERT INTO runs (run_id, action, venue, state, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			action=excluded.action,
			venue=excluded.venue,
			state=excluded.state,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, run.RunID, run.Action, run.Venue, run.State, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (j *Journal) Get(runID string) (Run, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM runs WHERE run_id = ?", runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("run not found: %s", runID)
		}
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return Run{}, fmt.Errorf("decode run payload: %w", err)
	}
	return run, nil
}

func (j *Journal) List(state string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(state) == "" {
		rows, err = j.db.Query("SELECT payload FROM runs ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM runs WHERE state = ? ORDER BY updated_at DESC LIMIT ?", state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var run Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
