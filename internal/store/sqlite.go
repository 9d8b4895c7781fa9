package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/migrations"
)

// SQLiteStore mirrors every export into a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath, applies pragmas and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Save inserts one export of the session with its responses and events in
// one transaction. Each export of a session gets its own row.
func (s *SQLiteStore) Save(ctx context.Context, snap experiment.Snapshot) (experiment.Handles, error) {
	h := experiment.ExportNames(snap)
	seq := snap.Sequence
	if seq < 1 {
		seq = 1
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return experiment.Handles{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	exportID := ulid.Make().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, session_id, export_seq, grp, variation, results_name, log_name, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exportID, snap.SessionID, seq, string(snap.Group), string(snap.Variation), h.Results, h.Log,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano), snap.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return experiment.Handles{}, fmt.Errorf("insert session: %w", err)
	}

	for i, r := range snap.Responses {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO responses (id, export_id, session_id, seq, chart_number, condition, grp, variation, recorded_at,
				question_number, question_text, answer, answer_text, response_time_seconds, confidence, memory_estimate, phase)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ulid.Make().String(), exportID, snap.SessionID, i, r.ChartNumber, r.Condition, string(r.Group), string(r.Variation),
			r.Timestamp.UTC().Format(time.RFC3339Nano), nullInt(r.QuestionNumber), r.QuestionText, nullString(r.Answer),
			r.AnswerText, r.ResponseTimeSeconds, nullInt(r.Confidence), nullInt(r.MemoryEstimate), string(r.Phase))
		if err != nil {
			return experiment.Handles{}, fmt.Errorf("insert response %d: %w", i, err)
		}
	}

	for i, e := range snap.Events {
		var extra sql.NullString
		if len(e.Extra) > 0 {
			b, err := json.Marshal(e.Extra)
			if err != nil {
				return experiment.Handles{}, fmt.Errorf("encode extra: %w", err)
			}
			extra = sql.NullString{String: string(b), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, export_id, session_id, seq, recorded_at, stage, grp, variation, graph_index, question_index, action_label, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ulid.Make().String(), exportID, snap.SessionID, i, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Stage),
			string(e.Group), string(e.Variation), e.GraphIndex, e.QuestionIndex, e.Action, extra)
		if err != nil {
			return experiment.Handles{}, fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return experiment.Handles{}, fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

const latestExport = `(SELECT id FROM sessions WHERE session_id = ? ORDER BY export_seq DESC LIMIT 1)`

// CountExports returns how many exports of a session are stored.
func (s *SQLiteStore) CountExports(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}

// CountResponses returns the responses of the latest export of a session
// and how many of them have no answer.
func (s *SQLiteStore) CountResponses(ctx context.Context, sessionID string) (total, unanswered int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN answer IS NULL AND question_number IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM responses WHERE export_id = `+latestExport, sessionID).Scan(&total, &unanswered)
	return total, unanswered, err
}

// CountEvents returns the events of the latest export of a session.
func (s *SQLiteStore) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE export_id = "+latestExport, sessionID).Scan(&n)
	return n, err
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
