package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/use-agent/harvest/models"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps sessions in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("session: sqlite store needs a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("session: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: enable WAL: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id       TEXT PRIMARY KEY,
		state    TEXT NOT NULL,
		cookies  INTEGER NOT NULL,
		origins  INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: create table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.SessionState, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: query %s: %w", id, err)
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, state *models.SessionState) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO sessions (id, state, cookies, origins, saved_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		cookies = excluded.cookies,
		origins = excluded.origins,
		saved_at = excluded.saved_at`,
		id, string(data), len(state.Cookies), len(state.LocalStorage), state.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, cookies, origins, saved_at FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []models.SessionInfo
	for rows.Next() {
		var si models.SessionInfo
		var savedAt int64
		if err := rows.Scan(&si.ID, &si.Cookies, &si.Origins, &savedAt); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		si.SavedAt = time.Unix(0, savedAt).UTC()
		out = append(out, si)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
