package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
)

// SQLiteStore keeps one row per provider
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database in WAL mode and creates the table
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS breaker_state (
		provider TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		snapshot JSON NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]breaker.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, snapshot FROM breaker_state`)
	if err != nil {
		return nil, fmt.Errorf("query breaker state: %w", err)
	}
	defer rows.Close()

	out := map[string]breaker.Snapshot{}
	for rows.Next() {
		var (
			provider string
			raw      []byte
		)
		if err := rows.Scan(&provider, &raw); err != nil {
			return nil, fmt.Errorf("scan breaker state: %w", err)
		}
		var snap breaker.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", provider, err)
		}
		out[provider] = snap
	}
	return out, rows.Err()
}

// Save replaces every row in one transaction
func (s *SQLiteStore) Save(ctx context.Context, snaps map[string]breaker.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM breaker_state`); err != nil {
		return fmt.Errorf("clear breaker state: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO breaker_state (provider, state, snapshot, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for provider, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot for %s: %w", provider, err)
		}
		if _, err := stmt.ExecContext(ctx, provider, snap.State, raw); err != nil {
			return fmt.Errorf("insert snapshot for %s: %w", provider, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM breaker_state`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
