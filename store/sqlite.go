package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	tbl        TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	PRIMARY KEY (tbl, id)
)`

// SQLiteStore is a Records implementation on an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) List(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM records WHERE tbl = ? ORDER BY seq`, table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, table, id string) (Record, error) {
	return s.get(ctx, s.db, table, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryRower, table, id string) (Record, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM records WHERE tbl = ? AND id = ?`, table, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Create(ctx context.Context, table string, rec Record) (Record, error) {
	out := prepareCreate(rec, s.now())
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, id, doc, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))`,
		table, out.ID(), string(doc))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicate, table, out.ID())
		}
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.get(ctx, tx, table, id)
	if err != nil {
		return nil, err
	}
	out := applyPatch(existing, patch, s.now())
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET doc = ? WHERE tbl = ? AND id = ?`, string(doc), table, id); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", table, err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}
