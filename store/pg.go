package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL             string `yaml:"url" json:"url"`
	MaxConns        int32  `yaml:"max_conns" json:"max_conns"`
	MinConns        int32  `yaml:"min_conns" json:"min_conns"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
}

// PGStore is a Records implementation keeping documents as JSONB.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore connects to PostgreSQL and applies pending migrations.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(cfg.MaxConnIdleTime)
		if err != nil {
			return nil, fmt.Errorf("parse max_conn_idle_time: %w", err)
		}
		poolCfg.MaxConnIdleTime = d
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	if err := NewMigrator(pool).Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool, now: time.Now}, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) List(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM records WHERE tbl = $1 ORDER BY created_at, id`, table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, table, id string) (Record, error) {
	return s.scanOne(ctx, s.pool.QueryRow(ctx, `SELECT doc FROM records WHERE tbl = $1 AND id = $2`, table, id), table, id)
}

func (s *PGStore) Create(ctx context.Context, table string, rec Record) (Record, error) {
	out := prepareCreate(rec, s.now())
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO records (tbl, id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())`,
		table, out.ID(), doc)
	if err != nil {
		if isDuplicateError(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicate, table, out.ID())
		}
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

func (s *PGStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.scanOne(ctx, tx.QueryRow(ctx, `SELECT doc FROM records WHERE tbl = $1 AND id = $2 FOR UPDATE`, table, id), table, id)
	if err != nil {
		return nil, err
	}
	out := applyPatch(existing, patch, s.now())
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE records SET doc = $3, updated_at = NOW() WHERE tbl = $1 AND id = $2`, table, id, doc); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", table, err)
	}
	return out, nil
}

func (s *PGStore) Delete(ctx context.Context, table, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE tbl = $1 AND id = $2`, table, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

func (s *PGStore) scanOne(_ context.Context, row pgx.Row, table, id string) (Record, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
		}
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return rec, nil
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
