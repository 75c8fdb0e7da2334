// Package store persists the unit cache and the glossary in a SQLite file
// shared by every run and every stage.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/cache"
)

// Store is the SQLite-backed unit cache and glossary table. It satisfies
// cache.Store and tolerates several processes sharing one file (WAL,
// busy timeout).
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- cache_entries stores validated unit outputs of both stages
	CREATE TABLE IF NOT EXISTS cache_entries (
		stage TEXT NOT NULL,
		unit_hash TEXT NOT NULL,
		param_hash TEXT NOT NULL,
		output TEXT NOT NULL,
		flags TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (stage, unit_hash, param_hash)
	);

	-- glossary stores user-defined terminology for consistent translation of specific terms
	CREATE TABLE IF NOT EXISTS glossary (
		id TEXT PRIMARY KEY,
		source_term TEXT NOT NULL,
		target_term TEXT NOT NULL,
		enforce BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_term)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_stage ON cache_entries(stage);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the cached output for key, if any.
func (s *Store) Lookup(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	var e cache.Entry
	var flags string
	err := s.db.QueryRowContext(ctx,
		`SELECT output, flags, created_at FROM cache_entries WHERE stage = ? AND unit_hash = ? AND param_hash = ?`,
		string(key.Stage), key.UnitHash, key.ParamHash).Scan(&e.Output, &flags, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	e.Flags = splitFlags(flags)
	return e, true, nil
}

// Put stores entry under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key cache.Key, entry cache.Entry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (stage, unit_hash, param_hash, output, flags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(key.Stage), key.UnitHash, key.ParamHash, entry.Output, strings.Join(entry.Flags, ","), created)
	return err
}

// CacheEntry is a row from the cache_entries table.
type CacheEntry struct {
	Stage     internal.Stage
	UnitHash  string
	ParamHash string
	Output    string
	Flags     []string
	CreatedAt time.Time
}

// CacheStats summarises cache usage per stage.
type CacheStats struct {
	TotalEntries     int
	TranslateEntries int
	RefineEntries    int
	TotalBytes       int
}

// ListEntries returns cache entries, newest first. An empty stage lists both.
func (s *Store) ListEntries(ctx context.Context, stage internal.Stage) ([]CacheEntry, error) {
	query := `SELECT stage, unit_hash, param_hash, output, flags, created_at FROM cache_entries`
	var args []interface{}
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, string(stage))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var st, flags string
		if err := rows.Scan(&st, &e.UnitHash, &e.ParamHash, &e.Output, &flags, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Stage = internal.Stage(st)
		e.Flags = splitFlags(flags)
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the cache.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN stage = 'translate' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN stage = 'refine' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(LENGTH(CAST(output AS BLOB))), 0)
		FROM cache_entries`).Scan(
		&stats.TotalEntries,
		&stats.TranslateEntries,
		&stats.RefineEntries,
		&stats.TotalBytes,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ClearStage removes every entry of one stage and returns how many were removed.
func (s *Store) ClearStage(ctx context.Context, stage internal.Stage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE stage = ?`, string(stage))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clear removes all cache entries.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// GlossaryEntry represents a row in the glossary table.
type GlossaryEntry struct {
	ID         string
	SourceTerm string
	TargetTerm string
	Enforce    bool
	CreatedAt  time.Time
}

// AddGlossaryTerm inserts or replaces the entry for sourceTerm.
func (s *Store) AddGlossaryTerm(ctx context.Context, sourceTerm, targetTerm string, enforce bool) error {
	sourceTerm, targetTerm = normalizeText(sourceTerm), normalizeText(targetTerm)
	if sourceTerm == "" || targetTerm == "" {
		return fmt.Errorf("glossary term and translation must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO glossary (id, source_term, target_term, enforce)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sourceTerm, targetTerm, enforce)
	return err
}

// ListGlossaryTerms returns all glossary entries ordered by source term.
func (s *Store) ListGlossaryTerms(ctx context.Context) ([]GlossaryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_term, target_term, enforce, created_at FROM glossary ORDER BY source_term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []GlossaryEntry
	for rows.Next() {
		var e GlossaryEntry
		if err := rows.Scan(&e.ID, &e.SourceTerm, &e.TargetTerm, &e.Enforce, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteGlossaryTerm removes a glossary entry by ID or by source term.
func (s *Store) DeleteGlossaryTerm(ctx context.Context, idOrTerm string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM glossary WHERE id = ? OR source_term = ?`, idOrTerm, normalizeText(idOrTerm))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
