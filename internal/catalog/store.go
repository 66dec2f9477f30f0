// File path: internal/catalog/store.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Source is one catalog row describing an ingested document.
type Source struct {
	Source     string    `db:"source" json:"source"`
	DocType    string    `db:"doc_type" json:"doc_type"`
	ChunkCount int       `db:"chunk_count" json:"chunk_count"`
	IngestedAt time.Time `db:"ingested_at" json:"ingested_at"`
}

// Store wraps a pooled sqlx.DB connection to the SQLite source catalog.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided
// path. The schema is migrated automatically on first use.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("catalog path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`CREATE TABLE IF NOT EXISTS sources (
                source TEXT PRIMARY KEY,
                doc_type TEXT,
                chunk_count INTEGER NOT NULL DEFAULT 0,
                ingested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE INDEX IF NOT EXISTS idx_sources_ingested ON sources(ingested_at);`,
}

// RecordSource inserts or replaces the catalog row for a source.
func (s *Store) RecordSource(ctx context.Context, source, docType string, chunkCount int, ingestedAt time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store not initialised")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return errors.New("source required")
	}
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO sources (source, doc_type, chunk_count, ingested_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(source) DO UPDATE SET
                        doc_type = excluded.doc_type,
                        chunk_count = excluded.chunk_count,
                        ingested_at = excluded.ingested_at;`
	if _, err := s.db.ExecContext(ctx, query, source, docType, chunkCount, ingestedAt.UTC()); err != nil {
		return fmt.Errorf("record source %s: %w", source, err)
	}
	return nil
}

// RemoveSource deletes the catalog row for a source. Removing an unknown
// source is not an error.
func (s *Store) RemoveSource(ctx context.Context, source string) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store not initialised")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE source = ?;`, strings.TrimSpace(source)); err != nil {
		return fmt.Errorf("remove source %s: %w", source, err)
	}
	return nil
}

// ListSources returns every cataloged source, most recently ingested first.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("catalog store not initialised")
	}
	var sources []Source
	const query = `SELECT source, doc_type, chunk_count, ingested_at
                FROM sources ORDER BY ingested_at DESC, source ASC;`
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}
