package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as REAL unix seconds so decay math needs no parsing.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	slug              TEXT UNIQUE NOT NULL,
	name              TEXT UNIQUE NOT NULL,
	category          TEXT NOT NULL,
	keywords          TEXT NOT NULL,
	prototype_phrases TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	activation_count  INTEGER NOT NULL DEFAULT 0,
	last_activated    REAL
);

CREATE TABLE IF NOT EXISTS edges (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id           INTEGER NOT NULL REFERENCES nodes(id),
	target_id           INTEGER NOT NULL REFERENCES nodes(id),
	weight              REAL NOT NULL,
	co_activation_count INTEGER NOT NULL DEFAULT 0,
	last_coactivated    REAL,
	last_strengthened   REAL,
	UNIQUE(source_id, target_id)
);

CREATE TABLE IF NOT EXISTS memories (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id            TEXT UNIQUE NOT NULL,
	content              TEXT NOT NULL,
	source               TEXT NOT NULL DEFAULT '',
	metadata             TEXT NOT NULL DEFAULT '{}',
	importance           REAL NOT NULL DEFAULT 0.5,
	effective_importance REAL NOT NULL,
	created_at           REAL NOT NULL,
	last_accessed        REAL NOT NULL,
	access_count         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_activations (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id           TEXT NOT NULL,
	node_id             INTEGER NOT NULL REFERENCES nodes(id),
	activation_strength REAL NOT NULL,
	UNIQUE(memory_id, node_id)
);

CREATE INDEX IF NOT EXISTS idx_nodes_category ON nodes(category);
CREATE INDEX IF NOT EXISTS idx_edges_weight ON edges(weight);
CREATE INDEX IF NOT EXISTS idx_edges_target_id ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_memories_effective_importance ON memories(effective_importance);
CREATE INDEX IF NOT EXISTS idx_memact_memory_id ON memory_activations(memory_id);
CREATE INDEX IF NOT EXISTS idx_memact_node_id ON memory_activations(node_id);
`

// GraphStore is one SQLite-backed instance of the graph tables. Two exist
// per process at most: the authoritative disk store and an optional
// memory-resident mirror.
type GraphStore struct {
	db   *sql.DB
	path string
}

// Open creates or opens the disk-backed store at path, enabling WAL mode.
func Open(path string) (*GraphStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &GraphStore{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory store. The pool is pinned to a single
// connection so every statement sees the same database.
func OpenMemory() (*GraphStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &GraphStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *GraphStore) createSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

// WithTx runs fn inside a single transaction. Any error rolls the whole
// batch back; readers never observe a partial batch.
func (s *GraphStore) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InMemory reports whether this store has no backing file.
func (s *GraphStore) InMemory() bool {
	return s.path == ""
}

// Path returns the backing file path, empty for the in-memory store.
func (s *GraphStore) Path() string {
	return s.path
}

// Close closes the underlying pool.
func (s *GraphStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
