package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// DualWriter applies every mutation batch to the disk store first and, once
// disk has committed, to the memory mirror. Disk is the source of truth: a
// disk failure fails the whole operation, a mirror failure is logged and
// absorbed because durability was already achieved.
type DualWriter struct {
	disk   *GraphStore
	mirror *GraphStore
	log    *slog.Logger
	synced atomic.Bool
}

// NewDualWriter composes the two stores. mirror may be nil for single-store
// operation.
func NewDualWriter(disk, mirror *GraphStore, log *slog.Logger) *DualWriter {
	if log == nil {
		log = slog.Default()
	}
	return &DualWriter{disk: disk, mirror: mirror, log: log}
}

// Apply runs the batch against disk in one transaction. On success the
// identical batch runs against the mirror in its own transaction. A mirror
// failure demotes reads to disk; the next successful Apply repairs the
// divergence with a full resync.
func (d *DualWriter) Apply(batch func(tx *sql.Tx) error) error {
	if err := d.disk.WithTx(batch); err != nil {
		return fmt.Errorf("durable store write: %w", err)
	}

	if d.mirror == nil {
		return nil
	}

	if !d.synced.Load() {
		// Mirror diverged earlier; the committed batch is already on disk,
		// so a full copy brings the mirror current.
		if err := d.Sync(); err != nil {
			d.log.Warn("mirror resync failed, serving reads from disk", "error", err)
		}
		return nil
	}

	if err := d.mirror.WithTx(batch); err != nil {
		d.log.Warn("mirror write failed, serving reads from disk", "error", err)
		d.synced.Store(false)
	}
	return nil
}

// Reader returns the store the read path should use: the mirror when it is
// configured and in sync, otherwise disk.
func (d *DualWriter) Reader() *GraphStore {
	if d.mirror != nil && d.synced.Load() {
		return d.mirror
	}
	return d.disk
}

// Disk returns the authoritative store.
func (d *DualWriter) Disk() *GraphStore {
	return d.disk
}

// Mirror returns the mirror store, nil when not configured.
func (d *DualWriter) Mirror() *GraphStore {
	return d.mirror
}

// MirrorEnabled reports whether a mirror is configured.
func (d *DualWriter) MirrorEnabled() bool {
	return d.mirror != nil
}

// MirrorSynced reports whether the mirror currently serves reads.
func (d *DualWriter) MirrorSynced() bool {
	return d.mirror != nil && d.synced.Load()
}

// Sync copies every table from disk into the mirror so RAM and disk start
// consistent. Existing mirror rows are discarded first, which also makes
// Sync the repair path after a mirror write failure. No reads or writes may
// be served between construction and Sync.
func (d *DualWriter) Sync() error {
	if d.mirror == nil {
		return nil
	}

	err := d.mirror.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"memory_activations", "memories", "edges", "nodes"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := d.copyNodes(tx); err != nil {
			return err
		}
		if err := d.copyEdges(tx); err != nil {
			return err
		}
		if err := d.copyMemories(tx); err != nil {
			return err
		}
		return d.copyActivations(tx)
	})
	if err != nil {
		d.synced.Store(false)
		return fmt.Errorf("mirror sync: %w", err)
	}

	d.synced.Store(true)
	return nil
}

func (d *DualWriter) copyNodes(tx *sql.Tx) error {
	rows, err := d.disk.db.Query(`
		SELECT id, slug, name, category, keywords, prototype_phrases, description,
		       activation_count, last_activated
		FROM nodes
	`)
	if err != nil {
		return fmt.Errorf("read nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, count                               int64
			slug, name, category, kw, phrases, desc string
			lastActivated                           sql.NullFloat64
		)
		if err := rows.Scan(&id, &slug, &name, &category, &kw, &phrases, &desc, &count, &lastActivated); err != nil {
			return fmt.Errorf("scan node: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO nodes (id, slug, name, category, keywords, prototype_phrases,
			                   description, activation_count, last_activated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, slug, name, category, kw, phrases, desc, count, lastActivated)
		if err != nil {
			return fmt.Errorf("copy node %s: %w", slug, err)
		}
	}
	return rows.Err()
}

func (d *DualWriter) copyEdges(tx *sql.Tx) error {
	rows, err := d.disk.db.Query(`
		SELECT id, source_id, target_id, weight, co_activation_count,
		       last_coactivated, last_strengthened
		FROM edges
	`)
	if err != nil {
		return fmt.Errorf("read edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, src, dst, count       int64
			weight                    float64
			coactivated, strengthened sql.NullFloat64
		)
		if err := rows.Scan(&id, &src, &dst, &weight, &count, &coactivated, &strengthened); err != nil {
			return fmt.Errorf("scan edge: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO edges (id, source_id, target_id, weight, co_activation_count,
			                   last_coactivated, last_strengthened)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, src, dst, weight, count, coactivated, strengthened)
		if err != nil {
			return fmt.Errorf("copy edge %d: %w", id, err)
		}
	}
	return rows.Err()
}

func (d *DualWriter) copyMemories(tx *sql.Tx) error {
	rows, err := d.disk.db.Query(`
		SELECT id, memory_id, content, source, metadata, importance,
		       effective_importance, created_at, last_accessed, access_count
		FROM memories
	`)
	if err != nil {
		return fmt.Errorf("read memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m MemoryRow
		if err := rows.Scan(&m.ID, &m.MemoryID, &m.Content, &m.Source, &m.Metadata,
			&m.Importance, &m.EffectiveImportance, &m.CreatedAt, &m.LastAccessed, &m.AccessCount); err != nil {
			return fmt.Errorf("scan memory: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO memories (id, memory_id, content, source, metadata, importance,
			                      effective_importance, created_at, last_accessed, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.MemoryID, m.Content, m.Source, m.Metadata, m.Importance,
			m.EffectiveImportance, m.CreatedAt, m.LastAccessed, m.AccessCount)
		if err != nil {
			return fmt.Errorf("copy memory %s: %w", m.MemoryID, err)
		}
	}
	return rows.Err()
}

func (d *DualWriter) copyActivations(tx *sql.Tx) error {
	rows, err := d.disk.db.Query(`
		SELECT id, memory_id, node_id, activation_strength FROM memory_activations
	`)
	if err != nil {
		return fmt.Errorf("read activations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, nodeID int64
			memoryID   string
			strength   float64
		)
		if err := rows.Scan(&id, &memoryID, &nodeID, &strength); err != nil {
			return fmt.Errorf("scan activation: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO memory_activations (id, memory_id, node_id, activation_strength)
			VALUES (?, ?, ?, ?)
		`, id, memoryID, nodeID, strength)
		if err != nil {
			return fmt.Errorf("copy activation %d: %w", id, err)
		}
	}
	return rows.Err()
}
