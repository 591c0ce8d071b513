// Package mind is the embedding-free associative memory core: it scores
// text against a concept vocabulary, stores memories, strengthens the
// association graph between co-activated concepts, and ages both memories
// and edges over time.
package mind

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/mindgraph/pkg/activation"
	"github.com/sipeed/mindgraph/pkg/config"
	"github.com/sipeed/mindgraph/pkg/decay"
	"github.com/sipeed/mindgraph/pkg/hebbian"
	"github.com/sipeed/mindgraph/pkg/store"
	"github.com/sipeed/mindgraph/pkg/vocab"
)

const maxContentLength = 100000

// Mind wires the scorer, the learning engine, the dual-written stores, and
// the decay sweeper behind the public operations. All mutating operations
// serialize on one write token; reads go to the mirror when it is in sync.
type Mind struct {
	cfg     *config.Config
	vocab   *vocab.Vocabulary
	scorer  *activation.Scorer
	engine  *hebbian.Engine
	dual    *store.DualWriter
	sweeper *decay.Sweeper
	log     *slog.Logger

	// writeMu is the process-wide write token shared with the sweeper.
	writeMu sync.Mutex

	nodeIDs   map[string]int64 // vocabulary slug -> row id
	nodeNames map[int64]string // row id -> display name
}

// New opens the stores, seeds the vocabulary, syncs the mirror, and builds
// the component graph. The sweeper is constructed but not started; call
// StartSweeper once the caller is ready for background writes.
func New(cfg *config.Config, v *vocab.Vocabulary, extractor activation.Extractor, log *slog.Logger) (*Mind, error) {
	if log == nil {
		log = slog.Default()
	}

	disk, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open disk store: %w", err)
	}

	var mirror *store.GraphStore
	if cfg.Storage.MirrorEnabled {
		mirror, err = store.OpenMemory()
		if err != nil {
			disk.Close()
			return nil, fmt.Errorf("open mirror store: %w", err)
		}
	}

	m := &Mind{
		cfg:   cfg,
		vocab: v,
		log:   log,
		dual:  store.NewDualWriter(disk, mirror, log),
	}

	if err := m.seedNodes(disk); err != nil {
		m.closeStores()
		return nil, err
	}
	if err := m.dual.Sync(); err != nil {
		m.closeStores()
		return nil, err
	}

	m.nodeIDs, err = disk.NodeIDsBySlug()
	if err != nil {
		m.closeStores()
		return nil, err
	}
	m.nodeNames, err = disk.NodeNamesByID()
	if err != nil {
		m.closeStores()
		return nil, err
	}

	m.scorer = activation.NewScorer(v, extractor, log)
	m.engine = hebbian.NewEngine(cfg.Learning)
	m.sweeper = decay.NewSweeper(m.dual, cfg.Decay, &m.writeMu, log)

	log.Info("mind ready",
		"nodes", v.Len(),
		"db", cfg.DBPath(),
		"mirror", m.dual.MirrorEnabled())
	return m, nil
}

// seedNodes inserts vocabulary nodes that are not yet stored. Counters on
// nodes that already exist are preserved across restarts.
func (m *Mind) seedNodes(disk *store.GraphStore) error {
	err := disk.WithTx(func(tx *sql.Tx) error {
		for _, n := range m.vocab.Nodes() {
			keywords, err := json.Marshal(n.Keywords)
			if err != nil {
				return fmt.Errorf("encode keywords for %s: %w", n.Slug, err)
			}
			phrases, err := json.Marshal(n.PrototypePhrases)
			if err != nil {
				return fmt.Errorf("encode phrases for %s: %w", n.Slug, err)
			}
			_, err = tx.Exec(`
				INSERT OR IGNORE INTO nodes (slug, name, category, keywords, prototype_phrases, description)
				VALUES (?, ?, ?, ?, ?, ?)
			`, n.Slug, n.Name, n.Category, string(keywords), string(phrases), n.Description)
			if err != nil {
				return fmt.Errorf("seed node %s: %w", n.Slug, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed vocabulary: %w", err)
	}
	return nil
}

// StartSweeper launches the background decay sweeper.
func (m *Mind) StartSweeper() {
	m.sweeper.Start()
}

// Sweeper exposes the sweeper for manual sweeps and status.
func (m *Mind) Sweeper() *decay.Sweeper {
	return m.sweeper
}

// Close stops the sweeper and closes both stores.
func (m *Mind) Close() error {
	m.sweeper.Stop()
	return m.closeStores()
}

func (m *Mind) closeStores() error {
	err := m.dual.Disk().Close()
	if mirror := m.dual.Mirror(); mirror != nil {
		if cerr := mirror.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SaveRequest is one inbound save.
type SaveRequest struct {
	Content    string
	Source     string
	Metadata   map[string]interface{}
	Importance float64 // 0 means the 0.5 default
	hasImport  bool
}

// WithImportance sets an explicit importance, distinguishing 0 from unset.
func (r SaveRequest) WithImportance(importance float64) SaveRequest {
	r.Importance = importance
	r.hasImport = true
	return r
}

// ActivatedNode is one concept a save or analyze activated.
type ActivatedNode struct {
	Slug            string
	Name            string
	Category        string
	Score           float64
	MatchedPatterns []string
	Boosted         bool
}

// EdgeChange is one edge created or strengthened by a save.
type EdgeChange struct {
	Source  string
	Target  string
	Weight  float64
	Created bool
}

// SaveResult reports what a save did.
type SaveResult struct {
	MemoryID          string
	ActivatedNodes    []ActivatedNode
	StrengthenedEdges []EdgeChange
}

// Save scores the content, persists the memory with its activation rows,
// and runs Hebbian learning over the activated set, all as one dual-written
// batch. Returns ErrNoActivation, with nothing written, when no concept
// crosses the threshold.
func (m *Mind) Save(req SaveRequest) (*SaveResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if len(req.Content) > maxContentLength {
		return nil, &ValidationError{Field: "content", Reason: "exceeds maximum length"}
	}

	importance := 0.5
	if req.hasImport {
		if req.Importance < 0 || req.Importance > 1 {
			return nil, &ValidationError{Field: "importance", Reason: "must be in [0, 1]"}
		}
		importance = req.Importance
	}

	metadata := "{}"
	if req.Metadata != nil {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, &ValidationError{Field: "metadata", Reason: "not encodable"}
		}
		metadata = string(data)
	}

	acts := m.scorer.Score(req.Content, m.cfg.Activation.Threshold)
	if len(acts) == 0 {
		return nil, ErrNoActivation
	}

	memoryID := newMemoryID()
	now := time.Now()
	nowSec := float64(now.Unix())

	nodeIDs := make([]int64, 0, len(acts))
	for _, a := range acts {
		nodeIDs = append(nodeIDs, m.nodeIDs[a.Node.Slug])
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var mutations []hebbian.EdgeMutation
	err := m.dual.Apply(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO memories (memory_id, content, source, metadata, importance,
			                      effective_importance, created_at, last_accessed, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, memoryID, req.Content, req.Source, metadata, importance, importance, nowSec, nowSec)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}

		for i, a := range acts {
			_, err := tx.Exec(`
				INSERT INTO memory_activations (memory_id, node_id, activation_strength)
				VALUES (?, ?, ?)
			`, memoryID, nodeIDs[i], a.Strength())
			if err != nil {
				return fmt.Errorf("insert activation: %w", err)
			}
		}

		mutations, err = m.engine.Learn(tx, nodeIDs, now)
		return err
	})
	if err != nil {
		m.log.Error("save failed", "memory_id", memoryID, "error", err)
		return nil, &DurabilityError{Err: err}
	}

	result := &SaveResult{MemoryID: memoryID}
	for _, a := range acts {
		result.ActivatedNodes = append(result.ActivatedNodes, activatedNode(a))
	}
	for _, mut := range mutations {
		result.StrengthenedEdges = append(result.StrengthenedEdges, EdgeChange{
			Source:  m.nodeNames[mut.SourceID],
			Target:  m.nodeNames[mut.TargetID],
			Weight:  mut.Weight,
			Created: mut.Created,
		})
	}
	return result, nil
}

// Analyze scores content without saving: no node counters move, no edges
// change, no rows are written. A negative threshold selects the configured
// default.
func (m *Mind) Analyze(content string, threshold float64) ([]ActivatedNode, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if threshold < 0 {
		threshold = m.cfg.Activation.Threshold
	}
	if threshold > 1 {
		return nil, &ValidationError{Field: "threshold", Reason: "must be in [0, 1]"}
	}

	acts := m.scorer.Score(content, threshold)
	out := make([]ActivatedNode, 0, len(acts))
	for _, a := range acts {
		out = append(out, activatedNode(a))
	}
	return out, nil
}

func activatedNode(a activation.Activation) ActivatedNode {
	return ActivatedNode{
		Slug:            a.Node.Slug,
		Name:            a.Node.Name,
		Category:        a.Node.Category,
		Score:           a.Score,
		MatchedPatterns: a.MatchedPatterns,
		Boosted:         a.Boosted,
	}
}

func newMemoryID() string {
	return "mem_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
