package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// NodeRow is one concept node as stored.
type NodeRow struct {
	ID               int64
	Slug             string
	Name             string
	Category         string
	Keywords         string // JSON array
	PrototypePhrases string // JSON array
	Description      string
	ActivationCount  int64
	LastActivated    float64 // unix seconds, 0 when never activated
}

// EdgeRow is one undirected association, stored with source_id < target_id.
type EdgeRow struct {
	ID                int64
	SourceID          int64
	TargetID          int64
	Weight            float64
	CoActivationCount int64
	LastCoactivated   float64
	LastStrengthened  float64
}

// MemoryRow is one stored memory.
type MemoryRow struct {
	ID                  int64
	MemoryID            string
	Content             string
	Source              string
	Metadata            string
	Importance          float64
	EffectiveImportance float64
	CreatedAt           float64
	LastAccessed        float64
	AccessCount         int64
}

// MemoryHit is a query result: the memory plus the activations that matched,
// formatted name:strength as the original wire format did.
type MemoryHit struct {
	MemoryRow
	Activations string
	MaxStrength float64
}

// EdgeStat is a named edge for status reporting.
type EdgeStat struct {
	Source string
	Target string
	Weight float64
}

// Counts aggregates table sizes for status reporting.
type Counts struct {
	Nodes            int64
	Edges            int64
	Memories         int64
	TotalActivations int64
}

// NodeByName resolves a node by slug or by case-insensitive name. Returns
// nil when unknown; an unknown name is not an error.
func (s *GraphStore) NodeByName(name string) (*NodeRow, error) {
	row := s.db.QueryRow(`
		SELECT id, slug, name, category, keywords, prototype_phrases, description,
		       activation_count, COALESCE(last_activated, 0)
		FROM nodes
		WHERE slug = ? OR LOWER(name) = LOWER(?)
	`, name, name)

	var n NodeRow
	err := row.Scan(&n.ID, &n.Slug, &n.Name, &n.Category, &n.Keywords,
		&n.PrototypePhrases, &n.Description, &n.ActivationCount, &n.LastActivated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("node by name: %w", err)
	}
	return &n, nil
}

// AllNodes returns nodes ordered by category then name, capped at limit.
func (s *GraphStore) AllNodes(limit int) ([]NodeRow, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.Query(`
		SELECT id, slug, name, category, keywords, prototype_phrases, description,
		       activation_count, COALESCE(last_activated, 0)
		FROM nodes ORDER BY category, name LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []NodeRow
	for rows.Next() {
		var n NodeRow
		if err := rows.Scan(&n.ID, &n.Slug, &n.Name, &n.Category, &n.Keywords,
			&n.PrototypePhrases, &n.Description, &n.ActivationCount, &n.LastActivated); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// NodeIDsBySlug returns the slug to row-id mapping for the whole table.
func (s *GraphStore) NodeIDsBySlug() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT slug, id FROM nodes")
	if err != nil {
		return nil, fmt.Errorf("node ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var slug string
		var id int64
		if err := rows.Scan(&slug, &id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids[slug] = id
	}
	return ids, rows.Err()
}

// MemoryByID fetches a single memory row. Returns nil when absent.
func (s *GraphStore) MemoryByID(memoryID string) (*MemoryRow, error) {
	row := s.db.QueryRow(`
		SELECT id, memory_id, content, source, metadata, importance,
		       effective_importance, created_at, last_accessed, access_count
		FROM memories WHERE memory_id = ?
	`, memoryID)

	var m MemoryRow
	err := row.Scan(&m.ID, &m.MemoryID, &m.Content, &m.Source, &m.Metadata,
		&m.Importance, &m.EffectiveImportance, &m.CreatedAt, &m.LastAccessed, &m.AccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory by id: %w", err)
	}
	return &m, nil
}

// MemoriesByNodes returns memories whose activation rows reference any of
// the given nodes. Memories whose effective importance fell below
// decayThreshold are hidden unless includeDecayed is set. Ranked by the
// strongest matching activation, then by recency.
func (s *GraphStore) MemoriesByNodes(nodeIDs []int64, limit int, decayThreshold float64, includeDecayed bool) ([]MemoryHit, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(nodeIDs))
	args := make([]interface{}, 0, len(nodeIDs)+2)
	for i, id := range nodeIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	decayFilter := ""
	if !includeDecayed {
		decayFilter = " AND m.effective_importance >= ?"
		args = append(args, decayThreshold)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT m.id, m.memory_id, m.content, m.source, m.metadata, m.importance,
		       m.effective_importance, m.created_at, m.last_accessed, m.access_count,
		       GROUP_CONCAT(n.name || ':' || ma.activation_strength) AS activations,
		       MAX(ma.activation_strength) AS max_strength
		FROM memories m
		JOIN memory_activations ma ON m.memory_id = ma.memory_id
		JOIN nodes n ON ma.node_id = n.id
		WHERE ma.node_id IN (%s)%s
		GROUP BY m.id
		ORDER BY max_strength DESC, m.created_at DESC
		LIMIT ?
	`, strings.Join(placeholders, ","), decayFilter)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memories by nodes: %w", err)
	}
	defer rows.Close()

	var hits []MemoryHit
	for rows.Next() {
		var h MemoryHit
		if err := rows.Scan(&h.ID, &h.MemoryID, &h.Content, &h.Source, &h.Metadata,
			&h.Importance, &h.EffectiveImportance, &h.CreatedAt, &h.LastAccessed,
			&h.AccessCount, &h.Activations, &h.MaxStrength); err != nil {
			return nil, fmt.Errorf("scan memory hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// NeighborEdges returns edges touching nodeID with weight >= minWeight,
// strongest first.
func (s *GraphStore) NeighborEdges(nodeID int64, minWeight float64) ([]EdgeRow, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, target_id, weight, co_activation_count,
		       COALESCE(last_coactivated, 0), COALESCE(last_strengthened, 0)
		FROM edges
		WHERE (source_id = ? OR target_id = ?) AND weight >= ?
		ORDER BY weight DESC
	`, nodeID, nodeID, minWeight)
	if err != nil {
		return nil, fmt.Errorf("neighbor edges: %w", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

// IdleEdges returns edges above minWeight whose last co-activation (or, when
// never co-activated, last strengthening) predates cutoff.
func (s *GraphStore) IdleEdges(cutoff, minWeight float64) ([]EdgeRow, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, target_id, weight, co_activation_count,
		       COALESCE(last_coactivated, 0), COALESCE(last_strengthened, 0)
		FROM edges
		WHERE COALESCE(last_coactivated, last_strengthened, 0) < ? AND weight > ?
	`, cutoff, minWeight)
	if err != nil {
		return nil, fmt.Errorf("idle edges: %w", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]EdgeRow, error) {
	var edges []EdgeRow
	for rows.Next() {
		var e EdgeRow
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Weight,
			&e.CoActivationCount, &e.LastCoactivated, &e.LastStrengthened); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// MortalMemories returns memories subject to decay: those with importance
// below immortalThreshold.
func (s *GraphStore) MortalMemories(immortalThreshold float64) ([]MemoryRow, error) {
	rows, err := s.db.Query(`
		SELECT id, memory_id, content, source, metadata, importance,
		       effective_importance, created_at, last_accessed, access_count
		FROM memories WHERE importance < ?
	`, immortalThreshold)
	if err != nil {
		return nil, fmt.Errorf("mortal memories: %w", err)
	}
	defer rows.Close()

	var memories []MemoryRow
	for rows.Next() {
		var m MemoryRow
		if err := rows.Scan(&m.ID, &m.MemoryID, &m.Content, &m.Source, &m.Metadata,
			&m.Importance, &m.EffectiveImportance, &m.CreatedAt, &m.LastAccessed, &m.AccessCount); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// TableCounts returns aggregate table sizes.
func (s *GraphStore) TableCounts() (Counts, error) {
	var c Counts
	if err := s.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&c.Nodes); err != nil {
		return c, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&c.Edges); err != nil {
		return c, fmt.Errorf("count edges: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&c.Memories); err != nil {
		return c, fmt.Errorf("count memories: %w", err)
	}
	if err := s.db.QueryRow("SELECT COALESCE(SUM(activation_count), 0) FROM nodes").Scan(&c.TotalActivations); err != nil {
		return c, fmt.Errorf("sum activations: %w", err)
	}
	return c, nil
}

// StrongestEdges returns the top edges by weight with node names resolved.
func (s *GraphStore) StrongestEdges(limit int) ([]EdgeStat, error) {
	rows, err := s.db.Query(`
		SELECT n1.name, n2.name, e.weight
		FROM edges e
		JOIN nodes n1 ON e.source_id = n1.id
		JOIN nodes n2 ON e.target_id = n2.id
		ORDER BY e.weight DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("strongest edges: %w", err)
	}
	defer rows.Close()

	var stats []EdgeStat
	for rows.Next() {
		var e EdgeStat
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan edge stat: %w", err)
		}
		stats = append(stats, e)
	}
	return stats, rows.Err()
}

// MostActiveNodes returns the top nodes by activation count.
func (s *GraphStore) MostActiveNodes(limit int) ([]NodeRow, error) {
	rows, err := s.db.Query(`
		SELECT id, slug, name, category, keywords, prototype_phrases, description,
		       activation_count, COALESCE(last_activated, 0)
		FROM nodes
		ORDER BY activation_count DESC, name
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("most active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []NodeRow
	for rows.Next() {
		var n NodeRow
		if err := rows.Scan(&n.ID, &n.Slug, &n.Name, &n.Category, &n.Keywords,
			&n.PrototypePhrases, &n.Description, &n.ActivationCount, &n.LastActivated); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DecayCounts aggregates the decay state of the graph.
type DecayCounts struct {
	MemoriesTotal    int64
	MemoriesImmortal int64
	MemoriesDecayed  int64
	MemoriesActive   int64
	EdgesTotal       int64
	EdgesAtFloor     int64
	AvgEdgeWeight    float64
}

// DecayState counts immortal, active, and decayed memories plus the edge
// weight distribution.
func (s *GraphStore) DecayState(decayThreshold, immortalThreshold, minWeight float64) (DecayCounts, error) {
	var c DecayCounts
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&c.MemoriesTotal); err != nil {
		return c, fmt.Errorf("count memories: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE importance >= ?", immortalThreshold,
	).Scan(&c.MemoriesImmortal); err != nil {
		return c, fmt.Errorf("count immortal: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE effective_importance < ? AND importance < ?",
		decayThreshold, immortalThreshold,
	).Scan(&c.MemoriesDecayed); err != nil {
		return c, fmt.Errorf("count decayed: %w", err)
	}
	c.MemoriesActive = c.MemoriesTotal - c.MemoriesImmortal - c.MemoriesDecayed

	if err := s.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&c.EdgesTotal); err != nil {
		return c, fmt.Errorf("count edges: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM edges WHERE weight <= ?", minWeight+1e-4,
	).Scan(&c.EdgesAtFloor); err != nil {
		return c, fmt.Errorf("count floored edges: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COALESCE(AVG(weight), 0) FROM edges",
	).Scan(&c.AvgEdgeWeight); err != nil {
		return c, fmt.Errorf("average edge weight: %w", err)
	}
	return c, nil
}

// NodeNamesByID resolves row ids to display names.
func (s *GraphStore) NodeNamesByID() (map[int64]string, error) {
	rows, err := s.db.Query("SELECT id, name FROM nodes")
	if err != nil {
		return nil, fmt.Errorf("node names: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan node name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
