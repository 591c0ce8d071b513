package mind

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sipeed/mindgraph/pkg/decay"
	"github.com/sipeed/mindgraph/pkg/store"
)

const (
	defaultQueryLimit   = 20
	maxQueryLimit       = 500
	maxQueryNodes       = 100
	defaultRelatedLimit = 20
	topListLimit        = 10
)

// QueryRequest selects memories by the concepts they activated.
type QueryRequest struct {
	Nodes          []string
	Limit          int     // 0 means the default, clamped to [1, 500]
	MinEdgeWeight  float64 // 0 means the configured minimum weight
	IncludeDecayed bool
}

// MemoryResult is one returned memory.
type MemoryResult struct {
	MemoryID            string
	Content             string
	Source              string
	Metadata            string
	Importance          float64
	EffectiveImportance float64
	CreatedAt           time.Time
	AccessCount         int64
	Activations         string // name:strength pairs
}

// RelatedConcept is a concept linked to the queried nodes by a
// sufficiently strong edge.
type RelatedConcept struct {
	Name   string
	Weight float64
}

// QueryResult is the full response to a Query.
type QueryResult struct {
	Memories        []MemoryResult
	RelatedConcepts []RelatedConcept
}

// Query finds memories whose activation rows reference any of the given
// nodes. Decayed memories are hidden unless requested. Every returned live
// memory is touched: its last access moves to now and its access count is
// bumped, which resets its decay clock. Unknown node names contribute
// nothing and are not an error.
func (m *Mind) Query(req QueryRequest) (*QueryResult, error) {
	if len(req.Nodes) > maxQueryNodes {
		return nil, &ValidationError{Field: "nodes", Reason: "too many node names"}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	minEdgeWeight := req.MinEdgeWeight
	if minEdgeWeight <= 0 {
		minEdgeWeight = m.cfg.Learning.MinWeight
	}

	reader := m.dual.Reader()

	var nodeIDs []int64
	for _, name := range req.Nodes {
		node, err := reader.NodeByName(name)
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodeIDs = append(nodeIDs, node.ID)
		}
	}
	if len(nodeIDs) == 0 {
		return &QueryResult{}, nil
	}

	hits, err := reader.MemoriesByNodes(nodeIDs, limit, m.cfg.Decay.Threshold, req.IncludeDecayed)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{}
	var touchIDs []string
	for _, h := range hits {
		result.Memories = append(result.Memories, MemoryResult{
			MemoryID:            h.MemoryID,
			Content:             h.Content,
			Source:              h.Source,
			Metadata:            h.Metadata,
			Importance:          h.Importance,
			EffectiveImportance: h.EffectiveImportance,
			CreatedAt:           time.Unix(int64(h.CreatedAt), 0),
			AccessCount:         h.AccessCount,
			Activations:         h.Activations,
		})
		if h.EffectiveImportance >= m.cfg.Decay.Threshold {
			touchIDs = append(touchIDs, h.MemoryID)
		}
	}

	if len(touchIDs) > 0 {
		if err := m.touchMemories(touchIDs); err != nil {
			m.log.Warn("touch on access failed", "error", err)
		}
	}

	related, err := m.relatedConcepts(reader, nodeIDs, minEdgeWeight)
	if err != nil {
		return nil, err
	}
	result.RelatedConcepts = related

	return result, nil
}

// touchMemories resets the decay clock for accessed memories through the
// same dual-write discipline as saves.
func (m *Mind) touchMemories(memoryIDs []string) error {
	now := float64(time.Now().Unix())

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	return m.dual.Apply(func(tx *sql.Tx) error {
		for _, id := range memoryIDs {
			_, err := tx.Exec(`
				UPDATE memories SET last_accessed = ?, access_count = access_count + 1
				WHERE memory_id = ?
			`, now, id)
			if err != nil {
				return fmt.Errorf("touch memory %s: %w", id, err)
			}
		}
		return nil
	})
}

// relatedConcepts collects the strongest neighbors of the queried nodes.
func (m *Mind) relatedConcepts(reader *store.GraphStore, nodeIDs []int64, minWeight float64) ([]RelatedConcept, error) {
	queried := make(map[int64]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		queried[id] = true
	}

	best := make(map[int64]float64)
	for _, id := range nodeIDs {
		edges, err := reader.NeighborEdges(id, minWeight)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			neighbor := e.TargetID
			if neighbor == id {
				neighbor = e.SourceID
			}
			if queried[neighbor] {
				continue
			}
			if e.Weight > best[neighbor] {
				best[neighbor] = e.Weight
			}
		}
	}

	related := make([]RelatedConcept, 0, len(best))
	for id, weight := range best {
		related = append(related, RelatedConcept{Name: m.nodeNames[id], Weight: weight})
	}
	sort.Slice(related, func(i, j int) bool {
		if related[i].Weight != related[j].Weight {
			return related[i].Weight > related[j].Weight
		}
		return related[i].Name < related[j].Name
	})
	if len(related) > topListLimit {
		related = related[:topListLimit]
	}
	return related, nil
}

// Neighbor is one node reached by Related, with the hop count of the path
// that discovered it.
type Neighbor struct {
	Name     string
	Category string
	Weight   float64 // weight of the edge that discovered the node
	Depth    int
}

// Related walks the association graph breadth-first from the named node,
// following edges with weight >= minWeight up to maxDepth hops. Neighbors
// sort by path length, ties by descending weight. An unknown node yields an
// empty result.
func (m *Mind) Related(nodeName string, minWeight float64, maxDepth, limit int) ([]Neighbor, error) {
	if strings.TrimSpace(nodeName) == "" {
		return nil, &ValidationError{Field: "node", Reason: "must not be empty"}
	}
	if minWeight <= 0 {
		minWeight = m.cfg.Learning.MinWeight
	}
	if maxDepth <= 0 {
		maxDepth = 1
	}
	if limit <= 0 {
		limit = defaultRelatedLimit
	}

	reader := m.dual.Reader()
	start, err := reader.NodeByName(nodeName)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, nil
	}

	type queueEntry struct {
		id    int64
		depth int
	}
	visited := map[int64]bool{start.ID: true}
	found := make(map[int64]Neighbor)
	queue := []queueEntry{{start.ID, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		edges, err := reader.NeighborEdges(current.id, minWeight)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			neighborID := e.TargetID
			if neighborID == current.id {
				neighborID = e.SourceID
			}
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			found[neighborID] = Neighbor{
				Name:   m.nodeNames[neighborID],
				Weight: e.Weight,
				Depth:  current.depth + 1,
			}
			queue = append(queue, queueEntry{neighborID, current.depth + 1})
		}
	}

	neighbors := make([]Neighbor, 0, len(found))
	for id, n := range found {
		if node := m.vocab.Find(m.nodeNames[id]); node != nil {
			n.Category = node.Category
		}
		neighbors = append(neighbors, n)
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Depth != neighbors[j].Depth {
			return neighbors[i].Depth < neighbors[j].Depth
		}
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].Name < neighbors[j].Name
	})
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// NodeInfo is one vocabulary node with its usage counters.
type NodeInfo struct {
	Slug            string
	Name            string
	Category        string
	Description     string
	ActivationCount int64
}

// NodeListing is the ListNodes response.
type NodeListing struct {
	Nodes      []NodeInfo
	Categories []string
}

// ListNodes lists concept nodes, optionally filtered by category and
// minimum activation count. sortBy accepts "name", "category" (default),
// or "activations".
func (m *Mind) ListNodes(category string, minActivations int, sortBy string) (*NodeListing, error) {
	switch sortBy {
	case "", "name", "category", "activations":
	default:
		return nil, &ValidationError{Field: "sort_by", Reason: "must be name, category, or activations"}
	}

	rows, err := m.dual.Reader().AllNodes(0)
	if err != nil {
		return nil, err
	}

	listing := &NodeListing{}
	seen := make(map[string]bool)
	for _, n := range rows {
		if !seen[n.Category] {
			seen[n.Category] = true
			listing.Categories = append(listing.Categories, n.Category)
		}
		if category != "" && n.Category != category {
			continue
		}
		if n.ActivationCount < int64(minActivations) {
			continue
		}
		listing.Nodes = append(listing.Nodes, NodeInfo{
			Slug:            n.Slug,
			Name:            n.Name,
			Category:        n.Category,
			Description:     n.Description,
			ActivationCount: n.ActivationCount,
		})
	}
	sort.Strings(listing.Categories)

	switch sortBy {
	case "name":
		sort.Slice(listing.Nodes, func(i, j int) bool {
			return listing.Nodes[i].Name < listing.Nodes[j].Name
		})
	case "activations":
		sort.Slice(listing.Nodes, func(i, j int) bool {
			if listing.Nodes[i].ActivationCount != listing.Nodes[j].ActivationCount {
				return listing.Nodes[i].ActivationCount > listing.Nodes[j].ActivationCount
			}
			return listing.Nodes[i].Name < listing.Nodes[j].Name
		})
	}
	return listing, nil
}

// MirrorStatus reports the dual-write state.
type MirrorStatus struct {
	Enabled  bool
	Synced   bool
	DiskPath string
}

// StatusResult aggregates graph, mirror, and decay state.
type StatusResult struct {
	Counts          store.Counts
	StrongestEdges  []store.EdgeStat
	MostActiveNodes []NodeInfo
	Mirror          MirrorStatus
	Sweeper         decay.Status
	DecayState      store.DecayCounts
}

// Status reports table counts, the strongest edges, the most activated
// nodes, mirror state, and decay statistics.
func (m *Mind) Status() (*StatusResult, error) {
	reader := m.dual.Reader()

	counts, err := reader.TableCounts()
	if err != nil {
		return nil, err
	}
	strongest, err := reader.StrongestEdges(topListLimit)
	if err != nil {
		return nil, err
	}
	active, err := reader.MostActiveNodes(topListLimit)
	if err != nil {
		return nil, err
	}
	decayState, err := reader.DecayState(
		m.cfg.Decay.Threshold, m.cfg.Decay.ImmortalThreshold, m.cfg.Decay.EdgeMinWeight)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Counts:         counts,
		StrongestEdges: strongest,
		Mirror: MirrorStatus{
			Enabled:  m.dual.MirrorEnabled(),
			Synced:   m.dual.MirrorSynced(),
			DiskPath: m.dual.Disk().Path(),
		},
		Sweeper:    m.sweeper.Status(),
		DecayState: decayState,
	}
	for _, n := range active {
		result.MostActiveNodes = append(result.MostActiveNodes, NodeInfo{
			Slug:            n.Slug,
			Name:            n.Name,
			Category:        n.Category,
			ActivationCount: n.ActivationCount,
		})
	}
	return result, nil
}
