package mind

import (
	"database/sql"
	"errors"
	"testing"
)

func saveTestMemory(t *testing.T, m *Mind, content string) string {
	t.Helper()
	result, err := m.Save(SaveRequest{Content: content})
	if err != nil {
		t.Fatal(err)
	}
	return result.MemoryID
}

func TestQuery(t *testing.T) {
	m := openTestMind(t)
	id := saveTestMemory(t, m, "bake a recipe in the oven")
	saveTestMemory(t, m, "a song with a lovely melody")

	result, err := m.Query(QueryRequest{Nodes: []string{"cooking"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("got %d memories, want 1", len(result.Memories))
	}
	if result.Memories[0].MemoryID != id {
		t.Errorf("wrong memory: %q", result.Memories[0].MemoryID)
	}
	if result.Memories[0].Activations == "" {
		t.Error("activations missing")
	}
}

func TestQueryByDisplayName(t *testing.T) {
	m := openTestMind(t)
	saveTestMemory(t, m, "bake a recipe in the oven")

	result, err := m.Query(QueryRequest{Nodes: []string{"COOKING"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Memories) != 1 {
		t.Errorf("name lookup should be case-insensitive, got %d", len(result.Memories))
	}
}

func TestQueryUnknownNode(t *testing.T) {
	m := openTestMind(t)
	saveTestMemory(t, m, "bake a recipe in the oven")

	result, err := m.Query(QueryRequest{Nodes: []string{"no_such_concept"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Memories) != 0 {
		t.Errorf("unknown node must match nothing, got %d", len(result.Memories))
	}
}

func TestQueryTooManyNodes(t *testing.T) {
	m := openTestMind(t)

	nodes := make([]string, maxQueryNodes+1)
	var ve *ValidationError
	if _, err := m.Query(QueryRequest{Nodes: nodes}); !errors.As(err, &ve) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestQueryTouchesOnAccess(t *testing.T) {
	m := openTestMind(t)
	id := saveTestMemory(t, m, "bake a recipe in the oven")

	before, err := m.dual.Disk().MemoryByID(id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Query(QueryRequest{Nodes: []string{"cooking"}}); err != nil {
		t.Fatal(err)
	}

	after, err := m.dual.Disk().MemoryByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if after.AccessCount != before.AccessCount+1 {
		t.Errorf("access count: got %d, want %d", after.AccessCount, before.AccessCount+1)
	}
	if after.LastAccessed < before.LastAccessed {
		t.Errorf("last accessed went backwards: %v -> %v", before.LastAccessed, after.LastAccessed)
	}
}

func TestQueryDecayedHiddenAndUntouched(t *testing.T) {
	m := openTestMind(t)
	id := saveTestMemory(t, m, "bake a recipe in the oven")

	// Push the memory below the decay threshold by hand.
	err := m.dual.Apply(func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE memories SET effective_importance = 0.05 WHERE memory_id = ?", id)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Query(QueryRequest{Nodes: []string{"cooking"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Memories) != 0 {
		t.Errorf("decayed memory surfaced: %+v", result.Memories)
	}

	result, err = m.Query(QueryRequest{Nodes: []string{"cooking"}, IncludeDecayed: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("include_decayed: got %d memories", len(result.Memories))
	}

	// Viewing a decayed memory does not resurrect it.
	after, err := m.dual.Disk().MemoryByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if after.AccessCount != 0 {
		t.Errorf("decayed memory was touched: access count %d", after.AccessCount)
	}
}

func TestQueryRelatedConcepts(t *testing.T) {
	m := openTestMind(t)
	saveTestMemory(t, m, "bake a recipe while a song melody plays")

	result, err := m.Query(QueryRequest{Nodes: []string{"cooking"}, MinEdgeWeight: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.RelatedConcepts) != 1 || result.RelatedConcepts[0].Name != "Music" {
		t.Errorf("related concepts: %+v", result.RelatedConcepts)
	}

	// A floor above the edge weight filters it out.
	result, err = m.Query(QueryRequest{Nodes: []string{"cooking"}, MinEdgeWeight: 5.0})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.RelatedConcepts) != 0 {
		t.Errorf("min weight not honored: %+v", result.RelatedConcepts)
	}
}

func TestRelated(t *testing.T) {
	m := openTestMind(t)
	// cooking <-> music via one save, music <-> machine learning via another.
	saveTestMemory(t, m, "bake a recipe while a song melody plays")
	saveTestMemory(t, m, "a song melody generated when we train a model")

	neighbors, err := m.Related("music", 0, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("depth 1 from music: got %d neighbors, want 2", len(neighbors))
	}
	for _, n := range neighbors {
		if n.Depth != 1 {
			t.Errorf("neighbor %q at depth %d", n.Name, n.Depth)
		}
		if n.Category == "" {
			t.Errorf("neighbor %q missing category", n.Name)
		}
	}

	// From cooking, machine learning is only reachable at depth 2.
	neighbors, err = m.Related("cooking", 0, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].Name != "Music" {
		t.Fatalf("depth 1 from cooking: %+v", neighbors)
	}

	neighbors, err = m.Related("cooking", 0, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("depth 2 from cooking: got %d neighbors", len(neighbors))
	}
	if neighbors[0].Depth != 1 || neighbors[1].Depth != 2 {
		t.Errorf("neighbors not ordered by depth: %+v", neighbors)
	}
}

func TestRelatedUnknownNode(t *testing.T) {
	m := openTestMind(t)

	neighbors, err := m.Related("no_such_concept", 0, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 0 {
		t.Errorf("unknown node: %+v", neighbors)
	}

	var ve *ValidationError
	if _, err := m.Related("  ", 0, 1, 0); !errors.As(err, &ve) {
		t.Errorf("blank node name: got %v", err)
	}
}

func TestListNodes(t *testing.T) {
	m := openTestMind(t)
	saveTestMemory(t, m, "bake a recipe in the oven")

	listing, err := m.ListNodes("", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Nodes) != 3 {
		t.Fatalf("got %d nodes", len(listing.Nodes))
	}
	if len(listing.Categories) != 3 {
		t.Errorf("categories: %v", listing.Categories)
	}

	listing, err = m.ListNodes("lifestyle", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Nodes) != 1 || listing.Nodes[0].Slug != "cooking" {
		t.Errorf("category filter: %+v", listing.Nodes)
	}

	listing, err = m.ListNodes("", 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Nodes) != 1 || listing.Nodes[0].ActivationCount != 1 {
		t.Errorf("activation filter: %+v", listing.Nodes)
	}

	listing, err = m.ListNodes("", 0, "activations")
	if err != nil {
		t.Fatal(err)
	}
	if listing.Nodes[0].Slug != "cooking" {
		t.Errorf("sort by activations: %+v", listing.Nodes[0])
	}

	var ve *ValidationError
	if _, err := m.ListNodes("", 0, "bogus"); !errors.As(err, &ve) {
		t.Errorf("bad sort key: got %v", err)
	}
}

func TestStatus(t *testing.T) {
	m := openTestMind(t)
	saveTestMemory(t, m, "bake a recipe while a song melody plays")

	st, err := m.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Counts.Memories != 1 || st.Counts.Edges != 1 {
		t.Errorf("counts: %+v", st.Counts)
	}
	if len(st.StrongestEdges) != 1 {
		t.Errorf("strongest edges: %+v", st.StrongestEdges)
	}
	if len(st.MostActiveNodes) == 0 {
		t.Error("most active nodes empty")
	}
	if st.DecayState.MemoriesTotal != 1 {
		t.Errorf("decay state: %+v", st.DecayState)
	}
}
