// Package hebbian implements the edge learning rule: nodes that are
// activated together get a stronger association, and a node whose edges
// accumulate too much total weight has them rescaled back to a fixed budget.
package hebbian

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/sipeed/mindgraph/pkg/config"
)

// EdgeMutation is one applied edge change, reported back to the caller.
type EdgeMutation struct {
	SourceID int64
	TargetID int64
	Weight   float64
	Created  bool
}

// Engine computes edge creation, asymptotic strengthening, and homeostatic
// scaling. It is stateless; all graph state lives in the transaction it is
// handed.
type Engine struct {
	cfg config.LearningConfig
}

func NewEngine(cfg config.LearningConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Learn applies one co-activation event: every unordered pair of the
// activated nodes is a co-activation (a clique, not a chain). Node counters
// are bumped, pair edges created or strengthened, and any node whose total
// incident co-activation count lands on a scaling boundary has its incident
// weights renormalized.
//
// Learn runs inside the caller's transaction so the whole event commits or
// rolls back as one batch.
func (e *Engine) Learn(tx *sql.Tx, nodeIDs []int64, now time.Time) ([]EdgeMutation, error) {
	ids := dedupeSorted(nodeIDs)
	ts := float64(now.Unix())

	for _, id := range ids {
		_, err := tx.Exec(`
			UPDATE nodes SET activation_count = activation_count + 1, last_activated = ?
			WHERE id = ?
		`, ts, id)
		if err != nil {
			return nil, fmt.Errorf("bump node %d: %w", id, err)
		}
	}

	var mutations []EdgeMutation
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			mut, err := e.strengthen(tx, ids[i], ids[j], ts)
			if err != nil {
				return nil, err
			}
			mutations = append(mutations, mut)
		}
	}

	rescaled := false
	for _, id := range ids {
		did, err := e.maybeRescale(tx, id)
		if err != nil {
			return nil, err
		}
		rescaled = rescaled || did
	}

	// Rescaling moves weights after strengthen captured them; re-read so the
	// reported mutations match storage.
	if rescaled {
		for i := range mutations {
			err := tx.QueryRow(
				"SELECT weight FROM edges WHERE source_id = ? AND target_id = ?",
				mutations[i].SourceID, mutations[i].TargetID,
			).Scan(&mutations[i].Weight)
			if err != nil {
				return nil, fmt.Errorf("reread edge (%d,%d): %w", mutations[i].SourceID, mutations[i].TargetID, err)
			}
		}
	}

	return mutations, nil
}

// strengthen creates the canonical (min, max) edge at the initial weight, or
// moves an existing weight asymptotically toward the maximum:
// delta = (max - w) * rate. The weight strictly increases but never reaches
// the maximum, so repeated co-activation cannot saturate an edge.
func (e *Engine) strengthen(tx *sql.Tx, a, b int64, ts float64) (EdgeMutation, error) {
	src, dst := a, b
	if src > dst {
		src, dst = dst, src
	}

	var weight float64
	err := tx.QueryRow(
		"SELECT weight FROM edges WHERE source_id = ? AND target_id = ?", src, dst,
	).Scan(&weight)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO edges (source_id, target_id, weight, co_activation_count,
			                   last_coactivated, last_strengthened)
			VALUES (?, ?, ?, 1, ?, ?)
		`, src, dst, e.cfg.InitialWeight, ts, ts)
		if err != nil {
			return EdgeMutation{}, fmt.Errorf("create edge (%d,%d): %w", src, dst, err)
		}
		return EdgeMutation{SourceID: src, TargetID: dst, Weight: e.cfg.InitialWeight, Created: true}, nil

	case err != nil:
		return EdgeMutation{}, fmt.Errorf("read edge (%d,%d): %w", src, dst, err)
	}

	delta := (e.cfg.MaxWeight - weight) * e.cfg.LearningRate
	newWeight := e.clamp(weight + delta)

	_, err = tx.Exec(`
		UPDATE edges SET
			weight = ?,
			co_activation_count = co_activation_count + 1,
			last_coactivated = ?,
			last_strengthened = ?
		WHERE source_id = ? AND target_id = ?
	`, newWeight, ts, ts, src, dst)
	if err != nil {
		return EdgeMutation{}, fmt.Errorf("strengthen edge (%d,%d): %w", src, dst, err)
	}
	return EdgeMutation{SourceID: src, TargetID: dst, Weight: newWeight}, nil
}

// maybeRescale applies homeostatic scaling: when a node's total incident
// co-activation count is a multiple of the scaling interval and its incident
// weights exceed the target budget, they are multiplied by target/sum so
// they total the budget again. Scaling only ever shrinks; a node still
// under budget is left alone, so strengthening stays strictly below the
// maximum weight. The transform is multiplicative, so the relative order of
// the node's edges is preserved. Reports whether any weight changed.
func (e *Engine) maybeRescale(tx *sql.Tx, nodeID int64) (bool, error) {
	var total int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(co_activation_count), 0) FROM edges
		WHERE source_id = ? OR target_id = ?
	`, nodeID, nodeID).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("co-activation total for node %d: %w", nodeID, err)
	}
	if total == 0 || total%int64(e.cfg.HomeostaticEvery) != 0 {
		return false, nil
	}

	rows, err := tx.Query(`
		SELECT id, weight FROM edges WHERE source_id = ? OR target_id = ?
	`, nodeID, nodeID)
	if err != nil {
		return false, fmt.Errorf("incident edges for node %d: %w", nodeID, err)
	}

	type incident struct {
		id     int64
		weight float64
	}
	var edges []incident
	var sum float64
	for rows.Next() {
		var in incident
		if err := rows.Scan(&in.id, &in.weight); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan incident edge: %w", err)
		}
		edges = append(edges, in)
		sum += in.weight
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("incident edges for node %d: %w", nodeID, err)
	}

	if sum <= e.cfg.TargetTotalWeight {
		return false, nil
	}

	scale := e.cfg.TargetTotalWeight / sum
	for _, in := range edges {
		_, err := tx.Exec("UPDATE edges SET weight = ? WHERE id = ?", e.clamp(in.weight*scale), in.id)
		if err != nil {
			return false, fmt.Errorf("rescale edge %d: %w", in.id, err)
		}
	}
	return true, nil
}

func (e *Engine) clamp(w float64) float64 {
	if w < e.cfg.MinWeight {
		return e.cfg.MinWeight
	}
	if w > e.cfg.MaxWeight {
		return e.cfg.MaxWeight
	}
	return w
}

func dedupeSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
