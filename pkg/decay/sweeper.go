// Package decay ages the graph in the background: memory importance fades
// exponentially with time since last access, and idle edges lose weight
// toward a floor. Decay hides, it never deletes.
package decay

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/mindgraph/pkg/config"
	"github.com/sipeed/mindgraph/pkg/store"
)

// changeEpsilon suppresses writes when a recomputed value moved less than
// this, so steady-state sweeps stay cheap.
const changeEpsilon = 1e-4

// Stats describes one completed sweep.
type Stats struct {
	Timestamp       time.Time
	MemoriesSwept   int
	MemoriesDecayed int
	EdgesSwept      int
	EdgesDecayed    int
}

// Status is a snapshot of the sweeper for status reporting.
type Status struct {
	MemoryDecayEnabled bool
	EdgeDecayEnabled   bool
	Running            bool
	SweepCount         int
	LastSweep          time.Time
	LastStats          *Stats
}

// Sweeper runs periodic decay sweeps. It shares the process-wide write token
// with the save path, so a sweep and a save never interleave their batches.
type Sweeper struct {
	dual  *store.DualWriter
	cfg   config.DecayConfig
	token sync.Locker
	log   *slog.Logger
	cron  *gronx.Gronx

	mu        sync.Mutex
	stopChan  chan struct{}
	running   bool
	sweeps    int
	lastSweep time.Time
	lastStats *Stats
}

// NewSweeper wires the sweeper to the dual writer and the shared write
// token. token must be the same lock the save path holds while writing.
func NewSweeper(dual *store.DualWriter, cfg config.DecayConfig, token sync.Locker, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		dual:  dual,
		cfg:   cfg,
		token: token,
		log:   log,
		cron:  gronx.New(),
	}
}

// Start launches the sweep loop. A disabled config or a second Start is a
// no-op.
func (s *Sweeper) Start() {
	if !s.cfg.Enabled && !s.cfg.EdgeDecayEnabled {
		s.log.Info("decay disabled, sweeper not started")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	go s.runLoop(s.stopChan)

	if s.cfg.SweepCron != "" {
		s.log.Info("decay sweeper started", "cron", s.cfg.SweepCron)
	} else {
		s.log.Info("decay sweeper started", "interval", s.cfg.SweepInterval())
	}
}

// Stop cancels the timer. No sweep starts after Stop returns; an in-flight
// sweep is allowed to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.log.Info("decay sweeper stopped")
}

// runLoop ticks on the fixed interval, or every minute when a cron schedule
// is configured. Sweeps run on the loop goroutine, so they never overlap.
func (s *Sweeper) runLoop(stop chan struct{}) {
	interval := s.cfg.SweepInterval()
	if s.cfg.SweepCron != "" {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if s.cfg.SweepCron != "" {
				due, err := s.cron.IsDue(s.cfg.SweepCron, now)
				if err != nil || !due {
					continue
				}
			}
			if _, err := s.RunSweep(now); err != nil {
				s.log.Error("decay sweep failed", "error", err)
			}
		}
	}
}

// RunSweep executes one full sweep under the write token and records its
// statistics.
func (s *Sweeper) RunSweep(now time.Time) (Stats, error) {
	s.token.Lock()
	defer s.token.Unlock()

	stats := Stats{Timestamp: now}

	if s.cfg.Enabled {
		if err := s.sweepMemories(now, &stats); err != nil {
			return stats, err
		}
	}
	if s.cfg.EdgeDecayEnabled {
		if err := s.sweepEdges(now, &stats); err != nil {
			return stats, err
		}
	}

	s.mu.Lock()
	s.sweeps++
	s.lastSweep = now
	s.lastStats = &stats
	count := s.sweeps
	s.mu.Unlock()

	s.log.Info("decay sweep complete",
		"sweep", count,
		"memories_swept", stats.MemoriesSwept,
		"memories_decayed", stats.MemoriesDecayed,
		"edges_swept", stats.EdgesSwept,
		"edges_decayed", stats.EdgesDecayed)
	return stats, nil
}

// sweepMemories recomputes effective importance for every mortal memory:
// eff = importance * e^(-rate * days since last access). Memories at or
// above the immortal threshold are never read, let alone decayed.
func (s *Sweeper) sweepMemories(now time.Time, stats *Stats) error {
	memories, err := s.dual.Disk().MortalMemories(s.cfg.ImmortalThreshold)
	if err != nil {
		return fmt.Errorf("sweep memories: %w", err)
	}

	type update struct {
		memoryID string
		eff      float64
	}
	var updates []update

	nowSec := float64(now.Unix())
	for _, m := range memories {
		stats.MemoriesSwept++
		eff := EffectiveImportance(m.Importance, m.LastAccessed, nowSec, s.cfg.BaseRate)
		if eff < s.cfg.Threshold {
			stats.MemoriesDecayed++
		}
		if math.Abs(eff-m.EffectiveImportance) < changeEpsilon {
			continue
		}
		updates = append(updates, update{memoryID: m.MemoryID, eff: eff})
	}

	if len(updates) == 0 {
		return nil
	}

	err = s.dual.Apply(func(tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.Exec(
				"UPDATE memories SET effective_importance = ? WHERE memory_id = ?",
				u.eff, u.memoryID,
			); err != nil {
				return fmt.Errorf("decay memory %s: %w", u.memoryID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep memories: %w", err)
	}
	return nil
}

// sweepEdges reduces the weight of edges idle longer than the idle window by
// the edge decay rate, floored at the minimum weight. An association is
// weakened, never erased.
func (s *Sweeper) sweepEdges(now time.Time, stats *Stats) error {
	cutoff := float64(now.Add(-s.cfg.EdgeIdleWindow()).Unix())
	minWeight := s.cfg.EdgeMinWeight

	edges, err := s.dual.Disk().IdleEdges(cutoff, minWeight)
	if err != nil {
		return fmt.Errorf("sweep edges: %w", err)
	}

	type update struct {
		id     int64
		weight float64
	}
	var updates []update

	for _, e := range edges {
		stats.EdgesSwept++
		weight := e.Weight * (1.0 - s.cfg.EdgeDecayRate)
		if weight < minWeight {
			weight = minWeight
		}
		if weight <= minWeight+changeEpsilon {
			stats.EdgesDecayed++
		}
		if math.Abs(weight-e.Weight) < changeEpsilon {
			continue
		}
		updates = append(updates, update{id: e.ID, weight: weight})
	}

	if len(updates) == 0 {
		return nil
	}

	err = s.dual.Apply(func(tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.Exec("UPDATE edges SET weight = ? WHERE id = ?", u.weight, u.id); err != nil {
				return fmt.Errorf("decay edge %d: %w", u.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sweep edges: %w", err)
	}
	return nil
}

// Status returns a snapshot of the sweeper.
func (s *Sweeper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		MemoryDecayEnabled: s.cfg.Enabled,
		EdgeDecayEnabled:   s.cfg.EdgeDecayEnabled,
		Running:            s.running,
		SweepCount:         s.sweeps,
		LastSweep:          s.lastSweep,
		LastStats:          s.lastStats,
	}
}

// EffectiveImportance computes the decayed importance of a memory given the
// unix time of its last access. Time before the last access never raises
// importance above its original value.
func EffectiveImportance(importance, lastAccessed, now, ratePerDay float64) float64 {
	days := (now - lastAccessed) / 86400.0
	if days <= 0 {
		return importance
	}
	return importance * math.Exp(-ratePerDay*days)
}
