package activation

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/sipeed/mindgraph/pkg/vocab"
)

// Score weights for the three pattern classes. A whole-word keyword hit is
// the strongest keyword signal; a bare substring hit counts less because it
// also fires inside longer words.
const (
	wholeWordScore = 0.25
	substringScore = 0.10
	phraseScore    = 0.35

	// Boosts contributed by an external concept extractor.
	extractorKeywordBoost = 0.15
	extractorNameBoost    = 0.20
)

// Activation is one concept that crossed the threshold for a given text.
// Score is the raw accumulated value; it is not capped.
type Activation struct {
	Node            *vocab.Node
	Score           float64
	MatchedPatterns []string
	Boosted         bool
}

// Strength returns the score clamped to (0, 1] for persistence; ranking
// uses the raw Score.
func (a Activation) Strength() float64 {
	if a.Score > 1.0 {
		return 1.0
	}
	return a.Score
}

// Scorer scores free text against the vocabulary. Deterministic, no side
// effects: the same text and threshold always produce the same activations
// in the same order.
type Scorer struct {
	vocab     *vocab.Vocabulary
	extractor Extractor
	log       *slog.Logger
}

// NewScorer builds a scorer. extractor may be nil; its absence changes no
// base score.
func NewScorer(v *vocab.Vocabulary, extractor Extractor, log *slog.Logger) *Scorer {
	if log == nil {
		log = slog.Default()
	}
	return &Scorer{vocab: v, extractor: extractor, log: log}
}

// Score accumulates per-node scores over keywords, prototype phrases, and
// optional extractor concepts, and returns the nodes at or above threshold,
// sorted by descending score with ties broken by node slug.
func (s *Scorer) Score(text string, threshold float64) []Activation {
	lower := strings.ToLower(text)
	concepts := s.extractConcepts(text)

	var out []Activation
	for _, node := range s.vocab.Nodes() {
		act := scoreNode(node, lower, concepts)
		if act.Score >= threshold {
			out = append(out, act)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Node.Slug < out[j].Node.Slug
	})
	return out
}

func scoreNode(node *vocab.Node, lower string, concepts map[string]bool) Activation {
	act := Activation{Node: node}

	boosted := false
	for i, kw := range node.Keywords {
		kwLower := strings.ToLower(kw)
		if strings.Contains(lower, kwLower) {
			if node.MatchWholeWord(i, lower) {
				act.Score += wholeWordScore
				act.MatchedPatterns = append(act.MatchedPatterns, kw)
			} else {
				act.Score += substringScore
			}
		}
		if !boosted && concepts[kwLower] {
			act.Score += extractorKeywordBoost
			act.MatchedPatterns = append(act.MatchedPatterns, "[concept]"+kw)
			boosted = true
		}
	}

	for _, phrase := range node.PrototypePhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			act.Score += phraseScore
			act.MatchedPatterns = append(act.MatchedPatterns, "[phrase]"+phrase)
		}
	}

	if !boosted && len(concepts) > 0 {
		nameKey := strings.ReplaceAll(strings.ToLower(node.Name), " ", "_")
		if concepts[nameKey] || concepts[strings.ReplaceAll(nameKey, "_", "")] {
			act.Score += extractorNameBoost
			act.MatchedPatterns = append(act.MatchedPatterns, "[concept]"+node.Name)
			boosted = true
		}
	}

	act.Boosted = boosted
	return act
}

// extractConcepts invokes the extractor at most once per Score call. Failure
// degrades to no boost.
func (s *Scorer) extractConcepts(text string) map[string]bool {
	if s.extractor == nil {
		return nil
	}
	concepts, err := s.extractor.Extract(text)
	if err != nil {
		s.log.Warn("concept extraction failed", "error", err)
		return nil
	}
	if len(concepts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(concepts)*2)
	for _, c := range concepts {
		lower := strings.ToLower(c)
		set[strings.ReplaceAll(lower, "_", " ")] = true
		set[strings.ReplaceAll(lower, "_", "")] = true
		set[lower] = true
	}
	return set
}
