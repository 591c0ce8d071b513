package activation

import (
	"errors"
	"math"
	"testing"

	"github.com/sipeed/mindgraph/pkg/vocab"
)

func testVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.New([]*vocab.Node{
		{
			Slug:             "machine_learning",
			Name:             "Machine Learning",
			Category:         "technology",
			Keywords:         []string{"neural network", "training", "model"},
			PrototypePhrases: []string{"train a model"},
		},
		{
			Slug:     "cooking",
			Name:     "Cooking",
			Category: "lifestyle",
			Keywords: []string{"recipe", "oven", "bake"},
		},
		{
			Slug:     "music",
			Name:     "Music",
			Category: "art",
			Keywords: []string{"song", "melody"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// fakeExtractor returns a fixed concept list, or an error.
type fakeExtractor struct {
	concepts []string
	err      error
}

func (f *fakeExtractor) Extract(string) ([]string, error) {
	return f.concepts, f.err
}

func TestScoreWholeWord(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	acts := s.Score("I wrote a new recipe today", 0.1)
	if len(acts) != 1 {
		t.Fatalf("got %d activations, want 1", len(acts))
	}
	if acts[0].Node.Slug != "cooking" {
		t.Errorf("activated %q, want cooking", acts[0].Node.Slug)
	}
	if math.Abs(acts[0].Score-0.25) > 1e-9 {
		t.Errorf("score: got %v, want 0.25", acts[0].Score)
	}
	if len(acts[0].MatchedPatterns) != 1 || acts[0].MatchedPatterns[0] != "recipe" {
		t.Errorf("matched patterns: got %v", acts[0].MatchedPatterns)
	}
}

func TestScoreSubstring(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	// "beethoven" contains "oven" but not on a word boundary.
	acts := s.Score("beethoven composed nine symphonies", 0.05)
	if len(acts) != 1 || acts[0].Node.Slug != "cooking" {
		t.Fatalf("got %v", acts)
	}
	if math.Abs(acts[0].Score-0.10) > 1e-9 {
		t.Errorf("substring score: got %v, want 0.10", acts[0].Score)
	}
	if len(acts[0].MatchedPatterns) != 0 {
		t.Errorf("substring hits should not record a pattern, got %v", acts[0].MatchedPatterns)
	}
}

func TestScorePhrase(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	acts := s.Score("today we will train a model from scratch", 0.3)
	if len(acts) != 1 || acts[0].Node.Slug != "machine_learning" {
		t.Fatalf("got %v", acts)
	}
	// "training" keyword misses but "model" (0.25) and the phrase (0.35) hit,
	// plus "train" is not a keyword. Expect 0.25 + 0.35.
	if math.Abs(acts[0].Score-0.60) > 1e-9 {
		t.Errorf("score: got %v, want 0.60", acts[0].Score)
	}
}

func TestScoreThresholdFilters(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	if acts := s.Score("I wrote a new recipe today", 0.3); len(acts) != 0 {
		t.Errorf("0.25 should not cross a 0.3 threshold, got %v", acts)
	}
	if acts := s.Score("bake the recipe in the oven", 0.3); len(acts) != 1 {
		t.Errorf("three whole-word hits should cross, got %v", acts)
	}
}

func TestScoreOrdering(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	acts := s.Score("bake a recipe while a song plays a melody with a model", 0.1)
	if len(acts) < 2 {
		t.Fatalf("got %d activations", len(acts))
	}
	for i := 1; i < len(acts); i++ {
		if acts[i].Score > acts[i-1].Score {
			t.Errorf("activations not sorted by descending score: %v then %v",
				acts[i-1].Score, acts[i].Score)
		}
	}
	// cooking: bake + recipe = 0.50; music: song + melody = 0.50; tie breaks
	// by slug.
	if acts[0].Node.Slug != "cooking" || acts[1].Node.Slug != "music" {
		t.Errorf("tie order: got %q, %q", acts[0].Node.Slug, acts[1].Node.Slug)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(testVocab(t), nil, nil)

	a := s.Score("bake a recipe and hum a melody", 0.1)
	b := s.Score("bake a recipe and hum a melody", 0.1)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Node.Slug != b[i].Node.Slug || a[i].Score != b[i].Score {
			t.Errorf("run %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExtractorKeywordBoost(t *testing.T) {
	ex := &fakeExtractor{concepts: []string{"recipe"}}
	s := NewScorer(testVocab(t), ex, nil)

	acts := s.Score("my recipe collection", 0.1)
	if len(acts) != 1 {
		t.Fatalf("got %d activations", len(acts))
	}
	// 0.25 whole word + 0.15 concept boost, applied once.
	if math.Abs(acts[0].Score-0.40) > 1e-9 {
		t.Errorf("boosted score: got %v, want 0.40", acts[0].Score)
	}
	if !acts[0].Boosted {
		t.Error("activation should be marked boosted")
	}
}

func TestExtractorNameBoost(t *testing.T) {
	ex := &fakeExtractor{concepts: []string{"machine_learning"}}
	s := NewScorer(testVocab(t), ex, nil)

	acts := s.Score("the model converged", 0.1)
	if len(acts) != 1 {
		t.Fatalf("got %d activations", len(acts))
	}
	// 0.25 whole word + 0.20 name-level boost.
	if math.Abs(acts[0].Score-0.45) > 1e-9 {
		t.Errorf("name-boosted score: got %v, want 0.45", acts[0].Score)
	}
}

func TestExtractorBoostAppliedOnce(t *testing.T) {
	// Both keywords and the node name appear as concepts; only one boost may
	// apply.
	ex := &fakeExtractor{concepts: []string{"recipe", "oven", "cooking"}}
	s := NewScorer(testVocab(t), ex, nil)

	acts := s.Score("the recipe needs an oven", 0.1)
	if len(acts) != 1 {
		t.Fatalf("got %d activations", len(acts))
	}
	// 0.25 + 0.25 whole words + 0.15 single keyword boost.
	if math.Abs(acts[0].Score-0.65) > 1e-9 {
		t.Errorf("score: got %v, want 0.65", acts[0].Score)
	}
}

func TestExtractorFailureDegrades(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("connection refused")}
	s := NewScorer(testVocab(t), ex, nil)

	acts := s.Score("I wrote a new recipe today", 0.1)
	if len(acts) != 1 {
		t.Fatalf("got %d activations", len(acts))
	}
	if math.Abs(acts[0].Score-0.25) > 1e-9 {
		t.Errorf("failed extractor must not change base score: got %v", acts[0].Score)
	}
	if acts[0].Boosted {
		t.Error("activation must not be marked boosted")
	}
}

func TestStrengthClamped(t *testing.T) {
	a := Activation{Score: 1.7}
	if a.Strength() != 1.0 {
		t.Errorf("strength: got %v, want 1.0", a.Strength())
	}
	b := Activation{Score: 0.45}
	if b.Strength() != 0.45 {
		t.Errorf("strength: got %v, want 0.45", b.Strength())
	}
}
