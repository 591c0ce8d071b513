package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Node is one concept definition in the vocabulary: a stable slug, a display
// name, a category, and the patterns that activate it. Definitions are
// read-only after load.
type Node struct {
	Slug             string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Keywords         []string `json:"keywords"`
	PrototypePhrases []string `json:"prototype_phrases"`
	Description      string   `json:"description,omitempty"`

	// wordPatterns[i] matches Keywords[i] on a word boundary, compiled once
	// at load so scoring does no regexp work.
	wordPatterns []*regexp.Regexp
}

// Vocabulary is the full concept set, ordered by slug for deterministic
// iteration.
type Vocabulary struct {
	nodes  []*Node
	bySlug map[string]*Node
	byName map[string]*Node
}

type nodesFile struct {
	Nodes []*Node `json:"nodes"`
}

// Load reads a vocabulary from a JSON file. Both the wrapped form
// {"nodes": [...]} and a bare array are accepted.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	var wrapped nodesFile
	if err := json.Unmarshal(data, &wrapped); err != nil || wrapped.Nodes == nil {
		var bare []*Node
		if err := json.Unmarshal(data, &bare); err != nil {
			return nil, fmt.Errorf("parse vocabulary: %w", err)
		}
		wrapped.Nodes = bare
	}

	return New(wrapped.Nodes)
}

// New builds a vocabulary from node definitions, validating uniqueness and
// compiling keyword patterns.
func New(nodes []*Node) (*Vocabulary, error) {
	v := &Vocabulary{
		bySlug: make(map[string]*Node, len(nodes)),
		byName: make(map[string]*Node, len(nodes)),
	}

	for _, n := range nodes {
		if n.Slug == "" {
			return nil, fmt.Errorf("vocabulary: node %q has no id", n.Name)
		}
		if n.Name == "" {
			return nil, fmt.Errorf("vocabulary: node %q has no name", n.Slug)
		}
		if _, dup := v.bySlug[n.Slug]; dup {
			return nil, fmt.Errorf("vocabulary: duplicate node id %q", n.Slug)
		}
		lower := strings.ToLower(n.Name)
		if _, dup := v.byName[lower]; dup {
			return nil, fmt.Errorf("vocabulary: duplicate node name %q", n.Name)
		}

		n.wordPatterns = make([]*regexp.Regexp, len(n.Keywords))
		for i, kw := range n.Keywords {
			pat, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("vocabulary: keyword %q in %q: %w", kw, n.Slug, err)
			}
			n.wordPatterns[i] = pat
		}

		v.bySlug[n.Slug] = n
		v.byName[lower] = n
		v.nodes = append(v.nodes, n)
	}

	sort.Slice(v.nodes, func(i, j int) bool { return v.nodes[i].Slug < v.nodes[j].Slug })
	return v, nil
}

// Nodes returns all definitions ordered by slug.
func (v *Vocabulary) Nodes() []*Node {
	return v.nodes
}

// Len returns the number of concepts.
func (v *Vocabulary) Len() int {
	return len(v.nodes)
}

// Find looks a node up by slug or by name (case-insensitive). Returns nil
// when unknown.
func (v *Vocabulary) Find(name string) *Node {
	if n, ok := v.bySlug[name]; ok {
		return n
	}
	return v.byName[strings.ToLower(name)]
}

// MatchWholeWord reports whether keyword i appears in text on a word
// boundary. Text must already be lowercased.
func (n *Node) MatchWholeWord(i int, text string) bool {
	return n.wordPatterns[i].MatchString(text)
}
