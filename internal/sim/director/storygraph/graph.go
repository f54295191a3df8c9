// Package storygraph holds the authored event graph and its seeded traversal.
package storygraph

import (
	"encoding/json"
	"fmt"
	"math"

	"bastion.ai/internal/sim/director/rng"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

// Graph is immutable after New.
type Graph struct {
	entry string
	nodes map[string]Node
	order []string
	rand  rng.Factory
}

type Option func(*Graph)

// WithRand replaces the default splitmix generator.
func WithRand(f rng.Factory) Option {
	return func(g *Graph) {
		if f != nil {
			g.rand = f
		}
	}
}

// New indexes nodes and checks that entry resolves and ids are unique.
// Dangling transition targets are reported by CheckTargets, not here.
func New(entry string, nodes []Node, opts ...Option) (*Graph, error) {
	g := &Graph{
		entry: entry,
		nodes: make(map[string]Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		rand:  rng.NewSplitMix,
	}
	for i, n := range nodes {
		if n.ID == "" {
			return nil, simerr.Invalid(fmt.Sprintf("nodes[%d].id", i), "empty")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, simerr.Invalid(fmt.Sprintf("nodes[%d].id", i), "duplicate node %q", n.ID)
		}
		n.Tags = append([]string{}, n.Tags...)
		n.Next = append(Transitions{}, n.Next...)
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	if entry == "" {
		return nil, simerr.Invalid("entry_id", "empty")
	}
	if _, ok := g.nodes[entry]; !ok {
		return nil, simerr.Invalid("entry_id", "unknown node %q", entry)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CheckTargets reports the first transition whose target is not a node.
func (g *Graph) CheckTargets() error {
	for _, id := range g.order {
		for _, t := range g.nodes[id].Next {
			if _, ok := g.nodes[t.Target]; !ok {
				return simerr.Invalid("nodes."+id+".next."+t.Label, "unknown target %q", t.Target)
			}
		}
	}
	return nil
}

func (g *Graph) EntryID() string { return g.entry }

func (g *Graph) Entry() Node { return g.nodes[g.entry] }

func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Len() int { return len(g.order) }

// Nodes returns the nodes in definition order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Seed derives the traversal seed for a turn.
func Seed(snap state.Snapshot) int64 {
	return int64(math.Floor(float64(snap.Turn) + snap.Metrics.Order*17))
}

// Weight scores one candidate. Bonuses stack.
func Weight(candidate Node, snap state.Snapshot, th threat.Snapshot) float64 {
	w := 1 + 0.25*float64(len(candidate.Tags))
	if th.Phase == threat.PhaseCollapse && candidate.HasTag("collapse") {
		w += 2.5
	}
	if snap.Metrics.Morale < 25 && candidate.HasTag("despair") {
		w += 1.5
	}
	if snap.Metrics.Resources > 40 && candidate.HasTag("hope") {
		w += 1.5
	}
	return math.Max(w, 0.1)
}

// NextNode picks the beat that follows current. Terminal nodes return
// themselves, and identical inputs always yield the same node.
func (g *Graph) NextNode(current Node, snap state.Snapshot, th threat.Snapshot) Node {
	if current.Terminal() {
		return current
	}
	var (
		candidates []Node
		weights    []float64
	)
	for _, id := range current.Targets() {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		candidates = append(candidates, n)
		weights = append(weights, Weight(n, snap, th))
	}
	if len(candidates) == 0 {
		return current
	}
	idx := rng.PickWeighted(weights, g.rand(Seed(snap)))
	if idx < 0 {
		return current
	}
	return candidates[idx]
}

type definition struct {
	EntryID string `json:"entry_id"`
	Nodes   []Node `json:"nodes"`
}

// MarshalJSON writes the graph back in its source format.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(definition{EntryID: g.entry, Nodes: g.Nodes()})
}

// Parse decodes a graph definition. Callers that need full load-time
// validation go through catalogs.ParseStoryGraph.
func Parse(raw []byte, opts ...Option) (*Graph, error) {
	var def definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, simerr.Invalid("story_graph", "%v", err)
	}
	return New(def.EntryID, def.Nodes, opts...)
}
