package storygraph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bastion.ai/internal/sim/director/rng"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

const sample = `{
  "entry_id": "gate",
  "nodes": [
    {"id": "gate", "description": "Smoke on the horizon.", "tags": ["omen"],
     "next": {"hold": "walls", "flee": "tunnels", "pray": "walls", "lost": "nowhere"}, "is_final": false},
    {"id": "walls", "description": "The walls shake.", "tags": ["battle", "collapse"],
     "next": {"fall": "ruin"}, "is_final": false},
    {"id": "tunnels", "description": "Dark passages.", "tags": ["hope"],
     "next": {"out": "ruin"}, "is_final": false},
    {"id": "ruin", "description": "It is over.", "tags": ["collapse"], "next": {}, "is_final": true}
  ]
}`

type scripted float64

func (s scripted) Float64() float64 { return float64(s) }

func load(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	g, err := Parse([]byte(sample), opts...)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}

func TestParseKeepsTransitionOrder(t *testing.T) {
	g := load(t)
	gate, _ := g.Node("gate")
	want := Transitions{
		{Label: "hold", Target: "walls"},
		{Label: "flee", Target: "tunnels"},
		{Label: "pray", Target: "walls"},
		{Label: "lost", Target: "nowhere"},
	}
	if diff := cmp.Diff(want, gate.Next); diff != "" {
		t.Fatalf("transitions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"walls", "tunnels", "nowhere"}, gate.Targets()); diff != "" {
		t.Fatalf("targets (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	g := load(t)
	out, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.EntryID() != g.EntryID() {
		t.Fatalf("entry: %s vs %s", again.EntryID(), g.EntryID())
	}
	if diff := cmp.Diff(g.Nodes(), again.Nodes()); diff != "" {
		t.Fatalf("nodes (-orig +reparsed):\n%s", diff)
	}

	var src, got map[string]any
	_ = json.Unmarshal([]byte(sample), &src)
	_ = json.Unmarshal(out, &got)
	if diff := cmp.Diff(src, got); diff != "" {
		t.Fatalf("source mismatch (-src +got):\n%s", diff)
	}
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name  string
		entry string
		nodes []Node
	}{
		{"empty entry", "", []Node{{ID: "a"}}},
		{"unknown entry", "b", []Node{{ID: "a"}}},
		{"empty id", "a", []Node{{ID: "a"}, {ID: ""}}},
		{"duplicate", "a", []Node{{ID: "a"}, {ID: "a"}}},
	}
	for _, tc := range cases {
		_, err := New(tc.entry, tc.nodes)
		var ve *simerr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestCheckTargets(t *testing.T) {
	g := load(t)
	if err := g.CheckTargets(); err == nil {
		t.Fatalf("expected dangling target error")
	}
	ok, _ := New("a", []Node{{ID: "a", Next: Transitions{{Label: "x", Target: "b"}}}, {ID: "b"}})
	if err := ok.CheckTargets(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestTerminalIsAbsorbing(t *testing.T) {
	g := load(t)
	ruin, _ := g.Node("ruin")
	snap := state.Snapshot{Turn: 3}
	th := threat.Snapshot{Phase: threat.PhaseCollapse}
	for i := 0; i < 5; i++ {
		if got := g.NextNode(ruin, snap, th); got.ID != "ruin" {
			t.Fatalf("terminal moved to %s", got.ID)
		}
	}
	dead := Node{ID: "dead_end", Tags: []string{"x"}}
	if got := g.NextNode(dead, snap, th); got.ID != "dead_end" {
		t.Fatalf("node without transitions moved to %s", got.ID)
	}
}

func TestUnresolvedTargetsSkipped(t *testing.T) {
	g := load(t)
	lost := Node{ID: "lost", Next: Transitions{{Label: "a", Target: "ghost"}}}
	if got := g.NextNode(lost, state.Snapshot{}, threat.Snapshot{}); got.ID != "lost" {
		t.Fatalf("expected current node back, got %s", got.ID)
	}

	gate, _ := g.Node("gate")
	for _, roll := range []float64{0, 0.5, 0.999} {
		g2 := load(t, WithRand(func(int64) rng.Source { return scripted(roll) }))
		got := g2.NextNode(gate, state.Snapshot{}, threat.Snapshot{})
		if got.ID != "walls" && got.ID != "tunnels" {
			t.Fatalf("roll %v picked %s", roll, got.ID)
		}
	}
}

func TestNextNodeDeterministic(t *testing.T) {
	g := load(t)
	gate, _ := g.Node("gate")
	snap := state.Snapshot{Turn: 7, Metrics: state.Metrics{Order: 43.5, Morale: 20, Resources: 60}}
	th := threat.Snapshot{Phase: threat.PhasePeak}
	first := g.NextNode(gate, snap, th)
	for i := 0; i < 20; i++ {
		if got := g.NextNode(gate, snap, th); got.ID != first.ID {
			t.Fatalf("call %d: %s vs %s", i, got.ID, first.ID)
		}
	}
}

func TestSeedUsesTurnAndOrder(t *testing.T) {
	var seen []int64
	f := func(seed int64) rng.Source {
		seen = append(seen, seed)
		return scripted(0)
	}
	g := load(t, WithRand(f))
	gate, _ := g.Node("gate")
	g.NextNode(gate, state.Snapshot{Turn: 4, Metrics: state.Metrics{Order: 2.5}}, threat.Snapshot{})
	if len(seen) != 1 || seen[0] != 46 {
		t.Fatalf("seed: got %v want [46]", seen)
	}
}

func TestWeights(t *testing.T) {
	walls := Node{ID: "walls", Tags: []string{"battle", "collapse"}}
	tunnels := Node{ID: "tunnels", Tags: []string{"hope", "despair"}}
	snap := state.Snapshot{Metrics: state.Metrics{Morale: 10, Resources: 80}}

	if got := Weight(walls, snap, threat.Snapshot{Phase: threat.PhaseCollapse}); got != 4 {
		t.Fatalf("collapse bonus: got %v want 4", got)
	}
	if got := Weight(walls, snap, threat.Snapshot{Phase: threat.PhasePeak}); got != 1.5 {
		t.Fatalf("no collapse bonus outside collapse: got %v", got)
	}
	// despair and hope stack.
	if got := Weight(tunnels, snap, threat.Snapshot{}); got != 4.5 {
		t.Fatalf("stacked bonuses: got %v want 4.5", got)
	}
}

func TestCollapseBonusSteersPick(t *testing.T) {
	// walls weighs 4 against tunnels 1.25 in collapse; a 0.7 roll lands on walls.
	g := load(t, WithRand(func(int64) rng.Source { return scripted(0.7) }))
	gate, _ := g.Node("gate")
	snap := state.Snapshot{Metrics: state.Metrics{Morale: 50, Resources: 10}}
	if got := g.NextNode(gate, snap, threat.Snapshot{Phase: threat.PhaseCollapse}); got.ID != "walls" {
		t.Fatalf("collapse: got %s", got.ID)
	}
	// Outside collapse walls 1.5 vs tunnels 1.25: 0.7*2.75 = 1.925 lands on tunnels.
	if got := g.NextNode(gate, snap, threat.Snapshot{Phase: threat.PhaseRising}); got.ID != "tunnels" {
		t.Fatalf("rising: got %s", got.ID)
	}
}
