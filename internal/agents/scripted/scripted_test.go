package scripted

import (
	"context"
	"testing"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/director/endgame"
	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/state"
)

func snap() state.Snapshot {
	gs := state.GameState{
		Turn:       4,
		Metrics:    state.Metrics{Morale: 50, Resources: 40, Corruption: 70},
		NPCs:       []state.NPC{{ID: "captain", Role: "captain", Health: 90}, {ID: "cook", Role: "cook", Health: 40}},
		Structures: []state.Structure{{ID: "east_wall", Integrity: 50}},
		Stockpiles: map[string]float64{"food": 30, "materials": 20},
	}
	return gs.Snapshot()
}

func TestIntentListsTransitions(t *testing.T) {
	node := storygraph.Node{ID: "n", Description: "Fog.", Next: storygraph.Transitions{{Label: "press_on", Target: "x"}}}
	dir := endgame.Directive{Trigger: true}
	in, err := New().GenerateIntent(context.Background(), collab.IntentRequest{
		State: snap(), Threat: threat.Snapshot{Phase: threat.PhasePeak}, EventSeed: "wall_assault", EventNode: &node, Directive: &dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(in.PlayerOptions) != 1 || in.PlayerOptions[0] != "press on" {
		t.Fatalf("options: %v", in.PlayerOptions)
	}
	if in.SceneIntent == "" {
		t.Fatalf("empty intent")
	}
}

func TestPlanRespectsBudgetAndRegistry(t *testing.T) {
	reg := safefn.DefaultRegistry()
	p, err := New().PlanActions(context.Background(), collab.PlanRequest{
		State: snap(), EventSeed: "supply_run", MaxCalls: 2, Functions: reg.Names(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Actions) != 2 {
		t.Fatalf("actions: %+v", p.Actions)
	}
	// Corruption above 60 puts a purge first.
	if p.Actions[0].Function != "purge_corruption" || p.Actions[1].Function != "distribute_supplies" {
		t.Fatalf("plan: %+v", p.Actions)
	}
	if p.Actions[1].Args["item"] != "food" {
		t.Fatalf("args: %+v", p.Actions[1].Args)
	}

	p, _ = New().PlanActions(context.Background(), collab.PlanRequest{
		State: snap(), EventSeed: "supply_run", MaxCalls: 4, Functions: []string{"ration_supplies"},
	})
	if len(p.Actions) != 1 || p.Actions[0].Function != "ration_supplies" {
		t.Fatalf("filtered plan: %+v", p.Actions)
	}

	p, _ = New().PlanActions(context.Background(), collab.PlanRequest{State: snap(), EventSeed: "breach", MaxCalls: 0})
	if len(p.Actions) != 0 {
		t.Fatalf("zero budget: %+v", p.Actions)
	}
}

func TestPlannedActionsExecute(t *testing.T) {
	reg := safefn.DefaultRegistry()
	ex := safefn.NewExecutor(reg, nil)
	for _, seed := range []string{
		"quiet_watch", "supply_run", "council_meeting", "scout_report", "border_skirmish", "refugee_arrival",
		"wall_assault", "sabotage", "siege_bombardment", "breach", "mutiny", "last_stand_call",
	} {
		s := snap()
		p, _ := New().PlanActions(context.Background(), collab.PlanRequest{State: s, EventSeed: seed, MaxCalls: 4, Functions: reg.Names()})
		if len(p.Actions) == 0 {
			t.Fatalf("%s: empty plan", seed)
		}
		gs := s.State()
		res, _ := ex.ApplyActions(&gs, p.Actions)
		for _, e := range res.Executed {
			if e.Status != safefn.StatusOK {
				t.Fatalf("%s: %s failed: %s", seed, e.Function, e.Error)
			}
		}
	}
}

func TestFinaleRenderingMatchesSchema(t *testing.T) {
	paths, err := catalogs.DefaultFinalPaths()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range paths.IDs() {
		p, _ := paths.Get(id)
		r, err := New().Render(context.Background(), collab.RenderRequest{
			State:  snap(),
			Finale: &collab.FinaleBrief{PathID: p.ID, Title: p.Title, Tone: p.Tone, Summary: p.Summary},
		})
		if err != nil {
			t.Fatal(err)
		}
		payload := map[string]any{"title": p.Title, "tone": p.Tone, "paragraphs": r.Paragraphs}
		for k, v := range r.Extra {
			payload[k] = v
		}
		if err := p.ValidateOutput(payload); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}
}

func TestRenderTurn(t *testing.T) {
	node := storygraph.Node{Description: "Drums in the dark."}
	r, err := New().Render(context.Background(), collab.RenderRequest{
		State:     snap(),
		Executed:  []safefn.ExecutedAction{{Function: "seal_breach", Status: safefn.StatusOK}, {Function: "launch_sortie", Status: safefn.StatusError}},
		Phase:     threat.PhasePeak,
		EventSeed: "wall_assault",
		EventNode: &node,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "Drums in the dark. The garrison sees to seal breach. Attempts to launch sortie come to nothing."
	if r.NarrativeBlock != want {
		t.Fatalf("block: %q", r.NarrativeBlock)
	}
	if r.NPCDialogues["captain"] == "" {
		t.Fatalf("dialogues: %v", r.NPCDialogues)
	}
}
