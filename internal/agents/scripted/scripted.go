// Package scripted provides deterministic template collaborators. They are
// the default when no model is configured and the reference in tests.
package scripted

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/state"
)

// Agent implements NarrativeAgent, Planner and Renderer.
type Agent struct{}

func New() *Agent { return &Agent{} }

var (
	_ collab.NarrativeAgent = (*Agent)(nil)
	_ collab.Planner        = (*Agent)(nil)
	_ collab.Renderer       = (*Agent)(nil)
)

func humanize(s string) string { return strings.ReplaceAll(s, "_", " ") }

func (a *Agent) GenerateIntent(_ context.Context, req collab.IntentRequest) (collab.Intent, error) {
	var b strings.Builder
	if req.EventNode != nil {
		b.WriteString(req.EventNode.Description)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "The %s threat colours the day", req.Threat.Phase)
	if req.EventSeed != "" {
		fmt.Fprintf(&b, " as word spreads of %s", humanize(req.EventSeed))
	}
	b.WriteString(".")
	if req.Directive != nil && req.Directive.Trigger {
		b.WriteString(" The end of the siege is near.")
	}

	var opts []string
	if req.EventNode != nil {
		for _, t := range req.EventNode.Next {
			opts = append(opts, humanize(t.Label))
		}
	}
	if len(opts) == 0 {
		opts = []string{"stand fast"}
	}
	return collab.Intent{SceneIntent: b.String(), PlayerOptions: opts}, nil
}

// plans maps an event archetype to the calls it suggests, in priority order.
var plans = map[string][]string{
	"quiet_watch":       {"reinforce_structure", "record_chronicle"},
	"supply_run":        {"distribute_supplies", "ration_supplies"},
	"council_meeting":   {"rally_defenders", "negotiate_terms"},
	"scout_report":      {"record_chronicle", "reinforce_structure"},
	"border_skirmish":   {"launch_sortie", "hold_the_line"},
	"refugee_arrival":   {"evacuate_civilians", "ration_supplies"},
	"wall_assault":      {"hold_the_line", "reinforce_structure"},
	"sabotage":          {"investigate_anomaly", "seal_breach"},
	"siege_bombardment": {"seal_breach", "rally_defenders"},
	"breach":            {"seal_breach", "hold_the_line"},
	"mutiny":            {"rally_defenders", "ration_supplies"},
	"last_stand_call":   {"hold_the_line", "rally_defenders"},
}

func (a *Agent) PlanActions(_ context.Context, req collab.PlanRequest) (collab.Plan, error) {
	allowed := map[string]bool{}
	for _, fn := range req.Functions {
		allowed[fn] = true
	}
	var names []string
	if req.State.Metrics.Corruption > 60 {
		names = append(names, "purge_corruption")
	}
	names = append(names, plans[req.EventSeed]...)

	out := collab.Plan{Actions: []safefn.Action{}}
	seen := map[string]bool{}
	for _, fn := range names {
		if len(out.Actions) >= req.MaxCalls {
			break
		}
		if seen[fn] || (len(allowed) > 0 && !allowed[fn]) {
			continue
		}
		act, ok := actionFor(fn, req.State, req.EventSeed)
		if !ok {
			continue
		}
		seen[fn] = true
		out.Actions = append(out.Actions, act)
	}
	return out, nil
}

func actionFor(fn string, snap state.Snapshot, seed string) (safefn.Action, bool) {
	args := map[string]any{}
	switch fn {
	case "reinforce_structure", "seal_breach", "hold_the_line":
		id, ok := snap.PrimaryStructureID()
		if !ok {
			return safefn.Action{}, false
		}
		args["structure_id"] = id
	case "rally_defenders", "launch_sortie":
		if id, ok := primaryHealthy(snap); ok {
			args["npc_id"] = id
		}
	case "evacuate_civilians":
		id, ok := evacuee(snap)
		if !ok {
			return safefn.Action{}, false
		}
		args["npc_id"] = id
	case "distribute_supplies":
		item, ok := richestStock(snap)
		if !ok || snap.Stockpiles[item] < 5 {
			return safefn.Action{}, false
		}
		args["item"] = item
		args["amount"] = 5.0
	case "record_chronicle":
		args["text"] = fmt.Sprintf("Turn %d: %s.", snap.Turn, humanize(seed))
	default:
		args = nil
	}
	return safefn.Action{Function: fn, Args: args, Explanation: "answer to " + humanize(seed)}, true
}

func primaryHealthy(snap state.Snapshot) (string, bool) {
	for _, n := range snap.NPCs {
		if n.Alive() && !n.Escaped() && n.Health >= 30 {
			return n.ID, true
		}
	}
	return "", false
}

// evacuee is the last active NPC that does not hold a leadership role.
func evacuee(snap state.Snapshot) (string, bool) {
	for i := len(snap.NPCs) - 1; i >= 0; i-- {
		n := snap.NPCs[i]
		if n.Alive() && !n.Escaped() && !strings.Contains(strings.ToLower(n.Role), "captain") {
			return n.ID, true
		}
	}
	return "", false
}

func richestStock(snap state.Snapshot) (string, bool) {
	best, bestV := "", 0.0
	for _, k := range snap.StockpileKeys() {
		if v := snap.Stockpiles[k]; v > bestV {
			best, bestV = k, v
		}
	}
	return best, best != ""
}

func (a *Agent) Render(_ context.Context, req collab.RenderRequest) (collab.Rendering, error) {
	if req.Finale != nil {
		return renderFinale(req), nil
	}
	var b strings.Builder
	if req.EventNode != nil {
		b.WriteString(req.EventNode.Description)
	}
	done, failed := split(req.Executed)
	if len(done) > 0 {
		fmt.Fprintf(&b, " The garrison sees to %s.", strings.Join(done, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, " Attempts to %s come to nothing.", strings.Join(failed, ", "))
	}
	return collab.Rendering{
		NarrativeBlock: strings.TrimSpace(b.String()),
		NPCDialogues:   dialogues(req.State, req.Phase),
		Atmosphere:     fmt.Sprintf("%s; %s", req.Phase, humanize(req.EventSeed)),
	}, nil
}

func split(executed []safefn.ExecutedAction) (done, failed []string) {
	for _, a := range executed {
		if a.Status == safefn.StatusOK {
			done = append(done, humanize(a.Function))
		} else {
			failed = append(failed, humanize(a.Function))
		}
	}
	return done, failed
}

var lines = map[threat.Phase]string{
	threat.PhaseCalm:     "Quiet tonight. I do not trust it.",
	threat.PhaseRising:   "They are testing us. Keep your eyes on the ridge.",
	threat.PhasePeak:     "Hold! Every stone of this wall is ours!",
	threat.PhaseCollapse: "If this is the end, we meet it standing.",
}

// dialogues gives the first active NPC a line for the phase.
func dialogues(snap state.Snapshot, phase threat.Phase) map[string]string {
	line, ok := lines[phase]
	if !ok {
		return nil
	}
	for _, n := range snap.NPCs {
		if n.Alive() && !n.Escaped() {
			return map[string]string{n.ID: line}
		}
	}
	return nil
}

func renderFinale(req collab.RenderRequest) collab.Rendering {
	f := req.Finale
	done, _ := split(req.Executed)
	middle := "In the final hours nothing went to plan."
	if len(done) > 0 {
		middle = fmt.Sprintf("In the final hours the defenders turned to %s.", strings.Join(done, ", "))
	}

	var fallen []string
	for _, n := range req.State.NPCs {
		if !n.Alive() {
			fallen = append(fallen, n.ID)
		}
	}
	sort.Strings(fallen)
	closing := fmt.Sprintf("So ends the siege, remembered as %s.", strings.ToLower(f.Title))
	if len(fallen) > 0 {
		closing = fmt.Sprintf("%s remembered. %s", strings.Join(fallen, ", "), closing)
	}

	extra := map[string]any{}
	switch f.PathID {
	case "heroic_last_stand":
		extra["fallen_heroes"] = append([]string{}, fallen...)
	case "evacuation_success":
		extra["survivors"] = len(req.State.NPCs) - len(fallen)
	case "unknown_anomaly":
		extra["anomaly"] = "a rift beneath the keep"
	}
	paras := []string{f.Summary, middle, closing}
	return collab.Rendering{
		NarrativeBlock: strings.Join(paras, "\n\n"),
		Atmosphere:     f.Tone,
		Paragraphs:     paras,
		Extra:          extra,
	}
}
