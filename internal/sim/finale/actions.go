package finale

import (
	"fmt"

	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/state"
)

const (
	DefaultStructureID = "main_gate"
	DefaultNPCID       = "captain"
)

// Targets parameterise the finale action lists.
type Targets struct {
	StructureID string
	NPCID       string
	X, Y        int
}

func TargetsFor(snap state.Snapshot) Targets {
	t := Targets{StructureID: DefaultStructureID, NPCID: DefaultNPCID, X: snap.Player.X, Y: snap.Player.Y}
	if id, ok := snap.PrimaryStructureID(); ok {
		t.StructureID = id
	}
	if id, ok := snap.PrimaryNPCID(); ok {
		t.NPCID = id
	}
	return t
}

func call(fn string, args map[string]any, why string) safefn.Action {
	return safefn.Action{Function: fn, Args: args, Explanation: why}
}

func chronicle(text string) safefn.Action {
	return call("record_chronicle", map[string]any{"text": text}, "close the chronicle")
}

func flag(name string) safefn.Action {
	return call("set_flag", map[string]any{"name": name, "value": true}, "mark the ending")
}

// ActionsFor returns the three finale calls for a path id.
func ActionsFor(pathID string, t Targets) ([]safefn.Action, error) {
	s := map[string]any{"structure_id": t.StructureID}
	n := map[string]any{"npc_id": t.NPCID}
	xy := map[string]any{"x": t.X, "y": t.Y}

	switch pathID {
	case PathVictoryDefense:
		return []safefn.Action{
			call("reinforce_structure", s, "the walls are made whole"),
			call("rally_defenders", n, "the garrison cheers"),
			chronicle(fmt.Sprintf("The siege broke against %s.", t.StructureID)),
		}, nil
	case PathEvacuationSuccess:
		return []safefn.Action{
			call("evacuate_civilians", n, "the last civilians leave"),
			call("move_player", xy, "the player leads the column"),
			flag("evacuation_complete"),
		}, nil
	case PathHeroicLastStand:
		return []safefn.Action{
			call("hold_the_line", s, "the defenders hold to the end"),
			call("launch_sortie", n, "a final charge"),
			chronicle(fmt.Sprintf("They made their last stand at %s.", t.StructureID)),
		}, nil
	case PathCollapseFailure:
		return []safefn.Action{
			call("abandon_structure", s, "the defences give way"),
			flag("keep_fallen"),
			chronicle("The keep fell."),
		}, nil
	case PathUnknownAnomaly:
		return []safefn.Action{
			call("investigate_anomaly", xy, "the rift opens"),
			call("purge_corruption", nil, "a desperate purge"),
			flag("rift_open"),
		}, nil
	case PathBetrayalEnding:
		return []safefn.Action{
			call("denounce_traitor", n, "the betrayal is named"),
			call("seal_breach", s, "the postern is barred too late"),
			chronicle("The siege ended with a door opened from within."),
		}, nil
	case PathBittersweetSurvival:
		return []safefn.Action{
			call("ration_supplies", nil, "what is left is shared"),
			call("seal_breach", s, "the survivors patch the walls"),
			chronicle("The fortress endured, at a price."),
		}, nil
	case PathNegotiatedTruce:
		return []safefn.Action{
			call("negotiate_terms", nil, "envoys meet at the gate"),
			flag("truce"),
			chronicle("A truce was sworn beneath the white banner."),
		}, nil
	case PathPyrrhicVictory:
		return []safefn.Action{
			call("hold_the_line", s, "the last assault is thrown back"),
			call("rally_defenders", n, "the few who remain stand together"),
			chronicle("Victory came, but few lived to see it."),
		}, nil
	case PathExileMarch:
		return []safefn.Action{
			call("evacuate_civilians", n, "the people take to the road"),
			call("abandon_structure", s, "the keep is left behind"),
			call("move_player", xy, "the player walks at the head of the column"),
		}, nil
	}
	return nil, fmt.Errorf("no finale actions for path %q", pathID)
}
