package safefn

import (
	"fmt"
	"math"

	"bastion.ai/internal/sim/state"
)

const (
	CategoryDefense    = "defense"
	CategoryLogistics  = "logistics"
	CategoryLeadership = "leadership"
	CategoryCivil      = "civil"
	CategoryCombat     = "combat"
	CategoryArcane     = "arcane"
	CategoryDiplomacy  = "diplomacy"
	CategoryPolitics   = "politics"
	CategoryMovement   = "movement"
	CategoryNarrative  = "narrative"
)

var builtins = []Handler{
	{Name: "reinforce_structure", Category: CategoryDefense, Description: "Shore up a structure with materials.", Apply: reinforceStructure},
	{Name: "seal_breach", Category: CategoryDefense, Description: "Close a breach in a structure.", Apply: sealBreach},
	{Name: "abandon_structure", Category: CategoryDefense, Description: "Pull defenders back from a structure.", Apply: abandonStructure},
	{Name: "ration_supplies", Category: CategoryLogistics, Description: "Cut rations to stretch resources.", Apply: rationSupplies},
	{Name: "distribute_supplies", Category: CategoryLogistics, Description: "Hand out stockpiled goods.", Apply: distributeSupplies},
	{Name: "rally_defenders", Category: CategoryLeadership, Description: "Lift spirits on the walls.", Apply: rallyDefenders},
	{Name: "evacuate_civilians", Category: CategoryCivil, Description: "Move people out of harm's way.", Apply: evacuateCivilians},
	{Name: "launch_sortie", Category: CategoryCombat, Description: "Strike out at the besiegers.", Apply: launchSortie},
	{Name: "hold_the_line", Category: CategoryCombat, Description: "Meet an assault at a structure.", Apply: holdTheLine},
	{Name: "investigate_anomaly", Category: CategoryArcane, Description: "Study strange phenomena.", Apply: investigateAnomaly},
	{Name: "purge_corruption", Category: CategoryArcane, Description: "Burn out creeping corruption.", Apply: purgeCorruption},
	{Name: "negotiate_terms", Category: CategoryDiplomacy, Description: "Send envoys to the besiegers.", Apply: negotiateTerms},
	{Name: "denounce_traitor", Category: CategoryPolitics, Description: "Name and confine a traitor.", Apply: denounceTraitor},
	{Name: "move_player", Category: CategoryMovement, Description: "Move the player on the map.", Apply: movePlayer},
	{Name: "record_chronicle", Category: CategoryNarrative, Description: "Write a line into the chronicle.", Apply: recordChronicle},
	{Name: "set_flag", Category: CategoryNarrative, Description: "Set a story flag.", Apply: setFlag},
}

func bump(v *float64, delta float64) {
	*v = math.Max(0, math.Min(100, *v+delta))
}

func structureArg(gs *state.GameState, args Args) (*state.Structure, error) {
	id := args.String("structure_id", "")
	if id == "" {
		snap := gs.Snapshot()
		primary, ok := snap.PrimaryStructureID()
		if !ok {
			return nil, fmt.Errorf("no structures tracked")
		}
		id = primary
	}
	st := gs.Structure(id)
	if st == nil {
		return nil, fmt.Errorf("unknown structure %q", id)
	}
	return st, nil
}

func npcArg(gs *state.GameState, args Args, required bool) (*state.NPC, error) {
	id := args.String("npc_id", "")
	if id == "" {
		if required {
			return nil, fmt.Errorf("missing npc_id")
		}
		return nil, nil
	}
	npc := gs.NPC(id)
	if npc == nil {
		return nil, fmt.Errorf("unknown npc %q", id)
	}
	return npc, nil
}

func reinforceStructure(gs *state.GameState, args Args) error {
	st, err := structureArg(gs, args)
	if err != nil {
		return err
	}
	amount, err := args.Float("amount", 15)
	if err != nil {
		return err
	}
	if st.Status == "abandoned" {
		return fmt.Errorf("structure %s is abandoned", st.ID)
	}
	if have, tracked := gs.Stockpiles["materials"]; tracked {
		if have < 5 {
			return fmt.Errorf("not enough materials")
		}
		gs.AddStock("materials", -5)
	}
	st.Integrity = math.Min(100, st.Integrity+amount)
	st.Status = "reinforced"
	bump(&gs.Metrics.Order, 1)
	return nil
}

func sealBreach(gs *state.GameState, args Args) error {
	st, err := structureArg(gs, args)
	if err != nil {
		return err
	}
	st.Status = "sealed"
	st.Integrity = math.Max(st.Integrity, 25)
	bump(&gs.Metrics.Order, 3)
	return nil
}

func abandonStructure(gs *state.GameState, args Args) error {
	st, err := structureArg(gs, args)
	if err != nil {
		return err
	}
	st.Status = "abandoned"
	bump(&gs.Metrics.Morale, -5)
	return nil
}

func rationSupplies(gs *state.GameState, args Args) error {
	bump(&gs.Metrics.Resources, 3)
	bump(&gs.Metrics.Morale, -2)
	return nil
}

func distributeSupplies(gs *state.GameState, args Args) error {
	item := args.String("item", "food")
	amount, err := args.Float("amount", 5)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if gs.Stockpiles[item] < amount {
		return fmt.Errorf("stockpile %s has %.1f, need %.1f", item, gs.Stockpiles[item], amount)
	}
	gs.AddStock(item, -amount)
	bump(&gs.Metrics.Morale, 4)
	return nil
}

func rallyDefenders(gs *state.GameState, args Args) error {
	npc, err := npcArg(gs, args, false)
	if err != nil {
		return err
	}
	if npc != nil {
		if !npc.Alive() {
			return fmt.Errorf("npc %s cannot rally", npc.ID)
		}
		npc.Fatigue = math.Max(0, npc.Fatigue-10)
	}
	bump(&gs.Metrics.Morale, 6)
	bump(&gs.Metrics.Order, 2)
	return nil
}

func evacuateCivilians(gs *state.GameState, args Args) error {
	npc, err := npcArg(gs, args, false)
	if err != nil {
		return err
	}
	if npc != nil {
		if !npc.Alive() {
			return fmt.Errorf("npc %s cannot be evacuated", npc.ID)
		}
		npc.Status = "evacuated"
		npc.Location = "outside the walls"
	}
	bump(&gs.Metrics.Morale, 2)
	bump(&gs.Metrics.Resources, -2)
	return nil
}

func launchSortie(gs *state.GameState, args Args) error {
	npc, err := npcArg(gs, args, false)
	if err != nil {
		return err
	}
	if npc != nil {
		if !npc.Alive() {
			return fmt.Errorf("npc %s cannot lead a sortie", npc.ID)
		}
		npc.Health = math.Max(0, npc.Health-20)
		npc.Fatigue = math.Min(100, npc.Fatigue+15)
	}
	gs.Combat.Skirmishes++
	bump(&gs.Metrics.Resources, -5)
	bump(&gs.Metrics.Morale, 3)
	return nil
}

func holdTheLine(gs *state.GameState, args Args) error {
	st, err := structureArg(gs, args)
	if err != nil {
		return err
	}
	st.Integrity = math.Max(0, st.Integrity-5)
	gs.Combat.Skirmishes++
	bump(&gs.Metrics.Order, 2)
	return nil
}

func investigateAnomaly(gs *state.GameState, args Args) error {
	bump(&gs.Metrics.Knowledge, 5)
	bump(&gs.Metrics.Glitch, 3)
	return nil
}

func purgeCorruption(gs *state.GameState, args Args) error {
	amount, err := args.Float("amount", 10)
	if err != nil {
		return err
	}
	bump(&gs.Metrics.Corruption, -math.Abs(amount))
	bump(&gs.Metrics.Order, -2)
	return nil
}

func negotiateTerms(gs *state.GameState, args Args) error {
	bump(&gs.Metrics.Order, 3)
	bump(&gs.Metrics.Morale, -1)
	gs.SetFlag("negotiating", true)
	return nil
}

func denounceTraitor(gs *state.GameState, args Args) error {
	npc, err := npcArg(gs, args, true)
	if err != nil {
		return err
	}
	npc.Status = "imprisoned"
	bump(&gs.Metrics.Order, 4)
	bump(&gs.Metrics.Morale, -3)
	return nil
}

func movePlayer(gs *state.GameState, args Args) error {
	x, err := args.Int("x", gs.Player.X)
	if err != nil {
		return err
	}
	y, err := args.Int("y", gs.Player.Y)
	if err != nil {
		return err
	}
	gs.Player = state.Position{X: x, Y: y}
	return nil
}

func recordChronicle(gs *state.GameState, args Args) error {
	text, err := args.RequireString("text")
	if err != nil {
		return err
	}
	gs.Log = append(gs.Log, text)
	return nil
}

func setFlag(gs *state.GameState, args Args) error {
	name, err := args.RequireString("name")
	if err != nil {
		return err
	}
	gs.SetFlag(name, args.Bool("value", true))
	return nil
}
