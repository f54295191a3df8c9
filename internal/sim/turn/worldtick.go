package turn

import (
	"math"

	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
)

// WorldTick is the deterministic upkeep applied after actions. It is always
// computed from the pre-action snapshot.
type WorldTick struct {
	ActiveNPCs        int                `json:"active_npcs"`
	FoodItem          string             `json:"food_item"`
	FoodConsumed      float64            `json:"food_consumed"`
	FoodShortfall     float64            `json:"food_shortfall"`
	ResourcesConsumed float64            `json:"resources_consumed"`
	MoraleLoss        float64            `json:"morale_loss"`
	Fatigue           map[string]float64 `json:"fatigue,omitempty"`
}

func ComputeWorldTick(pre state.Snapshot, cfg tuning.WorldTick) WorldTick {
	tick := WorldTick{FoodItem: cfg.FoodItem}
	for _, n := range pre.NPCs {
		if !n.Alive() || n.Escaped() {
			continue
		}
		tick.ActiveNPCs++
		gain := math.Min(cfg.FatiguePerTurn, math.Max(0, cfg.FatigueCap-n.Fatigue))
		if gain > 0 {
			if tick.Fatigue == nil {
				tick.Fatigue = map[string]float64{}
			}
			tick.Fatigue[n.ID] = gain
		}
	}
	need := cfg.FoodPerNPC * float64(tick.ActiveNPCs)
	have := pre.Stockpiles[cfg.FoodItem]
	tick.FoodConsumed = math.Min(need, have)
	tick.FoodShortfall = need - tick.FoodConsumed
	tick.ResourcesConsumed = cfg.ResourcesPerNPC * float64(tick.ActiveNPCs)
	if tick.FoodShortfall > 0 {
		tick.MoraleLoss = cfg.StarvationMorale
	}
	return tick
}

func (t WorldTick) Apply(gs *state.GameState, cfg tuning.WorldTick) {
	if t.FoodConsumed > 0 {
		gs.AddStock(t.FoodItem, -t.FoodConsumed)
	}
	gs.Metrics.Resources = math.Max(0, gs.Metrics.Resources-t.ResourcesConsumed)
	gs.Metrics.Morale = math.Max(0, gs.Metrics.Morale-t.MoraleLoss)
	for id, gain := range t.Fatigue {
		if npc := gs.NPC(id); npc != nil {
			npc.Fatigue = math.Min(cfg.FatigueCap, npc.Fatigue+gain)
		}
	}
}
