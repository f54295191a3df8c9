package state

import (
	"fmt"
	"math"

	"bastion.ai/internal/sim/simerr"
)

// Validate rejects snapshots no scoring component can work with. Any turn
// number is accepted; non-positive turns carry no escalation.
func (s Snapshot) Validate() error {
	m := s.Metrics
	core := []struct {
		name string
		v    float64
	}{
		{"order", m.Order},
		{"morale", m.Morale},
		{"resources", m.Resources},
		{"knowledge", m.Knowledge},
		{"corruption", m.Corruption},
		{"glitch", m.Glitch},
	}
	for _, c := range core {
		if !finite(c.v) {
			return simerr.Invalid("metrics."+c.name, "not finite")
		}
	}
	optional := []struct {
		name string
		v    *float64
	}{
		{"base_threat", m.BaseThreat},
		{"threat", m.Threat},
		{"stability", m.Stability},
		{"leadership_alignment", m.LeadershipAlignment},
		{"logic_score", m.LogicScore},
		{"emotion_score", m.EmotionScore},
	}
	for _, o := range optional {
		if o.v != nil && !finite(*o.v) {
			return simerr.Invalid("metrics."+o.name, "not finite")
		}
	}
	seen := make(map[string]bool, len(s.NPCs))
	for i, npc := range s.NPCs {
		if npc.ID == "" {
			return simerr.Invalid(fmt.Sprintf("npc_locations[%d].id", i), "empty")
		}
		if seen[npc.ID] {
			return simerr.Invalid(fmt.Sprintf("npc_locations[%d].id", i), "duplicate id %q", npc.ID)
		}
		seen[npc.ID] = true
		if !finite(npc.Health) || !finite(npc.Fatigue) {
			return simerr.Invalid(fmt.Sprintf("npc_locations[%d]", i), "non-finite health or fatigue")
		}
	}
	for i, st := range s.Structures {
		if st.ID == "" {
			return simerr.Invalid(fmt.Sprintf("structures[%d].id", i), "empty")
		}
	}
	for i, mk := range s.Markers {
		if mk.ID == "" {
			return simerr.Invalid(fmt.Sprintf("map_event_markers[%d].id", i), "empty")
		}
	}
	for k, v := range s.Stockpiles {
		if !finite(v) {
			return simerr.Invalid("stockpiles."+k, "not finite")
		}
	}
	for i, r := range s.History {
		if r.Function == "" {
			return simerr.Invalid(fmt.Sprintf("safe_function_history[%d].function", i), "empty")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
