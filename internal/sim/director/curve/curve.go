// Package curve maps threat phase and momentum to an event archetype.
package curve

import (
	"math"

	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

var defaultLabels = map[threat.Phase][]string{
	threat.PhaseCalm:     {"quiet_watch", "supply_run", "council_meeting"},
	threat.PhaseRising:   {"scout_report", "border_skirmish", "refugee_arrival"},
	threat.PhasePeak:     {"wall_assault", "sabotage", "siege_bombardment"},
	threat.PhaseCollapse: {"breach", "mutiny", "last_stand_call"},
}

type Curve struct {
	labels map[threat.Phase][]string
}

// New builds a curve from the defaults. A non-empty override list replaces
// the labels for its phase; unknown phase names are ignored.
func New(overrides map[string][]string) *Curve {
	c := &Curve{labels: make(map[threat.Phase][]string, len(defaultLabels))}
	for p, ls := range defaultLabels {
		c.labels[p] = append([]string(nil), ls...)
	}
	for name, ls := range overrides {
		p, ok := threat.ParsePhase(name)
		if !ok || len(ls) == 0 {
			continue
		}
		c.labels[p] = append([]string(nil), ls...)
	}
	return c
}

func (c *Curve) Labels(p threat.Phase) []string {
	return append([]string(nil), c.labels[p]...)
}

// Cursor is the momentum value the archetype index is taken from.
func Cursor(th threat.Snapshot, snap state.Snapshot) int {
	m := snap.Metrics
	cursor := math.Floor(th.Score) +
		th.RecentHostility*3 +
		math.Max(0, 80-m.Morale) +
		math.Max(0, 50-m.Resources)*2 +
		float64(snap.HostileMarkerCount()*5) +
		float64(snap.Turn)
	cursor = math.Floor(cursor)
	if cursor < 0 || math.IsNaN(cursor) {
		return 0
	}
	return int(cursor)
}

// NextEvent returns the archetype label for this turn. It has no side effects.
func (c *Curve) NextEvent(th *threat.Snapshot, snap state.Snapshot) (string, error) {
	if th == nil {
		return "", simerr.Invalid("threat", "snapshot required")
	}
	labels := c.labels[th.Phase]
	if len(labels) == 0 {
		return "", simerr.Invalid("threat.phase", "no archetypes for phase %q", th.Phase)
	}
	return labels[Cursor(*th, snap)%len(labels)], nil
}
