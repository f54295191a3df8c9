package curve

import (
	"errors"
	"testing"

	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

func TestCursor(t *testing.T) {
	snap := state.Snapshot{
		Turn:    2,
		Metrics: state.Metrics{Morale: 70, Resources: 45},
		Markers: []state.Marker{
			{ID: "m1", EntityType: "Enemy_Camp"},
			{ID: "m2", EntityType: "well", Hostile: true},
			{ID: "m3", EntityType: "well"},
		},
	}
	th := threat.Snapshot{Score: 33.9, RecentHostility: 1.5, Phase: threat.PhaseRising}
	// 33 + 4.5 + 10 + 10 + 10 + 2
	if got := Cursor(th, snap); got != 69 {
		t.Fatalf("cursor: got %d want 69", got)
	}
	c := New(nil)
	label, err := c.NextEvent(&th, snap)
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	if label != "scout_report" {
		t.Fatalf("label: got %s want scout_report", label)
	}
}

func TestCursorFlooredAtZero(t *testing.T) {
	snap := state.Snapshot{Metrics: state.Metrics{Morale: 100, Resources: 100}}
	th := threat.Snapshot{Score: 0, Phase: threat.PhaseCalm}
	if got := Cursor(th, snap); got != 0 {
		t.Fatalf("cursor: got %d", got)
	}
}

func TestNextEventPure(t *testing.T) {
	c := New(nil)
	snap := state.Snapshot{Turn: 9, Metrics: state.Metrics{Morale: 12, Resources: 3}}
	th := threat.Snapshot{Score: 88.2, RecentHostility: 7, Phase: threat.PhaseCollapse}
	first, err := c.NextEvent(&th, snap)
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, _ := c.NextEvent(&th, snap)
		if got != first {
			t.Fatalf("call %d: %s vs %s", i, got, first)
		}
	}
}

func TestOverrides(t *testing.T) {
	c := New(map[string][]string{
		"peak":     {"only_one"},
		"collapse": {},
		"bogus":    {"x"},
	})
	th := threat.Snapshot{Score: 70, Phase: threat.PhasePeak}
	got, _ := c.NextEvent(&th, state.Snapshot{Turn: 5})
	if got != "only_one" {
		t.Fatalf("override ignored: %s", got)
	}
	if ls := c.Labels(threat.PhaseCollapse); len(ls) != 3 || ls[0] != "breach" {
		t.Fatalf("empty override should keep defaults: %v", ls)
	}
}

func TestNilThreatIsValidationError(t *testing.T) {
	_, err := New(nil).NextEvent(nil, state.Snapshot{})
	var ve *simerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
