package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := `
threat:
  escalation_rate: 2.5
  thresholds:
    calm: 20
    rising: 50
    peak: 75
event_curve:
  overrides:
    calm: [lantern_vigil]
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Threat.EscalationRate != 2.5 {
		t.Fatalf("escalation_rate=%v want 2.5", got.Threat.EscalationRate)
	}
	if got.Threat.Thresholds.Calm != 20 || got.Threat.Thresholds.Peak != 75 {
		t.Fatalf("thresholds not applied: %+v", got.Threat.Thresholds)
	}
	// Untouched values keep their defaults.
	if got.Threat.HostilityWindow != 4 || got.Endgame.MoraleBelow != 20 {
		t.Fatalf("defaults lost: %+v", got)
	}
	if len(got.Curve.Overrides["calm"]) != 1 {
		t.Fatalf("override not loaded: %+v", got.Curve.Overrides)
	}
}

func TestValidateRejectsNonIncreasingThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Threat.Thresholds = PhaseThresholds{Calm: 50, Rising: 50, Peak: 80}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "strictly increasing") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}

func TestValidateRejectsUnknownCurvePhase(t *testing.T) {
	cfg := Defaults()
	cfg.Curve.Overrides = map[string][]string{"panic": {"x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown phase rejected")
	}
}

func TestDigestStable(t *testing.T) {
	a, b := Defaults(), Defaults()
	if a.Digest() != b.Digest() {
		t.Fatalf("digest not stable")
	}
	b.Threat.EscalationCap = 1
	if a.Digest() == b.Digest() {
		t.Fatalf("digest ignored a change")
	}
}

func TestShippedTuningMatchesDefaults(t *testing.T) {
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod")
		}
		dir = parent
	}
	got, err := Load(filepath.Join(dir, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Digest() != Defaults().Digest() {
		t.Fatalf("configs/tuning.yaml drifted from Defaults()")
	}
}
