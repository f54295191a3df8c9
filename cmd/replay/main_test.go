package main

import (
	"context"
	"strings"
	"testing"

	persistlog "bastion.ai/internal/persistence/log"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/turn"
)

func recordRun(t *testing.T, turns int) []turn.Trace {
	t.Helper()
	runDir := t.TempDir()
	cfg, err := campaign.LoadConfig(t.TempDir(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tl := persistlog.NewTurnLogger(runDir)
	cfg.Sink = tl
	c, err := campaign.New(cfg, nil)
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	for i := 0; i < turns; i++ {
		if _, err := c.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := persistlog.ListTurnFiles(runDir)
	if err != nil || len(files) == 0 {
		t.Fatalf("turn files: %v %v", files, err)
	}
	var out []turn.Trace
	for _, f := range files {
		if err := persistlog.ReadTraces(f, func(tr turn.Trace) error {
			out = append(out, tr)
			return nil
		}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	return out
}

func newVerifier(t *testing.T) *verifier {
	t.Helper()
	cfg, err := campaign.LoadConfig(t.TempDir(), "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return &verifier{
		director: campaign.NewDirector(cfg.StoryGraph, cfg.Tuning, safefn.DefaultRegistry(), nil),
		to:       -1,
	}
}

func TestReplayMatchesRecordedRun(t *testing.T) {
	traces := recordRun(t, 4)
	if len(traces) != 4 {
		t.Fatalf("traces=%d", len(traces))
	}
	v := newVerifier(t)
	for _, tr := range traces {
		if err := v.check(tr); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if v.checked != 4 || v.skipped != 0 {
		t.Fatalf("checked=%d skipped=%d", v.checked, v.skipped)
	}
}

func TestReplayDetectsTamperedState(t *testing.T) {
	traces := recordRun(t, 2)
	m := &traces[1].PreState.Metrics
	if m.Morale > 50 {
		m.Morale -= 20
	} else {
		m.Morale += 20
	}

	v := newVerifier(t)
	if err := v.check(traces[0]); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	err := v.check(traces[1])
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestReplayRejectsGap(t *testing.T) {
	traces := recordRun(t, 3)
	v := newVerifier(t)
	if err := v.check(traces[0]); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := v.check(traces[2]); err == nil || !strings.Contains(err.Error(), "gap") {
		t.Fatalf("expected gap error, got %v", err)
	}
}

func TestReplayWindow(t *testing.T) {
	traces := recordRun(t, 3)
	v := newVerifier(t)
	v.from, v.to = 1, 1
	for _, tr := range traces {
		if err := v.check(tr); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if v.checked != 1 || v.skipped != 2 {
		t.Fatalf("checked=%d skipped=%d", v.checked, v.skipped)
	}
}
