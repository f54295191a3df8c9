package log

import (
	"context"
	"testing"
	"time"

	"bastion.ai/internal/sim/turn"
)

func TestTurnLoggerRoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewTurnLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if i == 2 {
			clock = clock.Add(2 * time.Minute)
		}
		tr := turn.Trace{RunID: "r1", Turn: i, DecisionDigest: "d"}
		if err := l.WriteTrace(ctx, tr); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListTurnFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected an hourly rotation, got %v", files)
	}
	var turns []int
	for _, f := range files {
		if err := ReadTraces(f, func(tr turn.Trace) error {
			turns = append(turns, tr.Turn)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(turns) != 3 || turns[0] != 0 || turns[2] != 2 {
		t.Fatalf("turns: %v", turns)
	}
}
