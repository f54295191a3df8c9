package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bastion.ai/internal/sim/state"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	gs := state.GameState{
		Turn:        4,
		Metrics:     state.Metrics{Morale: 55, Resources: 70},
		NPCs:        []state.NPC{{ID: "captain", Name: "Captain Ilse", Role: "leader", Status: "active", Health: 90}},
		Stockpiles:  map[string]float64{"food": 30},
		EventNodeID: "scouts_return",
	}
	base := 37.5
	in := SnapshotV1{
		Header:           Header{RunID: "run-1", Turn: 4},
		State:            gs,
		BaseThreat:       &base,
		StoryGraphDigest: "sg",
		FinalPathsDigest: "fp",
		TuningDigest:     "tu",
	}
	path := filepath.Join(dir, "snaps", FileName(4))
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in.Header.Version = Version
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.RunID != "run-1" || h.Turn != 4 {
		t.Fatalf("header: %+v", h)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(filepath.Join(dir, "missing")); err != nil || p != "" {
		t.Fatalf("missing dir: %q %v", p, err)
	}
	for _, n := range []int{2, 10, 9} {
		if err := WriteSnapshot(filepath.Join(dir, FileName(n)), SnapshotV1{Header: Header{Turn: n}}); err != nil {
			t.Fatalf("write %d: %v", n, err)
		}
	}
	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != FileName(10) {
		t.Fatalf("latest = %s", p)
	}
}
