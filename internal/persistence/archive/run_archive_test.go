package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/sim/state"
)

func TestArchiveEndedRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snapshots", snapshot.FileName(7))

	running := snapshot.SnapshotV1{Header: snapshot.Header{RunID: "run-1", Turn: 7}, State: state.GameState{Turn: 7}}
	if err := snapshot.WriteSnapshot(src, running); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, archived, err := ArchiveEndedRun(dir, src, running); err != nil || archived {
		t.Fatalf("running campaign archived=%v err=%v", archived, err)
	}

	ended := running
	ended.State.Ended = true
	ended.State.FinalPathID = "evacuation_success"
	if err := snapshot.WriteSnapshot(src, ended); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst, archived, err := ArchiveEndedRun(dir, src, ended)
	if err != nil || !archived {
		t.Fatalf("archive: archived=%v err=%v", archived, err)
	}
	if _, err := snapshot.ReadSnapshot(dst); err != nil {
		t.Fatalf("archived copy unreadable: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "archives", "run-1", "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta RunArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta.FinalPathID != "evacuation_success" || meta.FinalTurn != 7 {
		t.Fatalf("meta: %+v", meta)
	}
}
