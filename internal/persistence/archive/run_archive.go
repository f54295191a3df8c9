package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bastion.ai/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	RunID       string `json:"run_id"`
	FinalTurn   int    `json:"final_turn"`
	FinalPathID string `json:"final_path_id"`
	Snapshot    string `json:"snapshot"`
	CreatedAt   string `json:"created_at"`

	StoryGraphDigest string `json:"story_graph_digest"`
	FinalPathsDigest string `json:"final_paths_digest"`
	TuningDigest     string `json:"tuning_digest"`
}

// ArchiveEndedRun copies the snapshot of a finished campaign into
// `dataDir/archives/<run_id>/` next to a meta.json. Snapshots of runs that
// are still going are ignored and archived=false is returned.
func ArchiveEndedRun(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	if !snap.State.Ended || snap.Header.RunID == "" {
		return "", false, nil
	}

	archiveDir := filepath.Join(dataDir, "archives", snap.Header.RunID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, fmt.Errorf("copy snapshot: %w", err)
	}

	meta := RunArchiveMeta{
		RunID:            snap.Header.RunID,
		FinalTurn:        snap.State.Turn,
		FinalPathID:      snap.State.FinalPathID,
		Snapshot:         filepath.Base(dst),
		CreatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		StoryGraphDigest: snap.StoryGraphDigest,
		FinalPathsDigest: snap.FinalPathsDigest,
		TuningDigest:     snap.TuningDigest,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
