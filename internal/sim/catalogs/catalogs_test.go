package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bastion.ai/internal/sim/simerr"
)

func TestDefaultStoryGraph(t *testing.T) {
	sg, err := DefaultStoryGraph()
	if err != nil {
		t.Fatalf("default graph: %v", err)
	}
	if sg.Graph.EntryID() != "first_smoke" {
		t.Fatalf("entry: %s", sg.Graph.EntryID())
	}
	if len(sg.Digest) != 64 {
		t.Fatalf("digest: %q", sg.Digest)
	}
	var finals int
	for _, n := range sg.Graph.Nodes() {
		if n.Final {
			finals++
		}
	}
	if finals == 0 {
		t.Fatalf("default graph has no terminal nodes")
	}
}

func TestParseStoryGraphRejects(t *testing.T) {
	cases := map[string]string{
		"missing entry":    `{"nodes":[{"id":"a","description":"x"}]}`,
		"empty entry":      `{"entry_id":"","nodes":[{"id":"a","description":"x"}]}`,
		"unknown entry":    `{"entry_id":"b","nodes":[{"id":"a","description":"x"}]}`,
		"empty node id":    `{"entry_id":"a","nodes":[{"id":"","description":"x"}]}`,
		"missing desc":     `{"entry_id":"a","nodes":[{"id":"a"}]}`,
		"dangling target":  `{"entry_id":"a","nodes":[{"id":"a","description":"x","next":{"go":"b"}}]}`,
		"non-string label": `{"entry_id":"a","nodes":[{"id":"a","description":"x","next":{"go":1}}]}`,
		"not json":         `{`,
	}
	for name, raw := range cases {
		_, err := ParseStoryGraph([]byte(raw))
		var ve *simerr.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

func TestLoadStoryGraphFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "story_graph.json")
	raw := `{"entry_id":"a","nodes":[{"id":"a","description":"start","tags":["omen"],"next":{"go":"b"}},{"id":"b","description":"end","is_final":true}]}`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	sg, err := LoadStoryGraph(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sg.Graph.Len() != 2 {
		t.Fatalf("nodes: %d", sg.Graph.Len())
	}
	if sg.Digest != sha256Hex([]byte(raw)) {
		t.Fatalf("digest mismatch")
	}
}

func TestDefaultFinalPaths(t *testing.T) {
	c, err := DefaultFinalPaths()
	if err != nil {
		t.Fatalf("default final paths: %v", err)
	}
	if c.Len() != 10 {
		t.Fatalf("catalog size: %d", c.Len())
	}
	for _, id := range []string{
		"victory_defense", "evacuation_success", "heroic_last_stand", "collapse_failure",
		"unknown_anomaly", "betrayal_ending", "bittersweet_survival",
	} {
		p, ok := c.Get(id)
		if !ok {
			t.Fatalf("missing path %s", id)
		}
		if p.Title == "" || p.Summary == "" || p.Tone == "" {
			t.Fatalf("path %s incomplete: %+v", id, p)
		}
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatalf("unexpected path")
	}
}

func TestValidateOutput(t *testing.T) {
	c, err := DefaultFinalPaths()
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Get("heroic_last_stand")
	good := map[string]any{
		"title":         p.Title,
		"tone":          p.Tone,
		"paragraphs":    []string{"one", "two", "three"},
		"fallen_heroes": []string{"captain"},
	}
	if err := p.ValidateOutput(good); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	short := map[string]any{"title": "x", "tone": "y", "paragraphs": []string{"one"}}
	if err := p.ValidateOutput(short); err == nil {
		t.Fatalf("short payload accepted")
	}
	wrongType := map[string]any{"title": "x", "tone": "y", "paragraphs": []string{"a", "b", "c"}, "fallen_heroes": "captain"}
	if err := p.ValidateOutput(wrongType); err == nil {
		t.Fatalf("mistyped payload accepted")
	}
}

func TestParseFinalPathsRejectsDuplicates(t *testing.T) {
	raw := `[
	  {"id":"a","title":"A","tone":"t","summary":"s","output_schema":{"type":"object"}},
	  {"id":"a","title":"A","tone":"t","summary":"s","output_schema":{"type":"object"}}
	]`
	_, err := ParseFinalPaths([]byte(raw))
	var ve *simerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := ParseFinalPaths([]byte(`[{"id":"a","title":"A"}]`)); err == nil {
		t.Fatalf("missing fields accepted")
	}
}
