// Package catalogs loads the authored data the director runs on: the story
// graph and the final-path catalog. Every source is schema-checked and
// digested so traces can pin exactly which data produced a turn.
package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/simerr"
)

var (
	//go:embed data/story_graph.schema.json
	storyGraphSchemaJSON string
	//go:embed data/final_paths.schema.json
	finalPathsSchemaJSON string
	//go:embed data/story_graph.json
	defaultStoryGraph []byte
	//go:embed data/final_paths.json
	defaultFinalPaths []byte
)

var (
	storyGraphSchema = jsonschema.MustCompileString("story_graph.schema.json", storyGraphSchemaJSON)
	finalPathsSchema = jsonschema.MustCompileString("final_paths.schema.json", finalPathsSchemaJSON)
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// validateDoc checks raw JSON against schema. Violations are ValidationErrors.
func validateDoc(name string, schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return simerr.Invalid(name, "%v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return simerr.Invalid(name, "%s", schemaReason(err))
	}
	return nil
}

func schemaReason(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		// The leaf cause names the offending field.
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("%s: %s", loc, leaf.Message)
	}
	return strings.TrimSpace(err.Error())
}

type StoryGraph struct {
	Graph  *storygraph.Graph
	Digest string
}

func LoadStoryGraph(path string, opts ...storygraph.Option) (*StoryGraph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStoryGraph(raw, opts...)
}

// ParseStoryGraph validates raw against the story graph schema, builds the
// graph and rejects transitions to undefined nodes.
func ParseStoryGraph(raw []byte, opts ...storygraph.Option) (*StoryGraph, error) {
	if err := validateDoc("story_graph", storyGraphSchema, raw); err != nil {
		return nil, err
	}
	g, err := storygraph.Parse(raw, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.CheckTargets(); err != nil {
		return nil, err
	}
	return &StoryGraph{Graph: g, Digest: sha256Hex(raw)}, nil
}

// DefaultStoryGraph is the built-in siege campaign.
func DefaultStoryGraph(opts ...storygraph.Option) (*StoryGraph, error) {
	return ParseStoryGraph(defaultStoryGraph, opts...)
}
