package catalogs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"bastion.ai/internal/sim/simerr"
)

// FinalPath is one canonical ending. Paths are only ever looked up, never
// built at runtime.
type FinalPath struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Tone         string          `json:"tone"`
	Summary      string          `json:"summary"`
	OutputSchema json.RawMessage `json:"output_schema"`

	schema *jsonschema.Schema
}

// ValidateOutput checks a rendered finale payload against the path's output
// schema. v is anything encoding/json can marshal.
func (p FinalPath) ValidateOutput(v any) error {
	if p.schema == nil {
		return fmt.Errorf("final path %s: no output schema", p.ID)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := p.schema.Validate(doc); err != nil {
		return fmt.Errorf("final path %s: %s", p.ID, schemaReason(err))
	}
	return nil
}

type FinalPathCatalog struct {
	paths  []FinalPath
	byID   map[string]int
	Digest string
}

func (c *FinalPathCatalog) Get(id string) (FinalPath, bool) {
	i, ok := c.byID[id]
	if !ok {
		return FinalPath{}, false
	}
	return c.paths[i], true
}

// IDs returns path ids in catalog order.
func (c *FinalPathCatalog) IDs() []string {
	out := make([]string, len(c.paths))
	for i, p := range c.paths {
		out[i] = p.ID
	}
	return out
}

func (c *FinalPathCatalog) Len() int { return len(c.paths) }

func LoadFinalPaths(path string) (*FinalPathCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFinalPaths(raw)
}

func ParseFinalPaths(raw []byte) (*FinalPathCatalog, error) {
	if err := validateDoc("final_paths", finalPathsSchema, raw); err != nil {
		return nil, err
	}
	var paths []FinalPath
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, simerr.Invalid("final_paths", "%v", err)
	}
	c := &FinalPathCatalog{
		paths:  make([]FinalPath, 0, len(paths)),
		byID:   make(map[string]int, len(paths)),
		Digest: sha256Hex(raw),
	}
	for i, p := range paths {
		if _, dup := c.byID[p.ID]; dup {
			return nil, simerr.Invalid(fmt.Sprintf("final_paths[%d].id", i), "duplicate %q", p.ID)
		}
		url := "final_paths/" + p.ID + ".output.schema.json"
		s, err := jsonschema.CompileString(url, string(p.OutputSchema))
		if err != nil {
			return nil, simerr.Invalid(fmt.Sprintf("final_paths[%d].output_schema", i), "%v", err)
		}
		p.schema = s
		c.byID[p.ID] = len(c.paths)
		c.paths = append(c.paths, p)
	}
	return c, nil
}

// DefaultFinalPaths returns the built-in catalog.
func DefaultFinalPaths() (*FinalPathCatalog, error) {
	return ParseFinalPaths(defaultFinalPaths)
}
