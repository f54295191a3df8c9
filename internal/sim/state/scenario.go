package state

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed data/scenario.json
var defaultScenario []byte

// LoadScenario reads an initial campaign state from a JSON file.
func LoadScenario(path string) (*GameState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := ParseScenario(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

func ParseScenario(raw []byte) (*GameState, error) {
	var g GameState
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	if err := g.Snapshot().Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// DefaultScenario is the built-in siege opening.
func DefaultScenario() *GameState {
	g, err := ParseScenario(defaultScenario)
	if err != nil {
		panic(fmt.Sprintf("state: embedded scenario: %v", err))
	}
	return g
}
