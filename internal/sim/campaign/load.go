package campaign

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/tuning"
)

// LoadConfig reads tuning.yaml, story_graph.json and final_paths.json from
// configDir. Missing files fall back to the built-in defaults; broken ones
// are errors. tuningPath overrides <configDir>/tuning.yaml when set.
func LoadConfig(configDir, tuningPath string) (Config, error) {
	var cfg Config

	if tuningPath == "" {
		tuningPath = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tuningPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		tune = tuning.Defaults()
	case err != nil:
		return cfg, fmt.Errorf("load tuning: %w", err)
	}
	cfg.Tuning = tune

	sg, err := catalogs.LoadStoryGraph(filepath.Join(configDir, "story_graph.json"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sg, err = catalogs.DefaultStoryGraph()
		if err != nil {
			return cfg, err
		}
	case err != nil:
		return cfg, fmt.Errorf("load story graph: %w", err)
	}
	cfg.StoryGraph = sg

	fp, err := catalogs.LoadFinalPaths(filepath.Join(configDir, "final_paths.json"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fp, err = catalogs.DefaultFinalPaths()
		if err != nil {
			return cfg, err
		}
	case err != nil:
		return cfg, fmt.Errorf("load final paths: %w", err)
	}
	cfg.FinalPaths = fp
	return cfg, nil
}
