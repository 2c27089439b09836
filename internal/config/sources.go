package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSourcesFile reads a YAML list of {source: {name, url}} entries.
func LoadSourcesFile(path string) ([]SourceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var entries []SourceEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	return entries, nil
}
