package ingest

import (
	"embed"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all scrape sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a single portal to scrape.
type SourceConfig struct {
	ID      string    `yaml:"id"`
	Name    string    `yaml:"name"`
	Enabled bool      `yaml:"enabled"`
	NEN     NENConfig `yaml:",inline"`
}

// LoadRegistry reads the source configuration. A non-empty path names a
// filesystem override and wins when the file exists; otherwise the embedded
// sources.yaml is used. Environment variables in the YAML
// (e.g. ${NEN_USER_AGENT}) are expanded before parsing.
func LoadRegistry(path string) (*Registry, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	}
	if path == "" || err != nil {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// BuildAdapters instantiates an adapter per enabled source.
func (r *Registry) BuildAdapters(logger *slog.Logger) ([]SourceAdapter, error) {
	var adapters []SourceAdapter
	for _, src := range r.Sources {
		if !src.Enabled {
			continue
		}
		switch src.ID {
		case "NEN":
			adapters = append(adapters, NewNENAdapter(src.NEN, logger))
		default:
			return nil, fmt.Errorf("unknown source id %q", src.ID)
		}
	}
	return adapters, nil
}
