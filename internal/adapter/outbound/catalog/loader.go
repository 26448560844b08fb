// Package catalog loads the declarative endpoint catalog that backs the
// registry. The YAML file is the single source of truth for endpoint shape
// and policy; nothing else in the system declares paths.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// File is the on-disk catalog shape.
type File struct {
	Version string `yaml:"version"`
	// InstrumentAliases map natural company names to tickers for the
	// offline mapper.
	InstrumentAliases map[string]string     `yaml:"instrument_aliases"`
	Endpoints         []domain.EndpointSpec `yaml:"endpoints"`
}

// Load reads and validates the catalog at path. Any malformed entry fails
// the whole load; the caller aborts startup on error.
func Load(path string) (*domain.Registry, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from raw catalog bytes.
func Parse(data []byte) (*domain.Registry, map[string]string, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if len(f.Endpoints) == 0 {
		return nil, nil, &domain.LoadError{Reason: "no endpoints declared"}
	}
	reg, err := domain.NewRegistry(f.Version, f.Endpoints)
	if err != nil {
		return nil, nil, err
	}
	aliases := f.InstrumentAliases
	if aliases == nil {
		aliases = map[string]string{}
	}
	return reg, aliases, nil
}
