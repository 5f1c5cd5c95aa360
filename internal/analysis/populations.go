package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed populations.yaml
var defaultPopulations []byte

// Populations maps country names to head counts. Lookups ignore case.
type Populations map[string]float64

// LoadPopulations reads the built-in table and, when path is set, merges the
// entries of that YAML file over it.
func LoadPopulations(path string) (Populations, error) {
	p := Populations{}
	if err := p.merge(defaultPopulations); err != nil {
		return nil, fmt.Errorf("built-in populations: %w", err)
	}
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read populations: %w", err)
	}
	if err := p.merge(b); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

func (p Populations) merge(b []byte) error {
	var raw map[string]float64
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	for name, n := range raw {
		if n <= 0 {
			return fmt.Errorf("population of %q must be positive", name)
		}
		p[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return nil
}

func (p Populations) Lookup(country string) (float64, bool) {
	n, ok := p[strings.ToLower(strings.TrimSpace(country))]
	return n, ok
}
