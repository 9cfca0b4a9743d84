package narration

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog maps categories to their candidate lines.
type Catalog map[Category][]string

type catalogFile struct {
	Moments map[string][]string            `yaml:"moments"`
	Phases  map[string]map[string][]string `yaml:"phases"`
}

// ParseCatalog decodes a YAML catalog. Top-level "moments" hold cross-cutting
// categories; "phases" nests outcome lists under each phase key.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("narration: parse catalog: %w", err)
	}
	catalog := Catalog{}
	for key, lines := range raw.Moments {
		catalog.add(Category(normalizeKey(key)), lines)
	}
	for phase, outcomes := range raw.Phases {
		for outcome, lines := range outcomes {
			catalog.add(PhaseCategory(phase, outcome), lines)
		}
	}
	return catalog, nil
}

// LoadCatalog reads and parses a catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("narration: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	catalog, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return catalog
}

// Merge returns a copy of c where every category present in override
// replaces the base list.
func (c Catalog) Merge(override Catalog) Catalog {
	out := c.Clone()
	for category, lines := range override {
		if len(lines) == 0 {
			continue
		}
		out[category] = append([]string(nil), lines...)
	}
	return out
}

// Clone deep-copies the catalog.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for category, lines := range c {
		out[category] = append([]string(nil), lines...)
	}
	return out
}

func (c Catalog) add(category Category, lines []string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c[category] = append(c[category], line)
	}
}
