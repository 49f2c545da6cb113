package dimension

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Goal is one entry of the goal catalog. Nodes link goals by id; the
// catalog supplies display names and descriptions.
type Goal struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Catalog is the set of known goals, loaded from goals.yaml.
type Catalog struct {
	Goals []Goal `yaml:"goals"`
}

// LoadCatalog reads a goal catalog. A missing file yields an empty
// catalog, not an error, so a fresh workspace works without setup.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("failed to read goal catalog %s: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse goal catalog %s: %w", path, err)
	}
	seen := make(map[string]bool, len(cat.Goals))
	for _, g := range cat.Goals {
		if g.ID == "" {
			return nil, fmt.Errorf("goal catalog %s: goal id is required", path)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("goal catalog %s: duplicate goal id %q", path, g.ID)
		}
		seen[g.ID] = true
	}
	return &cat, nil
}

// Lookup returns the goal with the given id, if present.
func (c *Catalog) Lookup(id string) (Goal, bool) {
	for _, g := range c.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}
