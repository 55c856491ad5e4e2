package proposal

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/aescanero/grantflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// analysisChannels may appear in a section's dependsOn.
var analysisChannels = []string{domain.ChannelResearch, domain.ChannelSolution, domain.ChannelConnections}

// SectionSpec declares a proposal section.
type SectionSpec struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	DependsOn []string `yaml:"dependsOn"`
	Guidance  string   `yaml:"guidance"`
	MinWords  int      `yaml:"minWords"`
}

// Catalog is the ordered list of sections drafted for a proposal.
type Catalog struct {
	Sections []SectionSpec `yaml:"sections"`

	layers [][]string
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Sections) == 0 {
		return nil, domain.NewValidationError("sections", "catalog declares no sections")
	}

	ids := make(map[string]bool, len(c.Sections))
	for _, s := range c.Sections {
		if s.ID == "" || s.Title == "" {
			return nil, domain.NewValidationError("sections", "every section needs an id and a title")
		}
		if ids[s.ID] || slices.Contains(analysisChannels, s.ID) {
			return nil, domain.NewValidationError("sections", fmt.Sprintf("duplicate or reserved section id %q", s.ID))
		}
		ids[s.ID] = true
	}
	for _, s := range c.Sections {
		for _, dep := range s.DependsOn {
			if !ids[dep] && !slices.Contains(analysisChannels, dep) {
				return nil, domain.NewValidationError("dependsOn", fmt.Sprintf("section %q depends on unknown %q", s.ID, dep))
			}
		}
	}

	layers, err := c.computeLayers()
	if err != nil {
		return nil, err
	}
	c.layers = layers
	return &c, nil
}

// Section looks up a section by id.
func (c *Catalog) Section(id string) (SectionSpec, bool) {
	for _, s := range c.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return SectionSpec{}, false
}

// IDs returns section ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		ids = append(ids, s.ID)
	}
	return ids
}

// Layers groups sections so that every section comes after the sections it
// depends on. Sections in one layer are independent of each other.
func (c *Catalog) Layers() [][]string {
	out := make([][]string, len(c.layers))
	for i, l := range c.layers {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// DependsOn returns the dependency declarations of every section, including
// the analysis channels that feed each other.
func (c *Catalog) DependsOn() map[string][]string {
	deps := map[string][]string{
		domain.ChannelConnections: {domain.ChannelResearch, domain.ChannelSolution},
	}
	for _, s := range c.Sections {
		deps[s.ID] = append([]string(nil), s.DependsOn...)
	}
	return deps
}

func (c *Catalog) computeLayers() ([][]string, error) {
	placed := make(map[string]bool)
	var layers [][]string
	for len(placed) < len(c.Sections) {
		var layer []string
		for _, s := range c.Sections {
			if placed[s.ID] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if slices.Contains(analysisChannels, dep) {
					continue
				}
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, s.ID)
			}
		}
		if len(layer) == 0 {
			return nil, domain.NewValidationError("dependsOn", "section dependencies form a cycle")
		}
		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
