package services

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/soaringjerry/Checkin/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed seed/system_templates.yaml
var defaultSeed []byte

type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	ID        string            `yaml:"id"`
	Title     string            `yaml:"title"`
	Questions []models.Question `yaml:"questions"`
}

// LoadSeedFile reads system templates from a YAML file. An empty path loads
// the built-in set.
func LoadSeedFile(path string) ([]models.Template, error) {
	data := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = b
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]models.Template, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	out := make([]models.Template, 0, len(f.Templates))
	for _, t := range f.Templates {
		out = append(out, models.Template{
			ID:        t.ID,
			Title:     t.Title,
			Questions: t.Questions,
			Owner:     models.SystemOwner(),
		})
	}
	return out, nil
}
