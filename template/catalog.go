package template

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soundrise/notify/notification"
)

// catalogEntry is the YAML shape of a template; priorities and channels are
// spelled out as names.
type catalogEntry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Category string   `yaml:"category"`
	Priority string   `yaml:"priority"`
	Channels []string `yaml:"channels"`
	Title    string   `yaml:"title"`
	Message  string   `yaml:"message"`
	Summary  string   `yaml:"summary"`
}

type catalog struct {
	Templates []catalogEntry `yaml:"templates"`
}

// LoadCatalog reads templates from a YAML file. Every entry is validated;
// one malformed entry fails the whole load so a bad deploy is caught at
// startup rather than at send time.
func LoadCatalog(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML template catalog.
func ParseCatalog(data []byte) ([]Template, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	templates := make([]Template, 0, len(c.Templates))
	for _, e := range c.Templates {
		t := Template{
			ID:       e.ID,
			Name:     e.Name,
			Type:     e.Type,
			Category: notification.Category(e.Category),
			Priority: notification.ParsePriority(e.Priority),
			Title:    e.Title,
			Message:  e.Message,
			Summary:  e.Summary,
		}
		for _, ch := range e.Channels {
			t.Channels = append(t.Channels, notification.Channel(ch))
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %q: %w", e.Name, err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// Seed loads a catalog file into storage. Existing templates with the same ID
// are replaced.
func Seed(ctx context.Context, storage Storage, path string) error {
	templates, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	for _, t := range templates {
		if err := storage.Create(ctx, t); err != nil {
			return fmt.Errorf("failed to seed template %q: %w", t.Name, err)
		}
	}
	return nil
}
