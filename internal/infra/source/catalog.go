package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/usecase/collect"
)

// Catalog is the YAML document listing every source.
type Catalog struct {
	Sources []entity.Source `yaml:"sources"`
}

// LoadCatalog reads and validates the catalogue at path.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read source catalogue: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalogue. Unknown fields and
// duplicate source names are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("parse source catalogue: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if err := s.Validate(); err != nil {
			return Catalog{}, fmt.Errorf("source %d (%q): %w", i+1, s.Name, err)
		}
		if seen[s.Name] {
			return Catalog{}, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return c, nil
}

// Enabled returns the sources that are switched on.
func (c Catalog) Enabled() []entity.Source {
	out := make([]entity.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// Tasks builds one collection task per enabled source.
func (c Catalog) Tasks(fetcher Fetcher) []collect.Task {
	enabled := c.Enabled()
	tasks := make([]collect.Task, 0, len(enabled))
	for _, s := range enabled {
		switch s.Kind {
		case entity.SourceKindStatic:
			tasks = append(tasks, NewStaticSource(s))
		case entity.SourceKindFeed:
			tasks = append(tasks, NewFeedSource(s, fetcher))
		default:
			tasks = append(tasks, NewTableSource(s, fetcher))
		}
	}
	return tasks
}
