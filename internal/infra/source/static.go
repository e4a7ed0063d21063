package source

import (
	"context"

	"deprecations-feed/internal/domain/entity"
)

// StaticSource serves the records listed inline in the catalogue.
type StaticSource struct {
	source entity.Source
}

// NewStaticSource creates a task for a static source.
func NewStaticSource(s entity.Source) *StaticSource {
	return &StaticSource{source: s}
}

// Name implements collect.Task.
func (s *StaticSource) Name() string { return s.source.Name }

// Produce implements collect.Task. Records inherit the source's provider
// and URL when they do not set their own.
func (s *StaticSource) Produce(ctx context.Context) ([]entity.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]entity.RawRecord, len(s.source.Records))
	for i, r := range s.source.Records {
		if r.Provider == "" {
			r.Provider = s.source.Provider
		}
		if r.SourceURL == "" {
			r.SourceURL = s.source.URL
		}
		out[i] = r
	}
	return out, nil
}
