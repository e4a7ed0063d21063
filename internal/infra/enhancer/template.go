package enhancer

import (
	"context"
	"fmt"
	"time"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// Template builds enhancements from the record fields alone. It needs no
// credentials and is deterministic, which makes it useful for local runs.
type Template struct {
	now func() time.Time
}

// NewTemplate creates a Template enhancer.
func NewTemplate(opts ...Option) *Template {
	o := buildOptions(opts)
	return &Template{now: o.now}
}

// Name implements enhance.Enhancer.
func (t *Template) Name() string { return "template" }

// Enhance implements enhance.Enhancer.
func (t *Template) Enhance(_ context.Context, r entity.Record) (entity.Enhancement, error) {
	summary := fmt.Sprintf("%s %s was deprecated on %s and retires on %s.",
		r.Provider, r.Model,
		r.DeprecationDate.Format("2006-01-02"),
		r.RetirementDate.Format("2006-01-02"))
	if r.Replacement != "" {
		summary += " Move to " + r.Replacement + "."
	}
	return entity.Enhancement{
		Summary:     text.Truncate(summary, summaryLimit),
		Replacement: r.Replacement,
		Reason:      text.Truncate(text.Squash(r.Notes), reasonLimit),
		Generator:   t.Name(),
		GeneratedAt: t.now().UTC(),
	}, nil
}
