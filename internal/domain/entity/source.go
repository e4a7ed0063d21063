package entity

import (
	"fmt"
	"regexp"
)

// Source kinds understood by the collector.
const (
	SourceKindTable  = "table"
	SourceKindStatic = "static"
	SourceKindFeed   = "feed"
)

// Source describes one place deprecation notices are collected from.
// Table sources are scraped with CSS selectors; static sources carry their
// records inline and are used for providers without a machine-readable page.
// Feed sources read an RSS or Atom changelog and match each entry's text
// against regular expressions.
type Source struct {
	Name      string          `yaml:"name" json:"name"`
	Provider  string          `yaml:"provider" json:"provider"`
	URL       string          `yaml:"url" json:"url"`
	Kind      string          `yaml:"kind" json:"kind"`
	Enabled   *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Selectors *TableSelectors `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	Records   []RawRecord     `yaml:"records,omitempty" json:"records,omitempty"`
	Feed      *FeedPatterns   `yaml:"feed,omitempty" json:"feed,omitempty"`
}

// FeedPatterns holds the expressions matched against a feed entry's title
// and body. Each expression must have exactly one capture group; entries
// whose text does not match Model are not deprecation notices and are
// skipped.
type FeedPatterns struct {
	Model          string `yaml:"model" json:"model"`
	RetirementDate string `yaml:"retirement_date" json:"retirement_date"`
	// DeprecationDate falls back to the entry's publication date.
	DeprecationDate string `yaml:"deprecation_date,omitempty" json:"deprecation_date,omitempty"`
	Replacement     string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
}

// TableSelectors holds the CSS selectors used to pull one record per row.
// Column selectors are evaluated relative to the row element.
type TableSelectors struct {
	Row             string `yaml:"row" json:"row"`
	Model           string `yaml:"model" json:"model"`
	DeprecationDate string `yaml:"deprecation_date" json:"deprecation_date"`
	RetirementDate  string `yaml:"retirement_date" json:"retirement_date"`
	Replacement     string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Notes           string `yaml:"notes,omitempty" json:"notes,omitempty"`
	// Link is an optional selector for an anchor whose href becomes the
	// record's source URL; the page URL is used when it is empty.
	Link string `yaml:"link,omitempty" json:"link,omitempty"`
}

// IsEnabled reports whether the source should be collected. Sources are
// enabled unless explicitly switched off.
func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate validates the Source fields and fills in defaults.
func (s *Source) Validate() error {
	if err := ValidateRequired("name", s.Name); err != nil {
		return err
	}
	if s.Provider == "" {
		s.Provider = s.Name
	}
	if s.Kind == "" {
		s.Kind = SourceKindTable
	}

	switch s.Kind {
	case SourceKindTable:
		if err := ValidateURL("url", s.URL); err != nil {
			return err
		}
		if s.Selectors == nil {
			return &ValidationError{Field: "selectors", Message: "table sources need selectors"}
		}
		return s.Selectors.Validate()
	case SourceKindStatic:
		if len(s.Records) == 0 {
			return &ValidationError{Field: "records", Message: "static sources need at least one record"}
		}
		return nil
	case SourceKindFeed:
		if err := ValidateURL("url", s.URL); err != nil {
			return err
		}
		if s.Feed == nil {
			return &ValidationError{Field: "feed", Message: "feed sources need patterns"}
		}
		return s.Feed.Validate()
	default:
		return &ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown source kind %q", s.Kind),
		}
	}
}

// Validate checks that every mandatory selector is present.
func (t *TableSelectors) Validate() error {
	required := []struct{ field, value string }{
		{"selectors.row", t.Row},
		{"selectors.model", t.Model},
		{"selectors.deprecation_date", t.DeprecationDate},
		{"selectors.retirement_date", t.RetirementDate},
	}
	for _, r := range required {
		if err := ValidateRequired(r.field, r.value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the mandatory patterns are present and that every
// pattern compiles with a single capture group.
func (f *FeedPatterns) Validate() error {
	if err := ValidateRequired("feed.model", f.Model); err != nil {
		return err
	}
	if err := ValidateRequired("feed.retirement_date", f.RetirementDate); err != nil {
		return err
	}
	patterns := []struct{ field, value string }{
		{"feed.model", f.Model},
		{"feed.retirement_date", f.RetirementDate},
		{"feed.deprecation_date", f.DeprecationDate},
		{"feed.replacement", f.Replacement},
	}
	for _, p := range patterns {
		if p.value == "" {
			continue
		}
		re, err := regexp.Compile(p.value)
		if err != nil {
			return &ValidationError{Field: p.field, Message: err.Error()}
		}
		if re.NumSubexp() != 1 {
			return &ValidationError{Field: p.field, Message: "pattern needs exactly one capture group"}
		}
	}
	return nil
}
