package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// hashSeparator keeps adjacent fields from running into each other
// ("ab"+"c" and "a"+"bc" hash differently).
const hashSeparator = "\x1f"

// RawRecord is what a collection task extracts from a source before validation.
// Dates are free-form strings and are parsed leniently by NewRecord.
type RawRecord struct {
	Provider        string `json:"provider" yaml:"provider"`
	Model           string `json:"model" yaml:"model"`
	DeprecationDate string `json:"deprecation_date" yaml:"deprecation_date"`
	RetirementDate  string `json:"retirement_date" yaml:"retirement_date"`
	SourceURL       string `json:"source_url" yaml:"source_url"`
	Replacement     string `json:"replacement,omitempty" yaml:"replacement"`
	Notes           string `json:"notes,omitempty" yaml:"notes"`
}

// Record is a validated deprecation notice.
// Records are values: once stored they are replaced, never mutated.
type Record struct {
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	DeprecationDate time.Time `json:"deprecation_date"`
	RetirementDate  time.Time `json:"retirement_date"`
	SourceURL       string    `json:"source_url"`
	Replacement     string    `json:"replacement,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// NewRecord converts a RawRecord into a validated Record stamped with now.
func NewRecord(raw RawRecord, now time.Time) (Record, error) {
	deprecation, err := ParseDate("deprecation_date", raw.DeprecationDate)
	if err != nil {
		return Record{}, err
	}
	retirement, err := ParseDate("retirement_date", raw.RetirementDate)
	if err != nil {
		return Record{}, err
	}

	r := Record{
		Provider:        strings.TrimSpace(raw.Provider),
		Model:           strings.TrimSpace(raw.Model),
		DeprecationDate: deprecation,
		RetirementDate:  retirement,
		SourceURL:       strings.TrimSpace(raw.SourceURL),
		Replacement:     strings.TrimSpace(raw.Replacement),
		Notes:           strings.TrimSpace(raw.Notes),
		LastUpdated:     now.UTC(),
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ParseDate parses a date in any common layout and normalises it to UTC.
// Values without a zone are interpreted as UTC.
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &ValidationError{Field: field, Message: "date is required"}
	}
	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: "unrecognised date", Value: value}
	}
	return t.UTC(), nil
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if err := ValidateRequired("provider", r.Provider); err != nil {
		return err
	}
	if err := ValidateRequired("model", r.Model); err != nil {
		return err
	}
	if r.DeprecationDate.IsZero() {
		return &ValidationError{Field: "deprecation_date", Message: "date is required"}
	}
	if r.RetirementDate.IsZero() {
		return &ValidationError{Field: "retirement_date", Message: "date is required"}
	}
	if r.RetirementDate.Before(r.DeprecationDate) {
		return &ValidationError{
			Field:   "retirement_date",
			Message: "must not be earlier than deprecation_date",
		}
	}
	return ValidateURL("source_url", r.SourceURL)
}

// IdentityHash identifies the announcement across runs: provider, model and
// deprecation date. Mutable fields do not participate.
func (r Record) IdentityHash() string {
	return digest(r.Provider, r.Model, formatDate(r.DeprecationDate))
}

// FullHash covers every field except LastUpdated and changes whenever the
// record changes materially.
func (r Record) FullHash() string {
	return digest(
		r.Provider,
		r.Model,
		formatDate(r.DeprecationDate),
		formatDate(r.RetirementDate),
		r.SourceURL,
		r.Replacement,
		r.Notes,
	)
}

// SameIdentity reports whether both records describe the same announcement.
func (r Record) SameIdentity(other Record) bool {
	return r.IdentityHash() == other.IdentityHash()
}

// Equal reports whether both records are materially identical.
func (r Record) Equal(other Record) bool {
	return r.FullHash() == other.FullHash()
}

// WithLastUpdated returns a copy of r stamped with t.
func (r Record) WithLastUpdated(t time.Time) Record {
	r.LastUpdated = t.UTC()
	return r
}

// formatDate keeps full precision, so dates differing by any fraction of a
// second hash differently. The same instant in another zone hashes alike.
func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(sum[:])
}
