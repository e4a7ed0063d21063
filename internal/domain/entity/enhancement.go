package entity

import "time"

// Enhancement is reader-facing text generated for one version of a record.
// It is keyed by the record's FullHash, so a changed record gets a new one
// and the record itself is never rewritten.
type Enhancement struct {
	Summary     string    `json:"summary"`
	Replacement string    `json:"replacement,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Generator   string    `json:"generator"`
	GeneratedAt time.Time `json:"generated_at"`
}

// IsEmpty reports whether the enhancement carries no text.
func (e Enhancement) IsEmpty() bool {
	return e.Summary == "" && e.Replacement == "" && e.Reason == ""
}
