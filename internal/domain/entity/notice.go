package entity

import (
	"fmt"
	"time"
)

// Notice announces a record that was inserted or changed by a collection run.
// Enhancement is nil when no enhancer is configured or generation failed.
type Notice struct {
	RunID       string
	Record      Record
	Enhancement *Enhancement
}

// Title is the one-line headline shown by every channel.
func (n Notice) Title() string {
	return fmt.Sprintf("%s %s retires %s", n.Record.Provider, n.Record.Model, n.Record.RetirementDate.UTC().Format(time.DateOnly))
}

// Summary is the notice body: the generated summary when there is one,
// otherwise the record's own notes.
func (n Notice) Summary() string {
	if n.Enhancement != nil && n.Enhancement.Summary != "" {
		return n.Enhancement.Summary
	}
	return n.Record.Notes
}

// Replacement prefers the record's own replacement over a generated one.
func (n Notice) Replacement() string {
	if n.Record.Replacement != "" {
		return n.Record.Replacement
	}
	if n.Enhancement != nil {
		return n.Enhancement.Replacement
	}
	return ""
}

// DaysUntilRetirement counts whole days from now to the retirement date.
// It is negative once the model is retired.
func (n Notice) DaysUntilRetirement(now time.Time) int {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(n.Record.RetirementDate.Sub(today).Hours() / 24)
}
