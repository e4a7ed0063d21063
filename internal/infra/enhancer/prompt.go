package enhancer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/utils/text"
)

// Length limits applied to parsed responses.
const (
	summaryLimit     = 300
	replacementLimit = 120
	reasonLimit      = 300
)

// ErrMalformedResponse is returned when a response carries no usable JSON object.
var ErrMalformedResponse = errors.New("malformed enhancer response")

const promptTemplate = `You are annotating an AI model deprecation notice for developers.

Provider: %s
Model: %s
Deprecation date: %s
Retirement date: %s
Listed replacement: %s
Notes: %s

Reply with a single JSON object and nothing else:
{"summary": "<one or two sentences, under 300 characters, saying what happens and when>",
 "replacement": "<the model developers should move to, or empty>",
 "reason": "<why the model is being retired if the notes say so, or empty>"}`

// BuildPrompt renders the request for one record.
func BuildPrompt(r entity.Record) string {
	replacement := r.Replacement
	if replacement == "" {
		replacement = "none listed"
	}
	notes := r.Notes
	if notes == "" {
		notes = "none"
	}
	return fmt.Sprintf(promptTemplate,
		r.Provider,
		r.Model,
		r.DeprecationDate.Format("2006-01-02"),
		r.RetirementDate.Format("2006-01-02"),
		replacement,
		notes,
	)
}

type response struct {
	Summary     string `json:"summary"`
	Replacement string `json:"replacement"`
	Reason      string `json:"reason"`
}

// ParseResponse extracts the JSON object from a model reply. Models often
// wrap the object in prose or code fences, so everything outside the first
// '{' and the last '}' is ignored.
func ParseResponse(raw string) (entity.Enhancement, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return entity.Enhancement{}, fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}

	var resp response
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return entity.Enhancement{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	enh := entity.Enhancement{
		Summary:     text.Truncate(text.Squash(resp.Summary), summaryLimit),
		Replacement: text.Truncate(text.Squash(resp.Replacement), replacementLimit),
		Reason:      text.Truncate(text.Squash(resp.Reason), reasonLimit),
	}
	if enh.Summary == "" {
		return entity.Enhancement{}, fmt.Errorf("%w: empty summary", ErrMalformedResponse)
	}
	return enh, nil
}
