package notifier

import (
	"strings"
	"time"

	"deprecations-feed/internal/domain/entity"
)

const noReplacement = "none announced"

// noticeBody is the descriptive text shared by every channel: the summary,
// then the enhancer's reason when there is one.
func noticeBody(n entity.Notice) string {
	parts := make([]string, 0, 2)
	if s := n.Summary(); s != "" {
		parts = append(parts, s)
	}
	if n.Enhancement != nil && n.Enhancement.Reason != "" {
		parts = append(parts, n.Enhancement.Reason)
	}
	return strings.Join(parts, "\n\n")
}

func noticeReplacement(n entity.Notice) string {
	if r := n.Replacement(); r != "" {
		return r
	}
	return noReplacement
}

func dateOnly(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
