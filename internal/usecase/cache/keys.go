package cache

import (
	"strings"
	"time"
)

// Key prefixes shared by every writer of the cache.
const (
	PrefixDeprecations = "deprecations"
	PrefixSnapshots    = "snapshots"
	PrefixEnhancements = "enhancements"
	PrefixHTTP         = "http"
	PrefixRecords      = "records"
)

// dateLayout is the calendar-day layout used in keys.
const dateLayout = "2006-01-02"

// GenerateKey builds "prefix:identifier" and appends ":YYYY-MM-DD" when date
// is non-nil. The date is taken in UTC.
func GenerateKey(prefix, identifier string, date *time.Time) string {
	parts := []string{prefix, identifier}
	if date != nil {
		parts = append(parts, date.UTC().Format(dateLayout))
	}
	return strings.Join(parts, ":")
}

// RecordsKey is the key of a provider's dated record snapshot.
func RecordsKey(provider string, date time.Time) string {
	return GenerateKey(PrefixDeprecations, provider, &date)
}

// SnapshotKey is the key of the last good output of a collection task.
func SnapshotKey(task string) string {
	return GenerateKey(PrefixSnapshots, task, nil)
}
