package extractor

import (
	"strings"
	"time"

	"github.com/rizkirmdhn/memzip/pkg/models"
)

const (
	namePrefix = "Memory_"
	nameLayout = "2006-01-02_15-04-05"
)

// timestampLayouts are tried in order; layouts without a zone are read in the caller's location
var timestampLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var unsafeNameChars = strings.NewReplacer("/", "-", "\\", "-")

// ParseTimestamp parses an export timestamp, reporting false when no layout matches
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OutputName derives the archive file name of a record from its timestamp and kind
func OutputName(timestamp string, kind models.MediaKind, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	base := unsafeNameChars.Replace(timestamp)
	if t, ok := ParseTimestamp(timestamp, loc); ok {
		base = t.In(loc).Format(nameLayout)
	}

	return namePrefix + base + "." + kind.Extension()
}
