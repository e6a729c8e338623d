package models

import (
	"strings"
	"time"
)

// MediaKind is the media type announced by an export row
type MediaKind string

const (
	KindVideo   MediaKind = "Video"
	KindImage   MediaKind = "Image"
	KindUnknown MediaKind = "Unknown"
)

// ParseMediaKind maps the text of a kind cell to a MediaKind, ignoring case
func ParseMediaKind(s string) MediaKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video":
		return KindVideo
	case "image":
		return KindImage
	default:
		return KindUnknown
	}
}

// Extension returns the file extension used for the kind
func (k MediaKind) Extension() string {
	if k == KindVideo {
		return "mp4"
	}
	return "jpg"
}

// Record represents one downloadable item of an export
type Record struct {
	Timestamp  string    `json:"timestamp"`
	Kind       MediaKind `json:"kind"`
	SourceURL  string    `json:"url"`
	OutputName string    `json:"filename"`
	CapturedAt time.Time `json:"capturedAt"`
}

// KindCounts returns the number of records per media kind
func KindCounts(records []Record) map[MediaKind]int {
	counts := make(map[MediaKind]int, 3)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}
