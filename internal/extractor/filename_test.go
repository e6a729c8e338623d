package extractor

import (
	"fmt"
	"testing"
	"time"

	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
		kind      models.MediaKind
		want      string
	}{
		{"utc suffix", "2025-12-09 15:59:27 UTC", models.KindVideo, "Memory_2025-12-09_15-59-27.mp4"},
		{"numeric offset", "2025-12-09 15:59:27 +0200", models.KindImage, "Memory_2025-12-09_13-59-27.jpg"},
		{"rfc3339", "2025-12-09T15:59:27Z", models.KindImage, "Memory_2025-12-09_15-59-27.jpg"},
		{"no zone", "2025-12-09 15:59:27", models.KindImage, "Memory_2025-12-09_15-59-27.jpg"},
		{"date only", "2025-12-09", models.KindVideo, "Memory_2025-12-09_00-00-00.mp4"},
		{"unknown kind", "2025-12-09 15:59", models.KindUnknown, "Memory_2025-12-09_15-59-00.jpg"},
		{"unparseable", "yesterday", models.KindImage, "Memory_yesterday.jpg"},
		{"unparseable with separators", "09/12/2025", models.KindVideo, "Memory_09-12-2025.mp4"},
		{"empty", "", models.KindImage, "Memory_.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputName(tt.timestamp, tt.kind, time.UTC))
		})
	}
}

func TestOutputNameUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)

	// zoned instants are shifted into the location
	assert.Equal(t, "Memory_2025-12-09_22-59-27.mp4", OutputName("2025-12-09 15:59:27 UTC", models.KindVideo, loc))
	// zone-less timestamps are read in the location and keep their fields
	assert.Equal(t, "Memory_2025-12-09_15-59-27.mp4", OutputName("2025-12-09 15:59:27", models.KindVideo, loc))
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("  2025-01-01 10:00:00 UTC ", nil)
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)))

	_, ok = ParseTimestamp("not a date", time.UTC)
	assert.False(t, ok)
}

func TestDeduplicate(t *testing.T) {
	in := []models.Record{
		{OutputName: "a.jpg", SourceURL: "1"},
		{OutputName: "b.mp4", SourceURL: "2"},
		{OutputName: "a.jpg", SourceURL: "3"},
		{OutputName: "a.jpg", SourceURL: "4"},
		{OutputName: "b.mp4", SourceURL: "5"},
	}

	out := Deduplicate(in)
	names := make([]string, len(out))
	for i, r := range out {
		names[i] = r.OutputName
	}
	assert.Equal(t, []string{"a.jpg", "b.mp4", "a_1.jpg", "a_2.jpg", "b_1.mp4"}, names)
	assert.Equal(t, "4", out[3].SourceURL)
	// the input is left untouched
	assert.Equal(t, "a.jpg", in[2].OutputName)
}

func TestDeduplicateDistinctNamesUnchanged(t *testing.T) {
	in := []models.Record{{OutputName: "x.jpg"}, {OutputName: "y.jpg"}, {OutputName: "z.mp4"}}
	assert.Equal(t, in, Deduplicate(in))
}

func TestDeduplicateAvoidsRawCollisions(t *testing.T) {
	out := Deduplicate([]models.Record{
		{OutputName: "a_1.jpg"},
		{OutputName: "a.jpg"},
		{OutputName: "a.jpg"},
		{OutputName: "a_1.jpg"},
	})

	seen := map[string]bool{}
	for _, r := range out {
		assert.False(t, seen[r.OutputName], "duplicate %s", r.OutputName)
		seen[r.OutputName] = true
	}
	assert.Equal(t, "a_1.jpg", out[0].OutputName)
	assert.Equal(t, "a.jpg", out[1].OutputName)
	assert.Equal(t, "a_2.jpg", out[2].OutputName)
	assert.Equal(t, "a_1_1.jpg", out[3].OutputName)
}

func TestDeduplicateManyCopies(t *testing.T) {
	in := make([]models.Record, 12)
	for i := range in {
		in[i].OutputName = "Memory_2025-01-01_10-00-00.jpg"
	}
	out := Deduplicate(in)
	assert.Equal(t, "Memory_2025-01-01_10-00-00.jpg", out[0].OutputName)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, fmt.Sprintf("Memory_2025-01-01_10-00-00_%d.jpg", i), out[i].OutputName)
	}
}

func TestDeduplicateRenamesRawNameMatchingGenerated(t *testing.T) {
	out := Deduplicate([]models.Record{
		{OutputName: "X.jpg"},
		{OutputName: "X.jpg"},
		{OutputName: "X_1.jpg"},
	})

	assert.Equal(t, "X.jpg", out[0].OutputName)
	assert.Equal(t, "X_1.jpg", out[1].OutputName)
	assert.Equal(t, "X_1_1.jpg", out[2].OutputName)
}
