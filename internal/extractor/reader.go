package extractor

import (
	"context"
	"io"
)

// Reader locates the table rows of an export document
type Reader interface {
	// ReadRows returns every row of the document in document order
	ReadRows(ctx context.Context, r io.Reader) ([]Row, error)
}

// Row holds the direct data cells of one table row
type Row struct {
	Cells []Cell `json:"cells"`
}

// Cell is the text and anchor attributes of one data cell
type Cell struct {
	Text    string   `json:"text"`
	Anchors []Anchor `json:"anchors"`
}

// Anchor holds the attributes of one anchor element
type Anchor map[string]string

// Attr returns the value of the named attribute on the first anchor carrying it
func (c Cell) Attr(name string) (string, bool) {
	for _, a := range c.Anchors {
		if v, ok := a[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Attrs returns the values of the named attribute across all anchors of the cell
func (c Cell) Attrs(name string) []string {
	var out []string
	for _, a := range c.Anchors {
		if v, ok := a[name]; ok {
			out = append(out, v)
		}
	}
	return out
}
