package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLReader reads rows with an HTML5 tokenizer, without running any script
type HTMLReader struct{}

// NewHTMLReader creates a new HTMLReader
func NewHTMLReader() *HTMLReader {
	return &HTMLReader{}
}

// ReadRows parses the document and collects the td cells of every tr
func (h *HTMLReader) ReadRows(ctx context.Context, r io.Reader) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	var rows []Row
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if ctx.Err() != nil {
			return false
		}

		var row Row
		tr.ChildrenFiltered("td").Each(func(_ int, td *goquery.Selection) {
			cell := Cell{Text: strings.TrimSpace(td.Text())}
			td.Find("a").Each(func(_ int, a *goquery.Selection) {
				anchor := make(Anchor)
				for _, node := range a.Nodes {
					for _, attr := range node.Attr {
						anchor[strings.ToLower(attr.Key)] = attr.Val
					}
				}
				cell.Anchors = append(cell.Anchors, anchor)
			})
			row.Cells = append(row.Cells, cell)
		})
		rows = append(rows, row)
		return true
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
