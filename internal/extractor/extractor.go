package extractor

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultActionFunction is the function invoked by the download links of an export
	DefaultActionFunction = "downloadMemories"

	minCells    = 4
	timestampAt = 0
	kindAt      = 1
	actionAt    = 3
)

// actionAttrs are searched in order on every anchor of the action cell
var actionAttrs = []string{"onclick", "href"}

// Options tunes how rows become records
type Options struct {
	// ActionFunction is the name of the function whose first quoted argument is the media URL
	ActionFunction string
	// Location is used to read zone-less timestamps and to format file names
	Location *time.Location
}

// Extractor turns an export document into deduplicated download records
type Extractor struct {
	reader Reader
	action *regexp.Regexp
	loc    *time.Location
	log    *logger.ComponentLogger
}

// New creates a new Extractor
func New(reader Reader, opts Options, log *logrus.Logger) *Extractor {
	if opts.ActionFunction == "" {
		opts.ActionFunction = DefaultActionFunction
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Extractor{
		reader: reader,
		action: actionPattern(opts.ActionFunction),
		loc:    opts.Location,
		log:    logger.NewComponentLogger(log, "extractor"),
	}
}

// NewFromConfig creates an Extractor with the reader and options named by the configuration
func NewFromConfig(cfg *config.ExtractorConfig, log *logrus.Logger) (*Extractor, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid extractor time zone %q: %w", cfg.TimeZone, err)
	}

	var reader Reader
	switch cfg.Reader {
	case config.ReaderHTML, "":
		reader = NewHTMLReader()
	case config.ReaderChrome:
		reader = NewChromeReader(cfg.UserAgent, log)
	default:
		return nil, fmt.Errorf("unknown extractor reader %q", cfg.Reader)
	}

	return New(reader, Options{ActionFunction: cfg.ActionFunction, Location: loc}, log), nil
}

// actionPattern matches name('URL' or name("URL" and captures the URL
func actionPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\(\s*['"]([^'"]+)['"]`)
}

// Extract reads the document and returns its records in document order with unique output names
func (e *Extractor) Extract(ctx context.Context, r io.Reader) ([]models.Record, error) {
	rows, err := e.reader.ReadRows(ctx, r)
	if err != nil {
		return nil, err
	}

	var (
		records []models.Record
		skipped int
	)
	for _, row := range rows {
		rec, ok := e.recordOf(row)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	e.log.WithFields(logrus.Fields{
		"rows":    len(rows),
		"records": len(records),
		"skipped": skipped,
	}).Debug("Export document extracted")

	return Deduplicate(records), nil
}

// recordOf maps one row to a record, reporting false for rows that carry no download
func (e *Extractor) recordOf(row Row) (models.Record, bool) {
	if len(row.Cells) < minCells {
		return models.Record{}, false
	}

	sourceURL, ok := e.sourceURL(row.Cells[actionAt])
	if !ok {
		return models.Record{}, false
	}

	timestamp := row.Cells[timestampAt].Text
	kind := models.ParseMediaKind(row.Cells[kindAt].Text)

	rec := models.Record{
		Timestamp:  timestamp,
		Kind:       kind,
		SourceURL:  sourceURL,
		OutputName: OutputName(timestamp, kind, e.loc),
	}
	if t, ok := ParseTimestamp(timestamp, e.loc); ok {
		rec.CapturedAt = t
	}

	return rec, true
}

// sourceURL returns the first quoted argument of the first action reference in the cell
func (e *Extractor) sourceURL(cell Cell) (string, bool) {
	for _, anchor := range cell.Anchors {
		for _, attr := range actionAttrs {
			if m := e.action.FindStringSubmatch(anchor[attr]); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}
