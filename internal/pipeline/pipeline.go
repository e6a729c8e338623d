package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rizkirmdhn/memzip/internal/archive"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
)

// ErrNoRecords is returned when an export has nothing to download
var ErrNoRecords = errors.New("no downloadable memories found")

// Pipeline runs an export document through extraction and the archive scheduler
type Pipeline struct {
	extractor *extractor.Extractor
	fetcher   downloader.Fetcher
	opts      downloader.Options
	log       *logrus.Logger
}

// New creates a new Pipeline
func New(ext *extractor.Extractor, fetcher downloader.Fetcher, opts downloader.Options, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		extractor: ext,
		fetcher:   fetcher,
		opts:      opts,
		log:       log,
	}
}

// Extract returns the deduplicated records of an export
func (p *Pipeline) Extract(ctx context.Context, r io.Reader) ([]models.Record, error) {
	return p.extractor.Extract(ctx, r)
}

// ExtractFile returns the deduplicated records of the export at path
func (p *Pipeline) ExtractFile(ctx context.Context, path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	return p.Extract(ctx, f)
}

// Archive downloads records into sink. The sink is aborted when there is nothing to download.
func (p *Pipeline) Archive(ctx context.Context, records []models.Record, sink archive.Sink, reporter downloader.Reporter) (*downloader.Result, error) {
	if len(records) == 0 {
		sink.Abort(ErrNoRecords)
		return nil, ErrNoRecords
	}

	scheduler, err := downloader.NewScheduler(p.fetcher, reporter, p.opts, p.log)
	if err != nil {
		sink.Abort(err)
		return nil, err
	}

	return scheduler.Run(ctx, records, sink)
}

// ArchiveFile extracts the export at in and writes its archive to out.
// Nothing is created at out when the export has no records.
func (p *Pipeline) ArchiveFile(ctx context.Context, in, out string, reporter downloader.Reporter) (*downloader.Result, error) {
	records, err := p.ExtractFile(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	sink, err := archive.NewFileSink(out)
	if err != nil {
		return nil, err
	}

	return p.Archive(ctx, records, sink, reporter)
}
