package main

import (
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/internal/pipeline"
)

// pipelineFlags are the overrides shared by the commands that read exports
type pipelineFlags struct {
	reader      string
	localTime   bool
	concurrency int
}

func (f *pipelineFlags) apply(cfg *config.Config) error {
	if f.reader != "" {
		cfg.Extractor.Reader = f.reader
	}
	if f.localTime {
		cfg.Extractor.TimeZone = "Local"
	}
	if f.concurrency != 0 {
		if err := config.ValidateConcurrency(f.concurrency); err != nil {
			return err
		}
		cfg.Downloader.Concurrency = f.concurrency
	}
	return nil
}

// newExtractor builds the extractor named by the configuration after applying the flags
func newExtractor(flags *pipelineFlags) (*extractor.Extractor, error) {
	if err := flags.apply(cfg); err != nil {
		return nil, err
	}
	return extractor.NewFromConfig(&cfg.Extractor, log)
}

// newPipeline builds the whole pipeline; the returned fetcher must be closed by the caller
func newPipeline(flags *pipelineFlags) (*pipeline.Pipeline, *downloader.HTTPFetcher, error) {
	ext, err := newExtractor(flags)
	if err != nil {
		return nil, nil, err
	}

	fetcher := downloader.NewHTTPFetcher(&cfg.Downloader, log)
	return pipeline.New(ext, fetcher, downloader.OptionsFromConfig(&cfg.Downloader), log), fetcher, nil
}
