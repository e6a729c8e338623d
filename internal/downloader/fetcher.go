package downloader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// Fetcher opens the body of a remote resource
type Fetcher interface {
	// Fetch returns the response body once a successful status was received
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError is returned for responses outside the 2xx range
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch: %s", e.Status)
}

// HTTPFetcher fetches signed URLs with a resty client
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher configured from the downloader config
func NewHTTPFetcher(cfg *config.DownloaderConfig, log *logrus.Logger) *HTTPFetcher {
	client := resty.New().
		SetLogger(log).
		SetRetryCount(0)

	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(time.Duration(cfg.RequestTimeout) * time.Second)
	}

	return &HTTPFetcher{client: client}
}

// Fetch issues a GET request and hands over the unread body
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	if !resp.IsSuccess() {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode(), Status: resp.Status()}
	}

	return resp.Body, nil
}

// Close releases the idle connections of the client
func (f *HTTPFetcher) Close() error {
	return f.client.Close()
}
