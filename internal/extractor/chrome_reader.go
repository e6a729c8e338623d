package extractor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// rowsScript collects the direct td cells of every row together with the attributes of their anchors
const rowsScript = `[...document.querySelectorAll('tr')].map(tr => ({
	cells: [...tr.children].filter(c => c.tagName === 'TD').map(td => ({
		text: td.textContent.trim(),
		anchors: [...td.querySelectorAll('a')].map(a =>
			Object.fromEntries([...a.attributes].map(attr => [attr.name.toLowerCase(), attr.value])))
	}))
}))`

// ChromeReader loads the document in a headless browser and reads rows from the live DOM
type ChromeReader struct {
	userAgent string
	log       *logrus.Logger
}

// NewChromeReader creates a new ChromeReader
func NewChromeReader(userAgent string, log *logrus.Logger) *ChromeReader {
	return &ChromeReader{
		userAgent: userAgent,
		log:       log,
	}
}

// ReadRows stores the document in a temp file, opens it with scripts and network blocked, and evaluates the row query
func (c *ChromeReader) ReadRows(ctx context.Context, r io.Reader) ([]Row, error) {
	path, err := spool(r)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	allocCtx, allocCancel := c.createChromeContext(ctx)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(c.log.Printf))
	defer browserCancel()

	pageURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()

	var rows []Row
	err = chromedp.Run(browserCtx,
		network.Enable(),
		network.SetBlockedURLS([]string{"http://*", "https://*"}),
		emulation.SetScriptExecutionDisabled(true),
		chromedp.Navigate(pageURL),
		chromedp.Evaluate(rowsScript, &rows),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read document in browser: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"component": "chrome_reader",
		"rows":      len(rows),
	}).Debug("Rows read from browser")

	return rows, nil
}

// createChromeContext creates a new Chrome allocator context
func (c *ChromeReader) createChromeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if c.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.userAgent))
	}
	return chromedp.NewExecAllocator(ctx, opts...)
}

// spool copies the document to a temp file the browser can open
func spool(r io.Reader) (string, error) {
	f, err := os.CreateTemp("", "memzip-export-*.html")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return f.Name(), nil
}
