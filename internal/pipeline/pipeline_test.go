package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const row = `<tr><td>%s</td><td>%s</td><td>-</td><td><a onclick="downloadMemories('%s')">Download</a></td></tr>`

func newTestPipeline(t *testing.T) (*Pipeline, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video":
			_, _ = w.Write([]byte("video-bytes"))
		case "/image":
			_, _ = w.Write([]byte("image-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	fetcher := downloader.NewHTTPFetcher(&config.DownloaderConfig{}, log)
	t.Cleanup(func() { fetcher.Close() })

	ext := extractor.New(extractor.NewHTMLReader(), extractor.Options{}, log)
	return New(ext, fetcher, downloader.Options{Concurrency: 2}, log), srv
}

func writeExport(t *testing.T, dir string, rows ...string) string {
	t.Helper()

	doc := "<html><body><table>"
	for _, r := range rows {
		doc += r
	}
	doc += "</table></body></html>"

	path := filepath.Join(dir, "memories_history.html")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestArchiveFile(t *testing.T) {
	p, srv := newTestPipeline(t)
	dir := t.TempDir()

	in := writeExport(t, dir,
		fmt.Sprintf(row, "2025-12-09 15:59:27 UTC", "Video", srv.URL+"/video"),
		fmt.Sprintf(row, "2025-12-10 10:00:00 UTC", "Image", srv.URL+"/image"),
		fmt.Sprintf(row, "2025-12-10 10:00:00 UTC", "Image", srv.URL+"/gone"),
	)
	out := filepath.Join(dir, "out", "memories.zip")

	res, err := p.ArchiveFile(context.Background(), in, out, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, res.Status)
	assert.Equal(t, 3, res.Progress.Processed)
	require.Len(t, res.Progress.Errors, 1)
	assert.Contains(t, res.Progress.Errors[0], "Memory_2025-12-10_10-00-00_1.jpg")

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = string(body)
	}
	assert.Equal(t, map[string]string{
		"Memory_2025-12-09_15-59-27.mp4": "video-bytes",
		"Memory_2025-12-10_10-00-00.jpg": "image-bytes",
	}, files)
}

func TestArchiveFile_NoRecords(t *testing.T) {
	p, _ := newTestPipeline(t)
	dir := t.TempDir()

	in := writeExport(t, dir, `<tr><th>Date</th><th>Type</th></tr>`)
	out := filepath.Join(dir, "memories.zip")

	_, err := p.ArchiveFile(context.Background(), in, out, nil)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".part")
}

func TestArchiveFile_Cancelled(t *testing.T) {
	p, srv := newTestPipeline(t)
	dir := t.TempDir()

	in := writeExport(t, dir, fmt.Sprintf(row, "2025-12-09 15:59:27 UTC", "Video", srv.URL+"/video"))
	out := filepath.Join(dir, "memories.zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.ArchiveFile(ctx, in, out, nil)
	assert.ErrorIs(t, err, downloader.ErrCancelled)
	assert.Equal(t, models.JobCancelled, res.Status)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".part")
}

func TestArchiveFile_MissingExport(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, err := p.ArchiveFile(context.Background(), filepath.Join(t.TempDir(), "missing.html"), "out.zip", nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
