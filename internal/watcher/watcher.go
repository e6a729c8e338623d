package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/sirupsen/logrus"
)

const (
	defaultSettle = 500 * time.Millisecond
	maxWait       = 30 * time.Second
)

// ArchiveFunc archives the export at in into out
type ArchiveFunc func(ctx context.Context, in, out string) (*downloader.Result, error)

// Processed describes one export handled by the watcher
type Processed struct {
	Export  string
	Archive string
	Result  *downloader.Result
	Err     error
}

// Watcher archives every export dropped into a directory next to it
type Watcher struct {
	dir     string
	archive ArchiveFunc
	settle  time.Duration
	log     *logger.ComponentLogger

	// OnProcessed is called after each export, from the processing goroutine
	OnProcessed func(Processed)

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a new Watcher of dir
func New(dir string, archive ArchiveFunc, log *logrus.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		archive: archive,
		settle:  defaultSettle,
		log:     logger.NewComponentLogger(log, "watcher"),
		pending: make(map[string]struct{}),
	}
}

// SetSettle sets how long the size of a new export must stay unchanged before it is read
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// ArchivePath returns the archive written for an export
func ArchivePath(export string) string {
	return strings.TrimSuffix(export, filepath.Ext(export)) + ".zip"
}

// IsExport reports whether the file name looks like an export document
func IsExport(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// Run watches the directory until ctx is done. Exports are processed one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	if info, err := os.Stat(w.dir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("watch directory: %s is not a directory", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.log.WithField("dir", w.dir).Info("Watching for exports")

	queue := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range queue {
			w.process(ctx, path)
		}
	}()
	defer func() {
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsExport(event.Name) || !w.claim(event.Name) {
				continue
			}

			select {
			case queue <- event.Name:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("File watcher error")
		}
	}
}

// claim marks path as queued; a Write burst on a queued export is ignored
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[path]; ok {
		return false
	}
	w.pending[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
}

func (w *Watcher) process(ctx context.Context, path string) {
	defer w.release(path)

	out := ArchivePath(path)
	res := Processed{Export: path, Archive: out}

	defer func() {
		if w.OnProcessed != nil {
			w.OnProcessed(res)
		}
	}()

	if _, err := os.Stat(out); err == nil {
		w.log.WithField("archive", out).Debug("Archive already exists, skipping export")
		res.Err = os.ErrExist
		return
	}

	if err := w.waitForFileReady(ctx, path); err != nil {
		res.Err = err
		w.log.WithFields(logrus.Fields{"export": path, "error": err}).Warn("Export never settled")
		return
	}

	res.Result, res.Err = w.archive(ctx, path, out)
	if res.Err != nil {
		w.log.WithFields(logrus.Fields{"export": path, "error": res.Err}).Error("Failed to archive export")
		return
	}

	w.log.WithFields(logrus.Fields{
		"export":  path,
		"archive": out,
		"failed":  res.Result.Progress.Failed(),
	}).Info("Export archived")
}

// waitForFileReady waits until the size of the file stops changing
func (w *Watcher) waitForFileReady(ctx context.Context, path string) error {
	timeout := time.After(maxWait)
	lastSize := int64(-1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timed out waiting for the export to be written")
		case <-time.After(w.settle):
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			size := info.Size()
			if size == lastSize && size > 0 {
				return nil
			}
			lastSize = size
		}
	}
}
