package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultBufferLimit is the number of bytes an entry may queue before its writer blocks
const DefaultBufferLimit = 4 * 1024 * 1024

var (
	// ErrFailed wraps every fatal sink or encoding error
	ErrFailed = errors.New("archive failed")
	// ErrClosed is returned once the archive was finalized or aborted
	ErrClosed = errors.New("archive closed")
	// ErrEntryClosed is returned when writing to an entry that already ended
	ErrEntryClosed = errors.New("archive entry closed")
	// ErrOpenEntries is returned when finalizing while entries are still open
	ErrOpenEntries = errors.New("archive has open entries")
	// ErrDuplicateEntry is returned when an entry name is used twice
	ErrDuplicateEntry = errors.New("duplicate archive entry")
)

// Sink receives the raw bytes of the archive
type Sink interface {
	io.Writer
	// Close is called once after the archive was finalized
	Close() error
	// Abort is called instead of Close when the archive will never be finalized
	Abort(reason error) error
}

// Writer streams entries into a zip archive on a sink, one entry at a time.
//
// Entries may be fed concurrently. An entry joins the admission queue with its
// first chunk; the head of the queue is the only entry whose bytes reach the
// sink, and the next one is admitted only after it ended or was aborted. The
// others buffer their chunks up to the buffer limit and then block. A feeder
// that waits on Flushed after End holds at most one limit of queued bytes, so
// N feeders keep the whole archive within N limits.
type Writer struct {
	sink  Sink
	zw    *zip.Writer
	limit int

	mu      sync.Mutex
	cond    *sync.Cond
	names   map[string]struct{}
	queue   []*Entry
	open    int
	written []string

	closing  bool
	aborting bool
	err      error
	done     chan struct{}
}

// Entry is one file of the archive
type Entry struct {
	w        *Writer
	name     string
	modified time.Time

	// guarded by w.mu
	chunks   [][]byte
	buffered int
	admitted bool
	opened   bool
	ended    bool
	aborted  bool
	flushed  bool
	fw       io.Writer
}

// NewWriter creates a Writer on sink; limit <= 0 uses DefaultBufferLimit
func NewWriter(sink Sink, limit int) *Writer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}

	w := &Writer{
		sink:  sink,
		zw:    zip.NewWriter(sink),
		limit: limit,
		names: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.run()

	return w
}

// Begin opens a new entry. A zero modified time is replaced by the current time.
func (w *Writer) Begin(name string, modified time.Time) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return nil, w.err
	}
	if w.closing || w.aborting {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, errors.New("archive entry name is empty")
	}
	if _, dup := w.names[name]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	if modified.IsZero() {
		modified = time.Now()
	}

	w.names[name] = struct{}{}
	w.open++

	return &Entry{w: w, name: name, modified: modified}, nil
}

// Close finalizes the archive and closes the sink. Every entry must be ended or aborted first.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return err
	}
	if w.closing || w.aborting {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.open > 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrOpenEntries, w.open)
	}
	w.closing = true
	w.cond.Broadcast()
	w.mu.Unlock()

	<-w.done

	w.mu.Lock()
	err, aborted := w.err, w.aborting
	w.mu.Unlock()

	if err != nil {
		return err
	}
	if aborted {
		return ErrClosed
	}

	if err := w.sink.Close(); err != nil {
		w.mu.Lock()
		w.err = fmt.Errorf("%w: %w", ErrFailed, err)
		err = w.err
		w.mu.Unlock()
		return err
	}
	return nil
}

// Abort stops the archive without finalizing it and aborts the sink
func (w *Writer) Abort(reason error) error {
	w.mu.Lock()
	if w.aborting {
		w.mu.Unlock()
		return nil
	}
	if w.err != nil {
		// the sink was already aborted by the pump
		w.mu.Unlock()
		<-w.done
		return nil
	}
	if w.closing {
		select {
		case <-w.done:
			w.mu.Unlock()
			return ErrClosed
		default:
		}
	}
	w.aborting = true
	w.cond.Broadcast()
	w.mu.Unlock()

	<-w.done

	return w.sink.Abort(reason)
}

// Err returns the fatal error of the archive, if any
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Written returns the names of the entries that reached the sink, in archive order
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.written...)
}

// Name returns the entry name
func (e *Entry) Name() string {
	return e.name
}

// Write queues a copy of p on the entry. It blocks while the entry holds more
// than the buffer limit, until the bytes drain, ctx is done, or the archive fails.
func (e *Entry) Write(ctx context.Context, p []byte) error {
	w := e.w

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	if w.aborting {
		return ErrClosed
	}
	if e.ended || e.aborted {
		return ErrEntryClosed
	}
	if len(p) == 0 {
		return nil
	}

	e.chunks = append(e.chunks, append([]byte(nil), p...))
	e.buffered += len(p)
	w.admit(e)
	w.cond.Broadcast()

	if e.buffered <= w.limit {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	for e.buffered > w.limit && w.err == nil && !w.aborting && !e.aborted && ctx.Err() == nil {
		w.cond.Wait()
	}

	switch {
	case w.err != nil:
		return w.err
	case w.aborting:
		return ErrClosed
	case e.aborted:
		return ErrEntryClosed
	}
	return ctx.Err()
}

// End marks the end of the entry data
func (e *Entry) End() error {
	w := e.w

	w.mu.Lock()
	defer w.mu.Unlock()

	if e.ended || e.aborted {
		return ErrEntryClosed
	}
	e.ended = true
	w.open--

	if w.err != nil {
		return w.err
	}

	w.admit(e)
	w.cond.Broadcast()
	return nil
}

// Flushed blocks until every byte of the ended entry reached the sink, ctx is
// done, or the archive fails.
func (e *Entry) Flushed(ctx context.Context) error {
	w := e.w

	w.mu.Lock()
	defer w.mu.Unlock()

	if !e.ended && !e.aborted {
		return errors.New("archive entry still open")
	}
	if e.aborted && !e.admitted {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	for !e.flushed && w.err == nil && !w.aborting && ctx.Err() == nil {
		w.cond.Wait()
	}

	switch {
	case e.flushed:
		return nil
	case w.err != nil:
		return w.err
	case w.aborting:
		return ErrClosed
	}
	return ctx.Err()
}

// Abort drops the queued data of the entry. An entry that never reached the
// sink is left out of the archive; one that did keeps the bytes already written.
func (e *Entry) Abort() {
	w := e.w

	w.mu.Lock()
	defer w.mu.Unlock()

	if e.ended || e.aborted {
		return
	}
	e.aborted = true
	w.open--

	for _, c := range e.chunks {
		e.buffered -= len(c)
	}
	e.chunks = nil
	w.cond.Broadcast()
}

// admit appends e to the admission queue once
func (w *Writer) admit(e *Entry) {
	if e.admitted {
		return
	}
	e.admitted = true
	w.queue = append(w.queue, e)
}

// fail records a fatal error and wakes every waiter
func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = fmt.Errorf("%w: %w", ErrFailed, err)
	}
	w.cond.Broadcast()
	return w.err
}

// run is the only goroutine touching the zip writer and the sink until Close or Abort
func (w *Writer) run() {
	defer close(w.done)

	if err := w.pump(); err != nil {
		w.sink.Abort(err)
	}
}

// pump drains the admission queue head first, releasing the lock around sink I/O
func (w *Writer) pump() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for len(w.queue) == 0 && !w.closing && !w.aborting {
			w.cond.Wait()
		}
		if w.aborting {
			return nil
		}

		if len(w.queue) == 0 {
			w.mu.Unlock()
			err := w.zw.Close()
			w.mu.Lock()
			if err != nil {
				return w.fail(err)
			}
			return nil
		}

		e := w.queue[0]

		if !e.opened {
			if e.aborted {
				w.queue = w.queue[1:]
				e.flushed = true
				w.cond.Broadcast()
				continue
			}

			header := &zip.FileHeader{
				Name:     e.name,
				Method:   zip.Store,
				Modified: e.modified,
			}
			w.mu.Unlock()
			fw, err := w.zw.CreateHeader(header)
			w.mu.Lock()
			if err != nil {
				return w.fail(err)
			}
			e.fw = fw
			e.opened = true
			w.written = append(w.written, e.name)
		}

		for len(e.chunks) == 0 && !e.ended && !e.aborted && !w.aborting {
			w.cond.Wait()
		}
		if w.aborting {
			return nil
		}

		if len(e.chunks) > 0 {
			batch := e.chunks
			e.chunks = nil

			w.mu.Unlock()
			size, err := writeChunks(e.fw, batch)
			w.mu.Lock()

			e.buffered -= size
			w.cond.Broadcast()
			if err != nil {
				return w.fail(err)
			}
			continue
		}

		// ended or aborted with nothing left to write
		w.queue = w.queue[1:]
		w.mu.Unlock()
		err := w.zw.Flush()
		w.mu.Lock()
		if err != nil {
			return w.fail(err)
		}
		e.flushed = true
		w.cond.Broadcast()
	}
}

// writeChunks writes every chunk and returns the total size of the batch
func writeChunks(dst io.Writer, chunks [][]byte) (int, error) {
	var (
		size int
		err  error
	)
	for _, c := range chunks {
		size += len(c)
		if err == nil {
			_, err = dst.Write(c)
		}
	}
	return size, err
}
