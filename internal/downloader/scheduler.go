package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rizkirmdhn/memzip/internal/archive"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the size of a single body read
const DefaultChunkSize = 32 * 1024

var (
	// ErrCancelled is returned when the run was stopped through its context
	ErrCancelled = errors.New("stopped by user")
	// ErrInvalidConcurrency is returned for a concurrency outside the supported range
	ErrInvalidConcurrency = errors.New("invalid concurrency")
)

// Options tunes a Scheduler; zero values use the defaults
type Options struct {
	Concurrency      int
	ChunkSize        int
	EntryBufferLimit int
}

// OptionsFromConfig returns the scheduler options of the downloader config
func OptionsFromConfig(cfg *config.DownloaderConfig) Options {
	return Options{
		Concurrency:      cfg.Concurrency,
		ChunkSize:        cfg.ChunkSize,
		EntryBufferLimit: cfg.EntryBufferLimit,
	}
}

// Result is the outcome of a run
type Result struct {
	Status   models.JobStatus
	Progress models.ProgressSnapshot
	States   []models.TransferState
	Written  []string
}

// Scheduler fetches records with bounded concurrency and streams them into one archive
type Scheduler struct {
	fetcher  Fetcher
	reporter Reporter
	opts     Options
	log      *logger.ComponentLogger
}

// NewScheduler creates a new Scheduler. A nil reporter discards progress.
func NewScheduler(fetcher Fetcher, reporter Reporter, opts Options, log *logrus.Logger) (*Scheduler, error) {
	if opts.Concurrency == 0 {
		opts.Concurrency = config.DefaultConcurrency
	}
	if err := config.ValidateConcurrency(opts.Concurrency); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConcurrency, err)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.EntryBufferLimit <= 0 {
		opts.EntryBufferLimit = archive.DefaultBufferLimit
	}
	if reporter == nil {
		reporter = nopReporter{}
	}

	return &Scheduler{
		fetcher:  fetcher,
		reporter: reporter,
		opts:     opts,
		log:      logger.NewComponentLogger(log, "scheduler"),
	}, nil
}

// Run transfers every record into an archive written to sink.
//
// Failed transfers are recorded in the progress errors and never stop the run.
// A cancellation that leaves any record unfinished aborts the sink and returns
// ErrCancelled; one arriving after every record was handled does not. A sink or encoding
// failure aborts the sink and returns an error wrapping archive.ErrFailed.
// Otherwise the archive is finalized and the sink closed.
func (s *Scheduler) Run(ctx context.Context, records []models.Record, sink archive.Sink) (*Result, error) {
	w := archive.NewWriter(sink, s.opts.EntryBufferLimit)
	st := newRunState(records, s.reporter)

	s.log.WithFields(logrus.Fields{
		"records":     len(records),
		"concurrency": s.opts.Concurrency,
	}).Info("Starting archive run")

	st.report()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i := range records {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			return s.transfer(gctx, w, st, i)
		})
	}

	err := g.Wait()
	st.skipPending()

	result := &Result{Written: w.Written()}

	switch {
	case err != nil:
		w.Abort(err)
		result.Status = models.JobFailed
		s.log.WithError(err).Error("Archive run failed")

	case ctx.Err() != nil && st.interrupted():
		if abortErr := w.Abort(ErrCancelled); abortErr != nil {
			s.log.WithError(abortErr).Warn("Failed to abort archive sink")
		}
		result.Status = models.JobCancelled
		err = ErrCancelled
		s.log.Info("Archive run stopped by user")

	default:
		if err = w.Close(); err != nil {
			result.Status = models.JobFailed
			s.log.WithError(err).Error("Failed to finalize archive")
		} else {
			result.Status = models.JobCompleted
		}
	}

	result.Progress, result.States = st.final()

	s.log.WithFields(logrus.Fields{
		"status":    result.Status,
		"processed": result.Progress.Processed,
		"failed":    result.Progress.Failed(),
		"written":   len(result.Written),
	}).Info("Archive run finished")

	return result, err
}

// transfer moves one record into the archive. Only archive failures are returned.
func (s *Scheduler) transfer(ctx context.Context, w *archive.Writer, st *runState, i int) error {
	rec := st.records[i]

	if ctx.Err() != nil {
		st.skip(i)
		return nil
	}

	st.begin(i)

	body, err := s.fetcher.Fetch(ctx, rec.SourceURL)
	if err != nil {
		s.failed(ctx, st, i, err)
		return nil
	}
	defer body.Close()

	entry, err := w.Begin(rec.OutputName, rec.CapturedAt)
	if err != nil {
		if errors.Is(err, archive.ErrFailed) {
			st.skip(i)
			return err
		}
		s.failed(ctx, st, i, err)
		return nil
	}

	st.set(i, models.TransferStreaming)

	buf := make([]byte, s.opts.ChunkSize)
	for {
		if ctx.Err() != nil {
			entry.Abort()
			st.skip(i)
			return nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if err := entry.Write(ctx, buf[:n]); err != nil {
				entry.Abort()
				if errors.Is(err, archive.ErrFailed) {
					st.skip(i)
					return err
				}
				s.failed(ctx, st, i, err)
				return nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			entry.Abort()
			s.failed(ctx, st, i, readErr)
			return nil
		}
	}

	if err := entry.End(); err != nil {
		st.skip(i)
		return err
	}

	// the slot stays taken until the entry is on the sink
	if err := entry.Flushed(ctx); err != nil {
		st.skip(i)
		if errors.Is(err, archive.ErrFailed) {
			return err
		}
		return nil
	}

	st.complete(i)
	return nil
}

// failed records a transfer failure, unless it was caused by cancellation
func (s *Scheduler) failed(ctx context.Context, st *runState, i int, err error) {
	if ctx.Err() != nil {
		st.skip(i)
		return
	}

	name := st.records[i].OutputName
	s.log.WithFields(logrus.Fields{
		"record": name,
		"error":  err,
	}).Warn("Transfer failed")

	st.fail(i, fmt.Sprintf("%s: %s", name, err))
}

// runState is the progress of one run, guarded by a single mutex
type runState struct {
	mu        sync.Mutex
	records   []models.Record
	states    []models.TransferState
	processed int
	errors    []string
	label     string
	reporter  Reporter
	// set once a record was left unfinished by cancellation
	cancelled bool
}

func newRunState(records []models.Record, reporter Reporter) *runState {
	states := make([]models.TransferState, len(records))
	for i := range states {
		states[i] = models.TransferPending
	}

	return &runState{
		records:  records,
		states:   states,
		reporter: reporter,
	}
}

// snapshotLocked must be called with mu held
func (st *runState) snapshotLocked() models.ProgressSnapshot {
	return models.ProgressSnapshot{
		Total:        len(st.records),
		Processed:    st.processed,
		CurrentLabel: st.label,
		Errors:       append([]string(nil), st.errors...),
	}
}

func (st *runState) report() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reporter.Report(st.snapshotLocked())
}

func (st *runState) begin(i int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[i] = models.TransferFetching
	st.label = st.records[i].OutputName
	st.reporter.Report(st.snapshotLocked())
}

func (st *runState) set(i int, state models.TransferState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[i] = state
}

func (st *runState) complete(i int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[i] = models.TransferCompleted
	st.processed++
	st.label = st.records[i].OutputName
	st.reporter.Report(st.snapshotLocked())
}

func (st *runState) fail(i int, msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[i] = models.TransferFailed
	st.processed++
	st.errors = append(st.errors, msg)
	st.label = st.records[i].OutputName
	st.reporter.Report(st.snapshotLocked())
}

// skip marks a record left unfinished by cancellation; it does not count as processed
func (st *runState) skip(i int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.states[i] = models.TransferSkipped
	st.cancelled = true
}

func (st *runState) skipPending() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, state := range st.states {
		if state == models.TransferPending {
			st.states[i] = models.TransferSkipped
			st.cancelled = true
		}
	}
}

// interrupted reports whether cancellation left any record unfinished
func (st *runState) interrupted() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

func (st *runState) final() (models.ProgressSnapshot, []models.TransferState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked(), append([]models.TransferState(nil), st.states...)
}
