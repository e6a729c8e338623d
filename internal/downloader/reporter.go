package downloader

import (
	"sync"

	"github.com/rizkirmdhn/memzip/pkg/models"
)

// Reporter receives progress snapshots. Report is called with the scheduler
// state locked, so implementations must return quickly.
type Reporter interface {
	Report(models.ProgressSnapshot)
}

// ReporterFunc adapts a function to a Reporter
type ReporterFunc func(models.ProgressSnapshot)

// Report calls f(p)
func (f ReporterFunc) Report(p models.ProgressSnapshot) {
	f(p)
}

type nopReporter struct{}

func (nopReporter) Report(models.ProgressSnapshot) {}

// AsyncReporter hands snapshots to a slower reporter on its own goroutine.
// Only the most recent undelivered snapshot is kept.
type AsyncReporter struct {
	next Reporter
	ch   chan models.ProgressSnapshot
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewAsyncReporter creates a new AsyncReporter delivering to next
func NewAsyncReporter(next Reporter) *AsyncReporter {
	a := &AsyncReporter{
		next: next,
		ch:   make(chan models.ProgressSnapshot, 1),
		done: make(chan struct{}),
	}

	go func() {
		defer close(a.done)
		for p := range a.ch {
			a.next.Report(p)
		}
	}()

	return a
}

// Report queues p, replacing a snapshot that was not delivered yet
func (a *AsyncReporter) Report(p models.ProgressSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	select {
	case a.ch <- p:
	default:
		select {
		case <-a.ch:
		default:
		}
		a.ch <- p
	}
}

// Close delivers the pending snapshot and stops the delivery goroutine
func (a *AsyncReporter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
}
