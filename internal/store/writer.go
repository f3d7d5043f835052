package store

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/groutine"
	"github.com/srg/ringsync/internal/sample"
)

// ErrWriterClosed is returned by Enqueue after Close
var ErrWriterClosed = errors.New("store writer closed")

type writeJob struct {
	sample sample.BiometricSample
	done   func(error)
}

// Writer serializes saves on a single goroutine so callers on a latency
// sensitive path never block on storage. Saves complete in enqueue order and
// each completion is reported through its callback after Save has returned.
type Writer struct {
	store  Store
	logger *logrus.Logger

	mu      sync.Mutex
	pending []writeJob
	closed  bool
	wake    chan struct{}
	group   groutine.Group
}

// NewWriter starts the writer goroutine. Saves use ctx; cancel it only after Close.
func NewWriter(ctx context.Context, st Store, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	w := &Writer{
		store:  st,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	w.group.Go(ctx, "store-writer", w.run)
	return w
}

// Enqueue schedules s for saving. done (may be nil) receives the Save result
// on the writer goroutine.
func (w *Writer) Enqueue(s sample.BiometricSample, done func(error)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.pending = append(w.pending, writeJob{sample: s.Clone(), done: done})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of saves not yet started
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close stops accepting saves, drains the queue and waits for the goroutine to exit
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.group.Wait()
}

func (w *Writer) run(ctx context.Context) {
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = nil
		closed := w.closed
		w.mu.Unlock()

		for _, job := range batch {
			err := w.store.Save(ctx, job.sample)
			if err != nil {
				w.logger.WithField("error", err).Warn("Sample save failed")
			} else {
				w.logger.WithField("sample", job.sample.String()).Debug("Sample saved")
			}
			if job.done != nil {
				job.done(err)
			}
		}

		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			// more may have arrived while saving
			continue
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			w.failPending(ctx.Err())
			return
		}
	}
}

// failPending reports cancellation to every job still queued
func (w *Writer) failPending(cause error) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.closed = true
	w.mu.Unlock()

	for _, job := range batch {
		if job.done != nil {
			job.done(errors.Join(ErrWriteFailed, cause))
		}
	}
}
