// Package store persists biometric samples as an append-only record set.
//
// Every implementation honors the same contract: Save appends and never
// updates, a successful Save is durable and visible to Latest before it
// returns, listings are ordered most recent first by creation order, and
// DeleteAll is a hard delete.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/srg/ringsync/internal/sample"
)

// Store errors
var (
	ErrWriteFailed = errors.New("store write failed")
	ErrReadFailed  = errors.New("store read failed")
	ErrClosed      = errors.New("store closed")

	// ErrInvalidSample is wrapped in the ErrWriteFailed returned for a sample
	// that cannot be stored faithfully
	ErrInvalidSample = errors.New("invalid sample")
)

// sample timestamps are persisted as Unix nanoseconds
var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// validateSample rejects a zero timestamp and any timestamp Unix nanoseconds cannot hold
func validateSample(s sample.BiometricSample) error {
	ts := s.Timestamp
	if ts.IsZero() {
		return fmt.Errorf("%w: %w: missing timestamp", ErrWriteFailed, ErrInvalidSample)
	}
	if ts.Before(minTimestamp) || ts.After(maxTimestamp) {
		return fmt.Errorf("%w: %w: timestamp %s out of range", ErrWriteFailed, ErrInvalidSample, ts.UTC().Format(time.RFC3339))
	}
	return nil
}

// clampTimestamp bounds a range endpoint to what Unix nanoseconds can hold
func clampTimestamp(ts time.Time) time.Time {
	switch {
	case ts.Before(minTimestamp):
		return minTimestamp
	case ts.After(maxTimestamp):
		return maxTimestamp
	default:
		return ts.UTC()
	}
}

// Store is the durable sample log
type Store interface {
	// Save appends one record, assigning its identity and creation timestamp.
	// A sample without a storable timestamp fails with ErrInvalidSample.
	Save(ctx context.Context, s sample.BiometricSample) error
	// Latest returns the most recently created record, or nil when empty.
	Latest(ctx context.Context) (*sample.StoredRecord, error)
	// List returns at most limit records, most recent first. limit <= 0 yields none.
	List(ctx context.Context, limit int) ([]sample.StoredRecord, error)
	// ListInRange returns every record whose sample timestamp is in [start, end], most recent first.
	ListInRange(ctx context.Context, start, end time.Time) ([]sample.StoredRecord, error)
	// DeleteAll irreversibly removes every record.
	DeleteAll(ctx context.Context) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// monotonic returns now, pushed forward so it is strictly after last
func monotonic(now, last time.Time) time.Time {
	now = now.UTC()
	if !now.After(last) {
		return last.Add(time.Nanosecond)
	}
	return now
}
