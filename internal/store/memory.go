package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/ringsync/internal/sample"
)

// MemoryStore keeps records in process memory. It satisfies the Store
// contract except durability across restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	records     []sample.StoredRecord
	nextID      int64
	lastCreated time.Time
	closed      bool
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (m *MemoryStore) Save(ctx context.Context, s sample.BiometricSample) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: %w", ErrWriteFailed, ErrClosed)
	}
	if err := validateSample(s); err != nil {
		return err
	}

	created := monotonic(m.now(), m.lastCreated)
	m.records = append(m.records, sample.StoredRecord{
		ID:        m.nextID,
		CreatedAt: created,
		Sample:    s.Normalized(),
	})
	m.nextID++
	m.lastCreated = created
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context) (*sample.StoredRecord, error) {
	recs, err := m.List(ctx, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]sample.StoredRecord, error) {
	if limit <= 0 {
		return []sample.StoredRecord{}, nil
	}
	return m.collect(ctx, limit, func(sample.StoredRecord) bool { return true })
}

func (m *MemoryStore) ListInRange(ctx context.Context, start, end time.Time) ([]sample.StoredRecord, error) {
	return m.collect(ctx, -1, func(r sample.StoredRecord) bool {
		ts := r.Sample.Timestamp
		return !ts.Before(start) && !ts.After(end)
	})
}

// collect walks records newest first. limit < 0 means unbounded, 0 means none.
func (m *MemoryStore) collect(ctx context.Context, limit int, keep func(sample.StoredRecord) bool) ([]sample.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, ErrClosed)
	}

	out := []sample.StoredRecord{}
	if limit == 0 {
		return out, nil
	}
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if !keep(r) {
			continue
		}
		r.Sample = r.Sample.Clone()
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: %w", ErrWriteFailed, ErrClosed)
	}
	m.records = nil
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("%w: %w", ErrReadFailed, ErrClosed)
	}
	return len(m.records), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
