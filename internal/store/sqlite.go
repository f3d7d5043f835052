package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/sample"

	_ "modernc.org/sqlite"
)

const sampleColumns = `id, created_at, sample_ts, heart_rate, blood_oxygen, steps, hrv, calories,
	stress_index, blood_glucose, vo2_max, sleep_hours, body_temperature`

// SQLiteStore persists samples in a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger

	writeMu     sync.Mutex
	lastCreated time.Time
	now         func() time.Time
}

// Open opens (creating if needed) the database at path and ensures the schema exists.
// WAL journaling with synchronous=FULL makes every committed Save durable.
func Open(ctx context.Context, path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := NewSQLiteStore(db, logger)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.WithField("path", path).Debug("Sample store opened")
	return s, nil
}

// NewSQLiteStore wraps an existing handle. The caller is responsible for InitSchema.
func NewSQLiteStore(db *sql.DB, logger *logrus.Logger) *SQLiteStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// InitSchema creates the samples table and restores the creation clock
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			sample_ts INTEGER NOT NULL,
			heart_rate INTEGER,
			blood_oxygen INTEGER,
			steps INTEGER,
			hrv INTEGER,
			calories INTEGER,
			stress_index INTEGER,
			blood_glucose INTEGER,
			vo2_max INTEGER,
			sleep_hours REAL,
			body_temperature REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_created ON samples(created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(sample_ts);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM samples;`).Scan(&last); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	s.writeMu.Lock()
	if last > 0 {
		s.lastCreated = time.Unix(0, last).UTC()
	}
	s.writeMu.Unlock()
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, smp sample.BiometricSample) error {
	if err := validateSample(smp); err != nil {
		return err
	}
	smp = smp.Normalized()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created := monotonic(s.now(), s.lastCreated)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (created_at, sample_ts, heart_rate, blood_oxygen, steps, hrv, calories,
			stress_index, blood_glucose, vo2_max, sleep_hours, body_temperature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		created.UnixNano(),
		smp.Timestamp.UnixNano(),
		nullInt(smp.HeartRate),
		nullInt(smp.BloodOxygen),
		nullInt(smp.Steps),
		nullInt(smp.HRV),
		nullInt(smp.Calories),
		nullInt(smp.StressIndex),
		nullInt(smp.BloodGlucose),
		nullInt(smp.VO2Max),
		nullFloat(smp.SleepHours),
		nullFloat(smp.BodyTemperature),
	)
	if err != nil {
		s.logger.WithField("error", err).Error("Failed to insert sample")
		return fmt.Errorf("%w: insert sample: %v", ErrWriteFailed, err)
	}

	s.lastCreated = created
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (*sample.StoredRecord, error) {
	recs, err := s.query(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY created_at DESC, id DESC LIMIT 1;`)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]sample.StoredRecord, error) {
	if limit <= 0 {
		return []sample.StoredRecord{}, nil
	}
	return s.query(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
}

func (s *SQLiteStore) ListInRange(ctx context.Context, start, end time.Time) ([]sample.StoredRecord, error) {
	if end.Before(start) {
		return []sample.StoredRecord{}, nil
	}
	return s.query(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE sample_ts BETWEEN ? AND ? ORDER BY created_at DESC, id DESC;`,
		clampTimestamp(start).UnixNano(), clampTimestamp(end).UnixNano())
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM samples;`)
	if err != nil {
		return fmt.Errorf("%w: delete samples: %v", ErrWriteFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.WithField("deleted", n).Info("Deleted all samples")
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count samples: %v", ErrReadFailed, err)
	}
	return n, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]sample.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer rows.Close()

	out := []sample.StoredRecord{}
	for rows.Next() {
		var (
			rec                                              sample.StoredRecord
			created, ts                                      int64
			hr, spo2, steps, hrv, kcal, stress, glucose, vo2 sql.NullInt64
			sleep, temp                                      sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &created, &ts, &hr, &spo2, &steps, &hrv, &kcal,
			&stress, &glucose, &vo2, &sleep, &temp); err != nil {
			return nil, fmt.Errorf("%w: scan sample: %v", ErrReadFailed, err)
		}

		rec.CreatedAt = time.Unix(0, created).UTC()
		rec.Sample = sample.BiometricSample{
			HeartRate:       intPtr(hr),
			BloodOxygen:     intPtr(spo2),
			Steps:           intPtr(steps),
			HRV:             intPtr(hrv),
			Calories:        intPtr(kcal),
			StressIndex:     intPtr(stress),
			BloodGlucose:    intPtr(glucose),
			VO2Max:          intPtr(vo2),
			SleepHours:      floatPtr(sleep),
			BodyTemperature: floatPtr(temp),
			Timestamp:       time.Unix(0, ts).UTC(),
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return out, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return sample.Int(int(v.Int64))
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return sample.Float(v.Float64)
}
