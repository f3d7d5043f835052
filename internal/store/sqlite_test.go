package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

type SQLiteStoreTestSuite struct {
	StoreContractSuite
}

func TestSQLiteStoreTestSuite(t *testing.T) {
	s := &SQLiteStoreTestSuite{}
	s.NewStore = func() Store {
		st, err := Open(context.Background(), filepath.Join(s.T().TempDir(), "samples.db"), quietLogger())
		s.Require().NoError(err)
		return st
	}
	suite.Run(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	// GOAL: Verify a completed Save is durable and the creation clock resumes after reopen
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "samples.db")

	st, err := Open(ctx, path, quietLogger())
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	st.now = func() time.Time { return future }
	require.NoError(t, st.Save(ctx, sample.BiometricSample{HeartRate: sample.Int(61), Timestamp: time.Now()}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, path, quietLogger())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Save(ctx, sample.BiometricSample{HeartRate: sample.Int(62), Timestamp: time.Now()}))

	recs, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 62, *recs[0].Sample.HeartRate, "later insert MUST sort first even when the wall clock is behind")
	assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))
}

func TestSQLiteStore_WriteFailures(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		call   func(st *SQLiteStore) error
		is     error
	}{
		{
			name: "save reports ErrWriteFailed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO samples").WillReturnError(errors.New("disk I/O error"))
			},
			call: func(st *SQLiteStore) error {
				return st.Save(context.Background(), sample.BiometricSample{HeartRate: sample.Int(70), Timestamp: time.Now()})
			},
			is: ErrWriteFailed,
		},
		{
			name: "delete reports ErrWriteFailed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM samples").WillReturnError(errors.New("database is locked"))
			},
			call: func(st *SQLiteStore) error { return st.DeleteAll(context.Background()) },
			is:   ErrWriteFailed,
		},
		{
			name: "list reports ErrReadFailed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM samples ORDER BY created_at DESC").WillReturnError(errors.New("no such table"))
			},
			call: func(st *SQLiteStore) error {
				_, err := st.List(context.Background(), 5)
				return err
			},
			is: ErrReadFailed,
		},
		{
			name: "count reports ErrReadFailed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("no such table"))
			},
			call: func(st *SQLiteStore) error {
				_, err := st.Count(context.Background())
				return err
			},
			is: ErrReadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.expect(mock)
			st := NewSQLiteStore(db, quietLogger())

			err = tt.call(st)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_FailedSaveDoesNotAdvanceClock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := NewSQLiteStore(db, quietLogger())
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return frozen }

	mock.ExpectExec("INSERT INTO samples").WillReturnError(errors.New("disk full"))
	mock.ExpectExec("INSERT INTO samples").
		WithArgs(frozen.UnixNano(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := sample.BiometricSample{Timestamp: frozen}
	assert.ErrorIs(t, st.Save(context.Background(), s), ErrWriteFailed)
	assert.NoError(t, st.Save(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_InitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS samples").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_samples_created").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_samples_ts").WillReturnResult(sqlmock.NewResult(0, 0))
	last := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last.UnixNano()))

	st := NewSQLiteStore(db, quietLogger())
	require.NoError(t, st.InitSchema(context.Background()))

	assert.Equal(t, last, st.lastCreated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
