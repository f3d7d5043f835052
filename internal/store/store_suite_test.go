package store

import (
	"context"
	"time"

	"github.com/srg/ringsync/internal/sample"
	"github.com/stretchr/testify/suite"
)

// StoreContractSuite runs the Store contract against any implementation.
// Embedding suites set NewStore before SetupTest runs.
type StoreContractSuite struct {
	suite.Suite

	NewStore func() Store
	store    Store
	ctx      context.Context
	base     time.Time
}

func (s *StoreContractSuite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore MUST be configured by the embedding suite")
	s.ctx = context.Background()
	s.store = s.NewStore()
	s.base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func (s *StoreContractSuite) saveHeartRates(rates ...int) {
	for i, hr := range rates {
		err := s.store.Save(s.ctx, sample.BiometricSample{
			HeartRate: sample.Int(hr),
			Timestamp: s.base.Add(time.Duration(i) * time.Minute),
		})
		s.Require().NoError(err)
	}
}

func heartRates(recs []sample.StoredRecord) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r.Sample.HeartRate)
	}
	return out
}

func (s *StoreContractSuite) TestEmptyStore() {
	latest, err := s.store.Latest(s.ctx)
	s.NoError(err)
	s.Nil(latest, "empty store MUST have no latest record")

	recs, err := s.store.List(s.ctx, 10)
	s.NoError(err)
	s.Empty(recs)

	n, err := s.store.Count(s.ctx)
	s.NoError(err)
	s.Zero(n)
}

func (s *StoreContractSuite) TestThreeSampleScenario() {
	// GOAL: Verify latest/list/range ordering for the 60, 70, 80 heart rate scenario
	s.saveHeartRates(60, 70, 80)

	latest, err := s.store.Latest(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(80, *latest.Sample.HeartRate)

	recs, err := s.store.List(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal([]int{80, 70}, heartRates(recs))

	recs, err = s.store.ListInRange(s.ctx, s.base, s.base.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal([]int{70, 60}, heartRates(recs), "range MUST be inclusive and most recent first")
}

func (s *StoreContractSuite) TestListLimits() {
	s.saveHeartRates(50, 51, 52, 53, 54)

	tests := []struct {
		name     string
		limit    int
		expected []int
	}{
		{name: "zero limit yields nothing", limit: 0, expected: []int{}},
		{name: "negative limit yields nothing", limit: -1, expected: []int{}},
		{name: "limit below size", limit: 3, expected: []int{54, 53, 52}},
		{name: "limit above size", limit: 100, expected: []int{54, 53, 52, 51, 50}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			recs, err := s.store.List(s.ctx, tt.limit)
			s.Require().NoError(err)
			s.NotNil(recs, "List MUST return a non-nil slice")
			s.LessOrEqual(len(recs), max(tt.limit, 0))
			s.Equal(tt.expected, heartRates(recs))
		})
	}
}

func (s *StoreContractSuite) TestCreationOrderAndIdentity() {
	s.saveHeartRates(1, 2, 3)

	recs, err := s.store.List(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().Len(recs, 3)

	for i := 1; i < len(recs); i++ {
		s.True(recs[i-1].CreatedAt.After(recs[i].CreatedAt), "creation timestamps MUST be strictly increasing")
		s.Greater(recs[i-1].ID, recs[i].ID)
	}
}

func (s *StoreContractSuite) TestAbsentFieldsRoundTrip() {
	loc := time.FixedZone("CET", 3600)
	in := sample.BiometricSample{
		HeartRate:       sample.Int(0),
		BodyTemperature: sample.Float(36.55),
		SleepHours:      sample.Float(0),
		Timestamp:       time.Date(2024, 6, 1, 10, 0, 0, 123, loc),
	}
	s.Require().NoError(s.store.Save(s.ctx, in))

	latest, err := s.store.Latest(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(latest)

	out := latest.Sample
	s.True(in.Equal(out), "stored sample MUST equal the saved one, got %s", out)
	s.Equal(time.UTC, out.Timestamp.Location(), "timestamps MUST be UTC-normalized")
	s.Nil(out.BloodOxygen)
	s.Nil(out.Steps)
	s.Nil(out.VO2Max)
	s.Require().NotNil(out.HeartRate, "present zero MUST stay present")
	s.Equal(0, *out.HeartRate)
}

func (s *StoreContractSuite) TestDeleteAll() {
	s.saveHeartRates(60, 70)

	s.Require().NoError(s.store.DeleteAll(s.ctx))

	latest, err := s.store.Latest(s.ctx)
	s.NoError(err)
	s.Nil(latest)

	recs, err := s.store.List(s.ctx, 100)
	s.NoError(err)
	s.Empty(recs)

	s.saveHeartRates(90)
	latest, err = s.store.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal(90, *latest.Sample.HeartRate, "store MUST accept writes after DeleteAll")
}

func (s *StoreContractSuite) TestRangeBounds() {
	s.saveHeartRates(60, 70, 80)

	recs, err := s.store.ListInRange(s.ctx, s.base.Add(2*time.Minute), s.base.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal([]int{80}, heartRates(recs), "single-instant range MUST include exact matches")

	recs, err = s.store.ListInRange(s.ctx, s.base.Add(time.Hour), s.base.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Empty(recs)

	recs, err = s.store.ListInRange(s.ctx, s.base.Add(time.Hour), s.base)
	s.Require().NoError(err)
	s.Empty(recs, "inverted range MUST be empty")
}

func (s *StoreContractSuite) TestSave_RejectsUnstorableTimestamps() {
	tests := []struct {
		name string
		ts   time.Time
	}{
		{name: "zero timestamp", ts: time.Time{}},
		{name: "before 1678", ts: time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "after 2262", ts: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.store.Save(s.ctx, sample.BiometricSample{HeartRate: sample.Int(60), Timestamp: tt.ts})
			s.ErrorIs(err, ErrInvalidSample)
			s.ErrorIs(err, ErrWriteFailed)
		})
	}

	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Zero(n, "a rejected sample MUST NOT be stored")
}

func (s *StoreContractSuite) TestListInRange_UnboundedEndpoints() {
	s.saveHeartRates(60, 70)

	recs, err := s.store.ListInRange(s.ctx, time.Time{}, time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal([]int{70, 60}, heartRates(recs), "out of range endpoints MUST behave as open bounds")
}
