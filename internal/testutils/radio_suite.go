package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/devicefactory"
	"github.com/stretchr/testify/suite"
)

// RadioSuite provides a reusable test suite backed by a FakeRadio.
// The suite swaps devicefactory.RadioFactory for every test so that code
// constructing its own radio receives the fake.
//
// Basic usage:
//
//	type SyncSuite struct {
//	    testutils.RadioSuite
//	}
//
//	func (s *SyncSuite) SetupTest() {
//	    s.RadioSuite.SetupTest() // call parent first, then script the radio
//	    s.Radio.WithAdvertisements(
//	        testutils.CreateMockAdvertisement("EZ Ring 01", "ring-1", -40).Build(),
//	    )
//	}
type RadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Radio  *FakeRadio

	// TestTimeout bounds Eventually style waits
	TestTimeout time.Duration

	originalFactory func(*logrus.Logger) (device.Radio, error)
}

// SetupSuite initializes the logger and saves the radio factory.
// Called once before all tests in the suite.
func (s *RadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T(), true)
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second

	s.originalFactory = devicefactory.RadioFactory
	s.T().Cleanup(func() {
		devicefactory.RadioFactory = s.originalFactory
	})
}

// SetupTest installs a fresh FakeRadio.
// Called before each test method.
func (s *RadioSuite) SetupTest() {
	s.Radio = NewFakeRadio()
	radio := s.Radio
	devicefactory.RadioFactory = func(*logrus.Logger) (device.Radio, error) {
		return radio, nil
	}
}

// TearDownTest restores the radio factory.
// Called after each test method.
func (s *RadioSuite) TearDownTest() {
	if s.originalFactory != nil {
		devicefactory.RadioFactory = s.originalFactory
	}
	s.Radio = nil
}

// Tick is the polling interval used with Eventually
func (s *RadioSuite) Tick() time.Duration {
	return 5 * time.Millisecond
}
