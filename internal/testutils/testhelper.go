package testutils

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/sample"
	"github.com/stretchr/testify/require"
)

// TestHelper bundles the logger and assertions shared by package tests
type TestHelper struct {
	T      require.TestingT
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
// Set quiet to discard log output.
func NewTestHelper(t require.TestingT, quiet bool) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if quiet {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FixedClock returns a sample.Clock frozen at t
func FixedClock(t time.Time) sample.Clock {
	return func() time.Time { return t }
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

func CreateMockPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder()
}

func CreateMockPeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}

// EZRingFrame encodes s as an ezring frame
func EZRingFrame(s sample.BiometricSample, withTimestamp bool) []byte {
	return sample.NewEZRingCodec(nil).Encode(s, withTimestamp)
}
