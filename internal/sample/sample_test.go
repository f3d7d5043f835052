package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBiometricSample_Clone(t *testing.T) {
	orig := BiometricSample{HeartRate: Int(60), SleepHours: Float(7.25), Timestamp: time.Unix(100, 0)}
	c := orig.Clone()

	*c.HeartRate = 99
	*c.SleepHours = 1

	assert.Equal(t, 60, *orig.HeartRate, "clone MUST NOT share pointers")
	assert.Equal(t, 7.25, *orig.SleepHours)
	assert.Nil(t, c.BloodOxygen, "absent fields MUST stay absent")
}

func TestBiometricSample_Normalized(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := BiometricSample{Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, loc)}

	n := s.Normalized()

	assert.Equal(t, time.UTC, n.Timestamp.Location())
	assert.True(t, n.Timestamp.Equal(s.Timestamp))
	assert.Equal(t, 9, n.Timestamp.Hour())
}

func TestBiometricSample_Equal(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := BiometricSample{HeartRate: Int(70), Timestamp: ts}

	assert.True(t, a.Equal(BiometricSample{HeartRate: Int(70), Timestamp: ts.UTC()}))
	assert.False(t, a.Equal(BiometricSample{HeartRate: Int(71), Timestamp: ts}))
	assert.False(t, a.Equal(BiometricSample{HeartRate: Int(70), Steps: Int(0), Timestamp: ts}),
		"zero and absent MUST differ")
}

func TestBiometricSample_IsEmptyAndString(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, BiometricSample{Timestamp: ts}.IsEmpty())

	s := BiometricSample{HeartRate: Int(72), BodyTemperature: Float(36.6), Timestamp: ts}
	assert.False(t, s.IsEmpty())
	assert.Equal(t, "hr=72 temp_c=36.60 @2024-01-01T00:00:00Z", s.String())
}
