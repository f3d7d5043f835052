// Package sample holds the biometric data model and the payload codecs that
// turn raw peripheral bytes into samples.
package sample

import (
	"fmt"
	"strings"
	"time"
)

// BiometricSample is a point-in-time snapshot reported by a peripheral.
// Every physiological field is optional: nil means the peripheral did not
// report it and must never be read as zero.
type BiometricSample struct {
	HeartRate       *int     `json:"heart_rate,omitempty"`
	BloodOxygen     *int     `json:"blood_oxygen,omitempty"`
	Steps           *int     `json:"steps,omitempty"`
	HRV             *int     `json:"hrv,omitempty"`
	Calories        *int     `json:"calories,omitempty"`
	StressIndex     *int     `json:"stress_index,omitempty"`
	BloodGlucose    *int     `json:"blood_glucose,omitempty"`
	VO2Max          *int     `json:"vo2_max,omitempty"`
	SleepHours      *float64 `json:"sleep_hours,omitempty"`
	BodyTemperature *float64 `json:"body_temperature,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// StoredRecord is a sample persisted by a store
type StoredRecord struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Sample    BiometricSample `json:"sample"`
}

// Int returns a pointer to v, for building samples
func Int(v int) *int { return &v }

// Float returns a pointer to v, for building samples
func Float(v float64) *float64 { return &v }

// Clone returns a deep copy so the caller owns every optional field
func (s BiometricSample) Clone() BiometricSample {
	out := s
	out.HeartRate = cloneInt(s.HeartRate)
	out.BloodOxygen = cloneInt(s.BloodOxygen)
	out.Steps = cloneInt(s.Steps)
	out.HRV = cloneInt(s.HRV)
	out.Calories = cloneInt(s.Calories)
	out.StressIndex = cloneInt(s.StressIndex)
	out.BloodGlucose = cloneInt(s.BloodGlucose)
	out.VO2Max = cloneInt(s.VO2Max)
	out.SleepHours = cloneFloat(s.SleepHours)
	out.BodyTemperature = cloneFloat(s.BodyTemperature)
	return out
}

// Normalized returns a clone with the timestamp converted to UTC
func (s BiometricSample) Normalized() BiometricSample {
	out := s.Clone()
	out.Timestamp = out.Timestamp.UTC()
	return out
}

// IsEmpty reports whether no physiological field is present
func (s BiometricSample) IsEmpty() bool {
	return s.HeartRate == nil && s.BloodOxygen == nil && s.Steps == nil && s.HRV == nil &&
		s.Calories == nil && s.StressIndex == nil && s.BloodGlucose == nil && s.VO2Max == nil &&
		s.SleepHours == nil && s.BodyTemperature == nil
}

// Equal compares two samples field by field, treating nil and present as different
func (s BiometricSample) Equal(o BiometricSample) bool {
	return eqInt(s.HeartRate, o.HeartRate) && eqInt(s.BloodOxygen, o.BloodOxygen) &&
		eqInt(s.Steps, o.Steps) && eqInt(s.HRV, o.HRV) && eqInt(s.Calories, o.Calories) &&
		eqInt(s.StressIndex, o.StressIndex) && eqInt(s.BloodGlucose, o.BloodGlucose) &&
		eqInt(s.VO2Max, o.VO2Max) && eqFloat(s.SleepHours, o.SleepHours) &&
		eqFloat(s.BodyTemperature, o.BodyTemperature) && s.Timestamp.Equal(o.Timestamp)
}

// String renders the present fields, e.g. "hr=72 spo2=98 @2024-01-01T00:00:00Z"
func (s BiometricSample) String() string {
	var b strings.Builder
	add := func(name string, v *int) {
		if v != nil {
			fmt.Fprintf(&b, "%s=%d ", name, *v)
		}
	}
	addf := func(name string, v *float64) {
		if v != nil {
			fmt.Fprintf(&b, "%s=%.2f ", name, *v)
		}
	}
	add("hr", s.HeartRate)
	add("spo2", s.BloodOxygen)
	add("steps", s.Steps)
	add("hrv", s.HRV)
	add("kcal", s.Calories)
	add("stress", s.StressIndex)
	add("glucose", s.BloodGlucose)
	add("vo2max", s.VO2Max)
	addf("sleep_h", s.SleepHours)
	addf("temp_c", s.BodyTemperature)
	b.WriteString("@")
	b.WriteString(s.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
