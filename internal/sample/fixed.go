package sample

import "time"

const FixedCodecName = "fixed"

// FixedCodec ignores the payload and returns a constant reading stamped with
// the decode time. Useful for demos against peripherals with an unknown format.
type FixedCodec struct {
	clock Clock
}

// NewFixedCodec creates a fixed codec. A nil clock uses time.Now.
func NewFixedCodec(clock Clock) *FixedCodec {
	if clock == nil {
		clock = time.Now
	}
	return &FixedCodec{clock: clock}
}

func (c *FixedCodec) Name() string { return FixedCodecName }

func (c *FixedCodec) Decode(_ []byte) (BiometricSample, error) {
	return BiometricSample{
		HeartRate:       Int(72),
		BloodOxygen:     Int(98),
		Steps:           Int(5000),
		HRV:             Int(45),
		Calories:        Int(1800),
		StressIndex:     Int(30),
		SleepHours:      Float(7.5),
		BodyTemperature: Float(36.6),
		Timestamp:       c.clock().UTC(),
	}, nil
}
