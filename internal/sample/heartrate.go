package sample

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	HeartRateCodecName = "hrm"

	// HeartRateMeasurementUUID is the SIG Heart Rate Measurement characteristic
	HeartRateMeasurementUUID = "2a37"
)

const (
	hrmFlagUint16    = 0x01
	hrmFlagEnergy    = 0x08
	hrmFlagRR        = 0x10
	hrmReservedFlags = 0xE0

	kJPerKcal = 4.184
)

// HeartRateCodec decodes the Bluetooth SIG Heart Rate Measurement (0x2A37).
// Energy expended maps to Calories (kcal) and RR intervals to HRV as RMSSD in milliseconds.
type HeartRateCodec struct {
	clock Clock
}

// NewHeartRateCodec creates a heart rate measurement codec. A nil clock uses time.Now.
func NewHeartRateCodec(clock Clock) *HeartRateCodec {
	if clock == nil {
		clock = time.Now
	}
	return &HeartRateCodec{clock: clock}
}

func (c *HeartRateCodec) Name() string { return HeartRateCodecName }

func (c *HeartRateCodec) Decode(payload []byte) (BiometricSample, error) {
	if len(payload) < 2 {
		return BiometricSample{}, malformed(HeartRateCodecName, "measurement too short (%d bytes)", len(payload))
	}

	flags := payload[0]
	if flags&hrmReservedFlags != 0 {
		return BiometricSample{}, malformed(HeartRateCodecName, "reserved flag bits set (0x%02x)", flags)
	}

	var s BiometricSample
	off := 1

	if flags&hrmFlagUint16 != 0 {
		if len(payload) < off+2 {
			return BiometricSample{}, malformed(HeartRateCodecName, "truncated 16-bit heart rate")
		}
		s.HeartRate = Int(int(binary.LittleEndian.Uint16(payload[off:])))
		off += 2
	} else {
		s.HeartRate = Int(int(payload[off]))
		off++
	}

	if flags&hrmFlagEnergy != 0 {
		if len(payload) < off+2 {
			return BiometricSample{}, malformed(HeartRateCodecName, "truncated energy expended")
		}
		kj := float64(binary.LittleEndian.Uint16(payload[off:]))
		s.Calories = Int(int(math.Round(kj / kJPerKcal)))
		off += 2
	}

	if flags&hrmFlagRR != 0 {
		rest := payload[off:]
		if len(rest) == 0 || len(rest)%2 != 0 {
			return BiometricSample{}, malformed(HeartRateCodecName, "RR interval block of %d bytes", len(rest))
		}
		rr := make([]float64, 0, len(rest)/2)
		for i := 0; i < len(rest); i += 2 {
			// 1/1024 second resolution
			rr = append(rr, float64(binary.LittleEndian.Uint16(rest[i:]))*1000/1024)
		}
		if v, ok := rmssd(rr); ok {
			s.HRV = Int(int(math.Round(v)))
		}
		off = len(payload)
	}

	if off != len(payload) {
		return BiometricSample{}, malformed(HeartRateCodecName, "%d trailing bytes", len(payload)-off)
	}

	s.Timestamp = c.clock().UTC()
	return s, nil
}

// rmssd is the root mean square of successive RR differences
func rmssd(rr []float64) (float64, bool) {
	if len(rr) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(rr)-1)), true
}
