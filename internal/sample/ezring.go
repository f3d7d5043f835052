package sample

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	EZRingCodecName = "ezring"

	// EZRingVersion is the only frame version understood by the codec
	EZRingVersion byte = 1

	ezHeaderLen = 3 // version + flags
)

// Presence flags of an EZ Ring frame, in wire order
const (
	FlagHeartRate uint16 = 1 << iota
	FlagBloodOxygen
	FlagSteps
	FlagHRV
	FlagCalories
	FlagStress
	FlagGlucose
	FlagVO2Max
	FlagSleep
	FlagBodyTemperature

	FlagTimestamp uint16 = 1 << 15

	ezKnownFlags = FlagHeartRate | FlagBloodOxygen | FlagSteps | FlagHRV | FlagCalories |
		FlagStress | FlagGlucose | FlagVO2Max | FlagSleep | FlagBodyTemperature | FlagTimestamp
)

// ezField describes one optional field of the frame
type ezField struct {
	flag uint16
	size int
	get  func(s *BiometricSample) (uint32, bool)
	set  func(s *BiometricSample, raw []byte)
}

var ezFields = []ezField{
	{FlagHeartRate, 1, intGetter(func(s *BiometricSample) *int { return s.HeartRate }), func(s *BiometricSample, b []byte) { s.HeartRate = Int(int(b[0])) }},
	{FlagBloodOxygen, 1, intGetter(func(s *BiometricSample) *int { return s.BloodOxygen }), func(s *BiometricSample, b []byte) { s.BloodOxygen = Int(int(b[0])) }},
	{FlagSteps, 4, intGetter(func(s *BiometricSample) *int { return s.Steps }), func(s *BiometricSample, b []byte) { s.Steps = Int(int(binary.LittleEndian.Uint32(b))) }},
	{FlagHRV, 2, intGetter(func(s *BiometricSample) *int { return s.HRV }), func(s *BiometricSample, b []byte) { s.HRV = Int(int(binary.LittleEndian.Uint16(b))) }},
	{FlagCalories, 2, intGetter(func(s *BiometricSample) *int { return s.Calories }), func(s *BiometricSample, b []byte) { s.Calories = Int(int(binary.LittleEndian.Uint16(b))) }},
	{FlagStress, 1, intGetter(func(s *BiometricSample) *int { return s.StressIndex }), func(s *BiometricSample, b []byte) { s.StressIndex = Int(int(b[0])) }},
	{FlagGlucose, 2, intGetter(func(s *BiometricSample) *int { return s.BloodGlucose }), func(s *BiometricSample, b []byte) { s.BloodGlucose = Int(int(binary.LittleEndian.Uint16(b))) }},
	{FlagVO2Max, 1, intGetter(func(s *BiometricSample) *int { return s.VO2Max }), func(s *BiometricSample, b []byte) { s.VO2Max = Int(int(b[0])) }},
	{
		FlagSleep, 2,
		func(s *BiometricSample) (uint32, bool) {
			if s.SleepHours == nil {
				return 0, false
			}
			return uint32(math.Round(*s.SleepHours * 60)), true
		},
		func(s *BiometricSample, b []byte) {
			s.SleepHours = Float(float64(binary.LittleEndian.Uint16(b)) / 60)
		},
	},
	{
		FlagBodyTemperature, 2,
		func(s *BiometricSample) (uint32, bool) {
			if s.BodyTemperature == nil {
				return 0, false
			}
			return uint32(uint16(int16(math.Round(*s.BodyTemperature * 100)))), true
		},
		func(s *BiometricSample, b []byte) {
			s.BodyTemperature = Float(float64(int16(binary.LittleEndian.Uint16(b))) / 100)
		},
	},
}

func intGetter(field func(s *BiometricSample) *int) func(s *BiometricSample) (uint32, bool) {
	return func(s *BiometricSample) (uint32, bool) {
		v := field(s)
		if v == nil {
			return 0, false
		}
		return uint32(*v), true
	}
}

// EZRingCodec decodes the EZ Ring vendor frame:
//
//	[version u8][flags u16 LE][fields in flag order][timestamp u32 LE, optional][checksum u8]
//
// The checksum is the byte sum (mod 256) of everything before it.
type EZRingCodec struct {
	clock Clock
}

// NewEZRingCodec creates an EZ Ring codec. A nil clock uses time.Now.
func NewEZRingCodec(clock Clock) *EZRingCodec {
	if clock == nil {
		clock = time.Now
	}
	return &EZRingCodec{clock: clock}
}

func (c *EZRingCodec) Name() string { return EZRingCodecName }

func (c *EZRingCodec) Decode(payload []byte) (BiometricSample, error) {
	if len(payload) < ezHeaderLen+1 {
		return BiometricSample{}, malformed(EZRingCodecName, "frame too short (%d bytes)", len(payload))
	}
	if payload[0] != EZRingVersion {
		return BiometricSample{}, malformed(EZRingCodecName, "unsupported version %d", payload[0])
	}

	flags := binary.LittleEndian.Uint16(payload[1:3])
	if flags&^ezKnownFlags != 0 {
		return BiometricSample{}, malformed(EZRingCodecName, "reserved flag bits set (0x%04x)", flags)
	}

	expected := ezFrameLen(flags)
	if len(payload) != expected {
		return BiometricSample{}, malformed(EZRingCodecName, "length %d, expected %d for flags 0x%04x", len(payload), expected, flags)
	}

	body, sum := payload[:len(payload)-1], payload[len(payload)-1]
	if got := checksum(body); got != sum {
		return BiometricSample{}, malformed(EZRingCodecName, "checksum 0x%02x, expected 0x%02x", sum, got)
	}

	var s BiometricSample
	off := ezHeaderLen
	for _, f := range ezFields {
		if flags&f.flag == 0 {
			continue
		}
		f.set(&s, body[off:off+f.size])
		off += f.size
	}

	if flags&FlagTimestamp != 0 {
		s.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(body[off:off+4])), 0).UTC()
	} else {
		s.Timestamp = c.clock().UTC()
	}
	return s, nil
}

// Encode builds a frame for s. The timestamp is included when withTimestamp is set.
func (c *EZRingCodec) Encode(s BiometricSample, withTimestamp bool) []byte {
	var flags uint16
	for _, f := range ezFields {
		if _, ok := f.get(&s); ok {
			flags |= f.flag
		}
	}
	if withTimestamp {
		flags |= FlagTimestamp
	}

	frame := make([]byte, ezHeaderLen, ezFrameLen(flags))
	frame[0] = EZRingVersion
	binary.LittleEndian.PutUint16(frame[1:3], flags)

	for _, f := range ezFields {
		v, ok := f.get(&s)
		if !ok {
			continue
		}
		switch f.size {
		case 1:
			frame = append(frame, byte(v))
		case 2:
			frame = binary.LittleEndian.AppendUint16(frame, uint16(v))
		case 4:
			frame = binary.LittleEndian.AppendUint32(frame, v)
		}
	}
	if withTimestamp {
		frame = binary.LittleEndian.AppendUint32(frame, uint32(s.Timestamp.Unix()))
	}
	return append(frame, checksum(frame))
}

func ezFrameLen(flags uint16) int {
	n := ezHeaderLen + 1
	for _, f := range ezFields {
		if flags&f.flag != 0 {
			n += f.size
		}
	}
	if flags&FlagTimestamp != 0 {
		n += 4
	}
	return n
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
