package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/ringsync/internal/device"
)

// CharacteristicConfig represents a GATT characteristic served by a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"` // e.g. "read,notify"
	Value      []byte `json:"value"`
}

// ServiceConfig represents a GATT service served by a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics"`
}

// PeripheralProfile is the GATT table and behavior of a fake peripheral
type PeripheralProfile struct {
	Services []ServiceConfig `json:"services"`

	// ConnectErr makes Connect answer with EventConnectFailed
	ConnectErr error `json:"-"`
}

// PeripheralBuilder builds a PeripheralProfile with a fluent API
//
//	profile := NewPeripheralBuilder().
//	    WithService("180D").
//	    WithCharacteristic("2A37", "notify", []byte{0x00, 72}).
//	    Build()
type PeripheralBuilder struct {
	profile PeripheralProfile
}

// NewPeripheralBuilder creates a builder for a peripheral with no services
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: add a service first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithConnectError makes connection attempts fail with err
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.profile.ConnectErr = err
	return b
}

// FromJSON fills the profile from JSON with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.profile); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal peripheral profile: %v", err))
	}
	return b
}

// Build returns a copy of the configured profile
func (b *PeripheralBuilder) Build() *PeripheralProfile {
	p := &PeripheralProfile{ConnectErr: b.profile.ConnectErr}
	for _, svc := range b.profile.Services {
		chars := make([]CharacteristicConfig, len(svc.Characteristics))
		copy(chars, svc.Characteristics)
		p.Services = append(p.Services, ServiceConfig{UUID: svc.UUID, Characteristics: chars})
	}
	return p
}

func (p *PeripheralProfile) serviceInfos(filter []string) []device.ServiceInfo {
	out := make([]device.ServiceInfo, 0, len(p.Services))
	for _, svc := range p.Services {
		if device.ContainsUUID(filter, svc.UUID) {
			out = append(out, device.ServiceInfo{UUID: device.NormalizeUUID(svc.UUID)})
		}
	}
	return out
}

func (p *PeripheralProfile) characteristicInfos(serviceUUID string, filter []string) []device.CharacteristicInfo {
	var out []device.CharacteristicInfo
	for _, svc := range p.Services {
		if device.NormalizeUUID(svc.UUID) != device.NormalizeUUID(serviceUUID) {
			continue
		}
		out = make([]device.CharacteristicInfo, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			if !device.ContainsUUID(filter, c.UUID) {
				continue
			}
			out = append(out, device.CharacteristicInfo{
				ServiceUUID: device.NormalizeUUID(svc.UUID),
				UUID:        device.NormalizeUUID(c.UUID),
				Properties:  device.ParseProperties(c.Properties),
			})
		}
	}
	return out
}

func (p *PeripheralProfile) value(char device.CharacteristicInfo) ([]byte, bool) {
	for _, svc := range p.Services {
		if device.NormalizeUUID(svc.UUID) != device.NormalizeUUID(char.ServiceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.NormalizeUUID(c.UUID) == device.NormalizeUUID(char.UUID) {
				return c.Value, c.Value != nil
			}
		}
	}
	return nil, false
}
