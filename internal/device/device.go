package device

import (
	"errors"
	"fmt"
	"strings"
)

// PowerState mirrors the adapter state reported by the host radio stack
type PowerState int

const (
	StateUnknown PowerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s PowerState) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "powered_off"
	case StatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// RadioError represents a radio that cannot be used for the rest of a session
type RadioError struct {
	State PowerState
	Msg   string
}

// Error implements the error interface
func (e *RadioError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return "radio " + e.State.String()
	}
	return fmt.Sprintf("radio %s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare RadioError values by State.
// Every RadioError also matches ErrRadioUnavailable.
func (e *RadioError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrRadioUnavailable {
		return true
	}
	t, ok := target.(*RadioError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// ErrRadioUnavailable matches any RadioError
var ErrRadioUnavailable = errors.New("radio unavailable")

// Predefined sentinel errors for radio states
var (
	ErrBluetoothOff = &RadioError{State: StatePoweredOff}
	ErrUnauthorized = &RadioError{State: StateUnauthorized}
	ErrUnsupported  = &RadioError{State: StateUnsupported}
)

// NewRadioError returns the error reported for a radio that is not powered on.
// Returns nil for StatePoweredOn.
func NewRadioError(state PowerState, msg string) error {
	if state == StatePoweredOn {
		return nil
	}
	return &RadioError{State: state, Msg: msg}
}

// Link errors
var (
	ErrConnectFailed        = errors.New("connect failed")
	ErrNotConnected         = errors.New("device not connected")
	ErrHandshakeIncomplete  = errors.New("handshake incomplete")
	ErrUnknownPeripheral    = errors.New("unknown peripheral")
	ErrCharacteristicAccess = errors.New("characteristic access failed")
)

// NormalizeError maps known radio stack error strings to the structured taxonomy.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRadioUnavailable) || errors.Is(err, ErrNotConnected) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "have=4"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=3"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case containsIgnoreCase(msg, "have=2"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// StateFromError extracts the power state carried by a RadioError.
// Returns StatePoweredOn for nil and StateUnknown for unrelated errors.
func StateFromError(err error) PowerState {
	if err == nil {
		return StatePoweredOn
	}
	var rerr *RadioError
	if errors.As(err, &rerr) {
		return rerr.State
	}
	return StateUnknown
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Advertisement is a single broadcast observed while scanning
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// DiscoveredDevice is a peripheral seen during a scan
type DiscoveredDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// DisplayName returns the advertised name, falling back to the identifier
func (d DiscoveredDevice) DisplayName() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name
}

// Property is a bitmask of GATT characteristic properties
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

func (p Property) CanRead() bool      { return p&PropRead != 0 }
func (p Property) CanSubscribe() bool { return p&(PropNotify|PropIndicate) != 0 }

func (p Property) String() string {
	names := make([]string, 0, 5)
	for _, e := range []struct {
		bit  Property
		name string
	}{
		{PropRead, "read"},
		{PropWrite, "write"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated property list ("read,notify")
func ParseProperties(s string) Property {
	var p Property
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "read":
			p |= PropRead
		case "write":
			p |= PropWrite
		case "write-without-response", "writewithoutresponse":
			p |= PropWriteWithoutResponse
		case "notify":
			p |= PropNotify
		case "indicate":
			p |= PropIndicate
		}
	}
	return p
}

// ServiceInfo identifies a discovered GATT service
type ServiceInfo struct {
	UUID string
}

// CharacteristicInfo identifies a discovered GATT characteristic
type CharacteristicInfo struct {
	ServiceUUID string
	UUID        string
	Properties  Property
}

// Scanner is the discovery half of the radio
type Scanner interface {
	PowerState() PowerState
	StartScan() error
	StopScan() error
}

// Central is the connection half of the radio.
// Every call returns once the request is issued; results arrive later as events.
type Central interface {
	Connect(peripheralID string) error
	Disconnect(peripheralID string) error
	DiscoverServices(peripheralID string, filter []string) error
	DiscoverCharacteristics(peripheralID, serviceUUID string, filter []string) error
	Read(peripheralID string, char CharacteristicInfo) error
	Subscribe(peripheralID string, char CharacteristicInfo) error
}

// Radio is the external radio stack consumed by the sync core
type Radio interface {
	Scanner
	Central

	// SetHandler installs the sink for all asynchronous radio events.
	// Handlers must not block.
	SetHandler(h func(Event))
}
