package device

import (
	"fmt"
	"time"
)

// EventKind tags a radio Event
type EventKind int

const (
	EventPowerState EventKind = iota
	EventAdvertisement
	EventScanStopped
	EventConnected
	EventConnectFailed
	EventServicesDiscovered
	EventCharacteristicsDiscovered
	EventValueUpdated
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventPowerState:
		return "power_state"
	case EventAdvertisement:
		return "advertisement"
	case EventScanStopped:
		return "scan_stopped"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventServicesDiscovered:
		return "services_discovered"
	case EventCharacteristicsDiscovered:
		return "characteristics_discovered"
	case EventValueUpdated:
		return "value_updated"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a single asynchronous notification from the radio stack.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind         EventKind
	At           time.Time
	PeripheralID string

	Power           PowerState
	Advertisement   Advertisement
	Services        []ServiceInfo
	ServiceUUID     string
	Characteristics []CharacteristicInfo
	Characteristic  CharacteristicInfo
	Value           []byte

	// Err carries the failure for EventScanStopped, EventConnectFailed,
	// EventDisconnected and failed discovery or read requests.
	Err error
}

// PowerStateEvent builds an EventPowerState event
func PowerStateEvent(state PowerState) Event {
	return Event{Kind: EventPowerState, At: time.Now(), Power: state}
}

// AdvertisementEvent builds an EventAdvertisement event
func AdvertisementEvent(adv Advertisement) Event {
	return Event{Kind: EventAdvertisement, At: time.Now(), PeripheralID: adv.Addr(), Advertisement: adv}
}

// ValueEvent builds an EventValueUpdated event, copying data
func ValueEvent(peripheralID string, char CharacteristicInfo, data []byte) Event {
	value := make([]byte, len(data))
	copy(value, data)
	return Event{Kind: EventValueUpdated, At: time.Now(), PeripheralID: peripheralID, Characteristic: char, Value: value}
}
