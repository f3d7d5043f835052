package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/ringsync/internal/device"
)

// toProperties converts ble.Property bit flags into device.Property
func toProperties(p ble.Property) device.Property {
	var props device.Property
	if p&ble.CharRead != 0 {
		props |= device.PropRead
	}
	if p&ble.CharWrite != 0 {
		props |= device.PropWrite
	}
	if p&ble.CharWriteNR != 0 {
		props |= device.PropWriteWithoutResponse
	}
	if p&ble.CharNotify != 0 {
		props |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		props |= device.PropIndicate
	}
	return props
}
