//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/ringsync/internal/device"
)

func newHostDevice() (ble.Device, error) {
	return nil, device.ErrUnsupported
}
