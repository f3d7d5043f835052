package main

import (
	"errors"
	"fmt"

	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/discovery"
	"github.com/srg/ringsync/internal/sample"
	"github.com/srg/ringsync/internal/store"
	"github.com/srg/ringsync/internal/syncer"
)

// Command-level errors
var (
	// ErrSyncFailed wraps a sync that ended in a non-success status
	ErrSyncFailed = errors.New("sync failed")
	// ErrDeviceNotFound is returned when --device was not seen during the scan window
	ErrDeviceNotFound = errors.New("device not found")
)

// statusError carries the terminal status of a failed sync
type statusError struct {
	status syncer.Status
}

func (e *statusError) Error() string {
	if e.status.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrSyncFailed, e.status, e.status.Err)
	}
	return fmt.Sprintf("%s: %s", ErrSyncFailed, e.status)
}

func (e *statusError) Unwrap() []error {
	if e.status.Err == nil {
		return []error{ErrSyncFailed}
	}
	return []error{ErrSyncFailed, e.status.Err}
}

// FormatUserError turns an error into a one line message for the terminal
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnauthorized):
		return "Bluetooth access is not authorized for this terminal. Grant permission and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth Low Energy is not supported on this machine."
	case errors.Is(err, device.ErrRadioUnavailable):
		return "Bluetooth radio is unavailable: " + err.Error()
	case errors.Is(err, syncer.ErrSyncInProgress):
		return "A sync is already in progress."
	case errors.Is(err, ErrDeviceNotFound):
		return err.Error() + ". Run 'ringsync scan' to list nearby devices."
	case errors.Is(err, discovery.ErrScanTimeout):
		return "No ring found nearby. Make sure it is charged and close to this machine."
	case errors.Is(err, sample.ErrMalformed):
		return "The ring sent data that could not be decoded: " + err.Error()
	case errors.Is(err, store.ErrWriteFailed), errors.Is(err, store.ErrReadFailed):
		return "Sample store error: " + err.Error()
	case errors.Is(err, device.ErrConnectFailed):
		return "Could not connect to the ring: " + err.Error()
	case errors.Is(err, device.ErrHandshakeIncomplete):
		return "The ring did not provide a sample in time: " + err.Error()
	default:
		return err.Error()
	}
}
