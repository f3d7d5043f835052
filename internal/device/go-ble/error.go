package goble

import (
	"fmt"
	"strings"

	"github.com/srg/ringsync/internal/device"
)

// NormalizeError maps known go-ble error strings onto the device error taxonomy.
// The darwin central manager reports its state as "have=N want=5"; anything
// device.NormalizeError does not recognize is returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=1"):
		return fmt.Errorf("%w: %v", &device.RadioError{State: device.StateResetting}, err)
	default:
		return device.NormalizeError(err)
	}
}

// powerStateFromError derives the adapter power state from a device factory failure
func powerStateFromError(err error) device.PowerState {
	return device.StateFromError(NormalizeError(err))
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
