// Package devicefactory constructs the radio used by the sync engine.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	goble "github.com/srg/ringsync/internal/device/go-ble"
)

// RadioFactory creates the host radio.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(logger *logrus.Logger) (device.Radio, error) {
	return goble.NewRadio(logger), nil
}

// NewRadio returns a radio from RadioFactory with a default logger when none is given
func NewRadio(logger *logrus.Logger) (device.Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return RadioFactory(logger)
}
