package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/ringsync/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface.
// Values are captured eagerly since go-ble may reuse the advertisement buffer
// once the scan handler returns.
type BLEAdvertisement struct {
	name        string
	mfg         []byte
	services    []string
	connectable bool
	rssi        int
	addr        string
}

// NewBLEAdvertisement creates a new BLEAdvertisement snapshot
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	a := &BLEAdvertisement{
		name:        adv.LocalName(),
		connectable: adv.Connectable(),
		rssi:        adv.RSSI(),
	}
	if addr := adv.Addr(); addr != nil {
		a.addr = addr.String()
	}
	if mfg := adv.ManufacturerData(); len(mfg) > 0 {
		a.mfg = append([]byte(nil), mfg...)
	}
	svcs := adv.Services()
	a.services = make([]string, len(svcs))
	for i, svc := range svcs {
		a.services[i] = device.NormalizeUUID(svc.String())
	}
	return a
}

func (a *BLEAdvertisement) LocalName() string        { return a.name }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.mfg }
func (a *BLEAdvertisement) Services() []string       { return a.services }
func (a *BLEAdvertisement) Connectable() bool        { return a.connectable }
func (a *BLEAdvertisement) RSSI() int                { return a.rssi }
func (a *BLEAdvertisement) Addr() string             { return a.addr }
