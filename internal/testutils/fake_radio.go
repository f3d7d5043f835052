package testutils

import (
	"fmt"
	"sync"
	"time"

	"github.com/srg/ringsync/internal/device"
)

// Radio operations recorded by FakeRadio
const (
	OpStartScan               = "StartScan"
	OpStopScan                = "StopScan"
	OpConnect                 = "Connect"
	OpDisconnect              = "Disconnect"
	OpDiscoverServices        = "DiscoverServices"
	OpDiscoverCharacteristics = "DiscoverCharacteristics"
	OpRead                    = "Read"
	OpSubscribe               = "Subscribe"
)

// Call is one recorded radio request
type Call struct {
	Op           string
	PeripheralID string
	UUID         string
}

// FakeRadio implements device.Radio for tests.
//
// In manual mode tests drive every event with Emit. Registering scan
// advertisements or peripheral profiles switches the matching operations to
// auto-respond mode: each request is answered asynchronously with the event a
// live radio stack would produce.
type FakeRadio struct {
	mu          sync.Mutex
	handler     func(device.Event)
	power       device.PowerState
	scanning    bool
	failures    map[string]error
	calls       []Call
	ads         []device.Advertisement
	adInterval  time.Duration
	peripherals map[string]*PeripheralProfile
}

var _ device.Radio = (*FakeRadio)(nil)

// NewFakeRadio returns a powered on radio in manual mode
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{
		power:       device.StatePoweredOn,
		failures:    make(map[string]error),
		peripherals: make(map[string]*PeripheralProfile),
	}
}

// WithPowerState sets the reported power state without emitting an event
func (r *FakeRadio) WithPowerState(state device.PowerState) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power = state
	return r
}

// WithAdvertisements scripts the advertisements emitted after StartScan
func (r *FakeRadio) WithAdvertisements(ads ...device.Advertisement) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = append(r.ads, ads...)
	return r
}

// WithAdvertisementInterval spaces scripted advertisements apart
func (r *FakeRadio) WithAdvertisementInterval(d time.Duration) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adInterval = d
	return r
}

// WithPeripheral registers a peripheral that answers connection requests
func (r *FakeRadio) WithPeripheral(id string, profile *PeripheralProfile) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[id] = profile
	return r
}

// FailOn makes op return err synchronously
func (r *FakeRadio) FailOn(op string, err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
	return r
}

// SetPowerState changes the power state and emits EventPowerState
func (r *FakeRadio) SetPowerState(state device.PowerState) {
	r.mu.Lock()
	r.power = state
	if state != device.StatePoweredOn {
		r.scanning = false
	}
	r.mu.Unlock()
	r.Emit(device.PowerStateEvent(state))
}

// Emit delivers ev to the installed handler
func (r *FakeRadio) Emit(ev device.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if h != nil {
		h(ev)
	}
}

// Calls returns a copy of all recorded requests
func (r *FakeRadio) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo returns recorded requests for a single operation
func (r *FakeRadio) CallsTo(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Scanning reports whether a scan is active
func (r *FakeRadio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func (r *FakeRadio) SetHandler(h func(device.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *FakeRadio) PowerState() device.PowerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

func (r *FakeRadio) StartScan() error {
	if err := r.record(OpStartScan, "", ""); err != nil {
		return err
	}

	r.mu.Lock()
	if r.power != device.StatePoweredOn {
		state := r.power
		r.mu.Unlock()
		return device.NewRadioError(state, "scan refused")
	}
	r.scanning = true
	ads := append([]device.Advertisement(nil), r.ads...)
	interval := r.adInterval
	r.mu.Unlock()

	if len(ads) > 0 {
		go func() {
			for _, adv := range ads {
				if interval > 0 {
					time.Sleep(interval)
				}
				if !r.Scanning() {
					return
				}
				r.Emit(device.AdvertisementEvent(adv))
			}
		}()
	}
	return nil
}

func (r *FakeRadio) StopScan() error {
	if err := r.record(OpStopScan, "", ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.scanning = false
	r.mu.Unlock()
	return nil
}

func (r *FakeRadio) Connect(id string) error {
	if err := r.record(OpConnect, id, ""); err != nil {
		return err
	}
	if p, ok := r.profile(id); ok {
		if p.ConnectErr != nil {
			r.respond(device.Event{Kind: device.EventConnectFailed, PeripheralID: id, Err: p.ConnectErr})
		} else {
			r.respond(device.Event{Kind: device.EventConnected, PeripheralID: id})
		}
	}
	return nil
}

func (r *FakeRadio) Disconnect(id string) error {
	if err := r.record(OpDisconnect, id, ""); err != nil {
		return err
	}
	if _, ok := r.profile(id); ok {
		r.respond(device.Event{Kind: device.EventDisconnected, PeripheralID: id})
	}
	return nil
}

func (r *FakeRadio) DiscoverServices(id string, filter []string) error {
	if err := r.record(OpDiscoverServices, id, ""); err != nil {
		return err
	}
	if p, ok := r.profile(id); ok {
		r.respond(device.Event{Kind: device.EventServicesDiscovered, PeripheralID: id, Services: p.serviceInfos(filter)})
	}
	return nil
}

func (r *FakeRadio) DiscoverCharacteristics(id, serviceUUID string, filter []string) error {
	if err := r.record(OpDiscoverCharacteristics, id, serviceUUID); err != nil {
		return err
	}
	if p, ok := r.profile(id); ok {
		r.respond(device.Event{
			Kind:            device.EventCharacteristicsDiscovered,
			PeripheralID:    id,
			ServiceUUID:     device.NormalizeUUID(serviceUUID),
			Characteristics: p.characteristicInfos(serviceUUID, filter),
		})
	}
	return nil
}

func (r *FakeRadio) Read(id string, char device.CharacteristicInfo) error {
	if err := r.record(OpRead, id, char.UUID); err != nil {
		return err
	}
	r.respondValue(id, char)
	return nil
}

func (r *FakeRadio) Subscribe(id string, char device.CharacteristicInfo) error {
	if err := r.record(OpSubscribe, id, char.UUID); err != nil {
		return err
	}
	r.respondValue(id, char)
	return nil
}

func (r *FakeRadio) respondValue(id string, char device.CharacteristicInfo) {
	p, ok := r.profile(id)
	if !ok {
		return
	}
	if value, ok := p.value(char); ok {
		r.respond(device.ValueEvent(id, char, value))
	}
}

func (r *FakeRadio) respond(ev device.Event) {
	go r.Emit(ev)
}

func (r *FakeRadio) profile(id string) (*PeripheralProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peripherals[id]
	return p, ok
}

func (r *FakeRadio) record(op, id, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, PeripheralID: id, UUID: uuid})
	if err, ok := r.failures[op]; ok {
		return fmt.Errorf("fake %s: %w", op, err)
	}
	return nil
}
