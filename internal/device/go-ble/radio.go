package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newHostDevice()
}

// DefaultConnectTimeout bounds a single dial attempt
const DefaultConnectTimeout = 15 * time.Second

// peripheral tracks one dialed (or dialing) peripheral and the GATT objects
// discovered on it. go-ble clients are not safe for concurrent ATT requests,
// so every request for a peripheral is serialized through opMu.
type peripheral struct {
	id     string
	cancel context.CancelFunc

	opMu     sync.Mutex
	client   ble.Client
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic
}

func charKey(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}

// Radio adapts a go-ble host device to device.Radio.
// Every request returns immediately and its outcome is delivered on a
// worker goroutine through the installed handler.
type Radio struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu         sync.Mutex
	dev        ble.Device
	handler    func(device.Event)
	scanCancel context.CancelFunc

	peripherals *hashmap.Map[string, *peripheral]
}

// NewRadio creates a Radio. The host device is opened lazily on first use.
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Radio{
		logger:         logger,
		connectTimeout: DefaultConnectTimeout,
		peripherals:    hashmap.New[string, *peripheral](),
	}
}

// SetConnectTimeout overrides the per-dial timeout
func (r *Radio) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		r.connectTimeout = d
	}
}

// SetHandler installs the sink for all asynchronous radio events
func (r *Radio) SetHandler(h func(device.Event)) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Radio) emit(ev device.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// device opens the host device once. A failed open is retried on the next call
// so a radio that gets switched on later becomes usable without a restart.
func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	r.dev = dev
	return dev, nil
}

// PowerState reports the adapter state derived from opening the host device
func (r *Radio) PowerState() device.PowerState {
	_, err := r.device()
	if err == nil {
		return device.StatePoweredOn
	}
	state := powerStateFromError(err)
	r.logger.WithError(err).WithField("state", state).Debug("Radio is not available")
	return state
}

// StartScan starts a duplicate-reporting scan. The scan ends with an
// EventScanStopped carrying nil after StopScan, or the stack error otherwise.
func (r *Radio) StartScan() error {
	dev, err := r.device()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.scanCancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.scanCancel = cancel
	r.mu.Unlock()

	r.logger.Debug("Starting BLE scan")
	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		scanErr := dev.Scan(ctx, true, func(a ble.Advertisement) {
			r.emit(device.AdvertisementEvent(NewBLEAdvertisement(a)))
		})

		// StopScan cancels ctx; anything else ending the scan is a failure
		requested := ctx.Err() != nil
		r.mu.Lock()
		r.scanCancel = nil
		r.mu.Unlock()
		cancel()

		if scanErr != nil && (requested || errors.Is(scanErr, context.Canceled)) {
			scanErr = nil
		}
		if scanErr != nil {
			scanErr = NormalizeError(scanErr)
			r.logger.WithError(scanErr).Warn("BLE scan stopped unexpectedly")
		}
		r.emit(device.Event{Kind: device.EventScanStopped, Err: scanErr})
	})
	return nil
}

// StopScan cancels a running scan. It is a no-op when no scan is running.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel := r.scanCancel
	r.mu.Unlock()
	if cancel != nil {
		r.logger.Debug("Stopping BLE scan")
		cancel()
	}
	return nil
}

// Connect dials the peripheral. Emits EventConnected or EventConnectFailed.
func (r *Radio) Connect(peripheralID string) error {
	dev, err := r.device()
	if err != nil {
		return err
	}
	if _, ok := r.peripherals.Get(peripheralID); ok {
		return fmt.Errorf("%w: %s already connecting", device.ErrConnectFailed, peripheralID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.connectTimeout)
	p := &peripheral{
		id:       peripheralID,
		cancel:   cancel,
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
	}
	r.peripherals.Set(peripheralID, p)

	logger := r.logger.WithField("peripheral", peripheralID)
	logger.Debug("Dialing peripheral")

	groutine.Go(ctx, "ble-connect", func(ctx context.Context) {
		client, dialErr := dev.Dial(ctx, ble.NewAddr(peripheralID))
		if dialErr != nil {
			cancel()
			r.peripherals.Del(peripheralID)
			dialErr = NormalizeError(dialErr)
			logger.WithError(dialErr).Debug("Dial failed")
			r.emit(device.Event{
				Kind:         device.EventConnectFailed,
				PeripheralID: peripheralID,
				Err:          fmt.Errorf("%w: %v", device.ErrConnectFailed, dialErr),
			})
			return
		}

		p.opMu.Lock()
		p.client = client
		p.opMu.Unlock()

		// Disconnect may have been requested while dialing
		if cur, ok := r.peripherals.Get(peripheralID); !ok || cur != p {
			_ = client.CancelConnection()
			return
		}

		logger.Info("Connected to peripheral")
		r.monitor(p, client)
		r.emit(device.Event{Kind: device.EventConnected, PeripheralID: peripheralID})
	})
	return nil
}

// monitor emits EventDisconnected once the link drops.
// Only clients exposing Disconnected() can be monitored.
func (r *Radio) monitor(p *peripheral, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		r.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		<-dc.Disconnected()
		if cur, ok := r.peripherals.Get(p.id); ok && cur == p {
			r.peripherals.Del(p.id)
		}
		p.cancel()
		r.logger.WithField("peripheral", p.id).Info("Peripheral disconnected")
		r.emit(device.Event{Kind: device.EventDisconnected, PeripheralID: p.id, Err: device.ErrNotConnected})
	})
}

// Disconnect tears down the link or aborts a pending dial
func (r *Radio) Disconnect(peripheralID string) error {
	p, ok := r.peripherals.Get(peripheralID)
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrUnknownPeripheral, peripheralID)
	}
	r.peripherals.Del(peripheralID)
	p.cancel()

	groutine.Go(context.Background(), "ble-disconnect", func(context.Context) {
		p.opMu.Lock()
		client := p.client
		p.opMu.Unlock()
		if client == nil {
			return
		}
		if err := client.CancelConnection(); err != nil {
			r.logger.WithError(err).WithField("peripheral", peripheralID).Debug("CancelConnection failed")
		}
		if _, ok := client.(interface{ Disconnected() <-chan struct{} }); !ok {
			r.emit(device.Event{Kind: device.EventDisconnected, PeripheralID: peripheralID})
		}
	})
	return nil
}

func (r *Radio) connected(peripheralID string) (*peripheral, error) {
	p, ok := r.peripherals.Get(peripheralID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownPeripheral, peripheralID)
	}
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.client == nil {
		return nil, fmt.Errorf("%w: %s", device.ErrNotConnected, peripheralID)
	}
	return p, nil
}

func parseUUIDs(filter []string) ([]ble.UUID, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(filter))
	for _, s := range filter {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// DiscoverServices emits EventServicesDiscovered with the services matching filter
func (r *Radio) DiscoverServices(peripheralID string, filter []string) error {
	p, err := r.connected(peripheralID)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}

	groutine.Go(context.Background(), "ble-discover-services", func(context.Context) {
		p.opMu.Lock()
		svcs, derr := p.client.DiscoverServices(uuids)
		infos := make([]device.ServiceInfo, 0, len(svcs))
		for _, s := range svcs {
			id := device.NormalizeUUID(s.UUID.String())
			if !device.ContainsUUID(filter, id) {
				continue
			}
			p.services[id] = s
			infos = append(infos, device.ServiceInfo{UUID: id})
		}
		p.opMu.Unlock()

		r.emit(device.Event{
			Kind:         device.EventServicesDiscovered,
			PeripheralID: peripheralID,
			Services:     infos,
			Err:          NormalizeError(derr),
		})
	})
	return nil
}

// DiscoverCharacteristics emits EventCharacteristicsDiscovered for one service
func (r *Radio) DiscoverCharacteristics(peripheralID, serviceUUID string, filter []string) error {
	p, err := r.connected(peripheralID)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}
	svcID := device.NormalizeUUID(serviceUUID)

	groutine.Go(context.Background(), "ble-discover-characteristics", func(context.Context) {
		ev := device.Event{
			Kind:         device.EventCharacteristicsDiscovered,
			PeripheralID: peripheralID,
			ServiceUUID:  svcID,
		}

		p.opMu.Lock()
		svc, ok := p.services[svcID]
		if !ok {
			p.opMu.Unlock()
			ev.Err = fmt.Errorf("service %s was not discovered", svcID)
			r.emit(ev)
			return
		}
		chars, derr := p.client.DiscoverCharacteristics(uuids, svc)
		for _, c := range chars {
			id := device.NormalizeUUID(c.UUID.String())
			if !device.ContainsUUID(filter, id) {
				continue
			}
			p.chars[charKey(svcID, id)] = c
			ev.Characteristics = append(ev.Characteristics, device.CharacteristicInfo{
				ServiceUUID: svcID,
				UUID:        id,
				Properties:  toProperties(c.Property),
			})
		}
		p.opMu.Unlock()

		ev.Err = NormalizeError(derr)
		r.emit(ev)
	})
	return nil
}

func (p *peripheral) characteristic(char device.CharacteristicInfo) (*ble.Characteristic, error) {
	c, ok := p.chars[charKey(char.ServiceUUID, char.UUID)]
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %s was not discovered", device.ErrCharacteristicAccess, char.UUID)
	}
	return c, nil
}

// Read emits one EventValueUpdated with the characteristic value
func (r *Radio) Read(peripheralID string, char device.CharacteristicInfo) error {
	p, err := r.connected(peripheralID)
	if err != nil {
		return err
	}

	groutine.Go(context.Background(), "ble-read", func(context.Context) {
		p.opMu.Lock()
		c, cerr := p.characteristic(char)
		var data []byte
		if cerr == nil {
			data, cerr = p.client.ReadCharacteristic(c)
		}
		p.opMu.Unlock()

		if cerr != nil {
			r.emit(device.Event{
				Kind:           device.EventValueUpdated,
				PeripheralID:   peripheralID,
				Characteristic: char,
				Err:            fmt.Errorf("%w: %v", device.ErrCharacteristicAccess, NormalizeError(cerr)),
			})
			return
		}
		r.emit(device.ValueEvent(peripheralID, char, data))
	})
	return nil
}

// Subscribe enables notifications (or indications) and emits an
// EventValueUpdated per received value
func (r *Radio) Subscribe(peripheralID string, char device.CharacteristicInfo) error {
	p, err := r.connected(peripheralID)
	if err != nil {
		return err
	}

	groutine.Go(context.Background(), "ble-subscribe", func(context.Context) {
		p.opMu.Lock()
		c, cerr := p.characteristic(char)
		if cerr == nil && c.CCCD == nil {
			// CCCD is only populated by descriptor discovery; some stacks handle it internally
			if _, derr := p.client.DiscoverDescriptors(nil, c); derr != nil {
				r.logger.WithError(derr).WithField("characteristic", char.UUID).Debug("Descriptor discovery failed")
			}
		}
		if cerr == nil {
			indicate := char.Properties&device.PropNotify == 0
			cerr = p.client.Subscribe(c, indicate, func(data []byte) {
				r.emit(device.ValueEvent(peripheralID, char, data))
			})
		}
		p.opMu.Unlock()

		if cerr != nil {
			r.emit(device.Event{
				Kind:           device.EventValueUpdated,
				PeripheralID:   peripheralID,
				Characteristic: char,
				Err:            fmt.Errorf("%w: %v", device.ErrCharacteristicAccess, NormalizeError(cerr)),
			})
		}
	})
	return nil
}

var _ device.Radio = (*Radio)(nil)
