package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeAdvertisement overrides the ble.Advertisement methods the adapter reads;
// anything else panics through the nil embedded interface
type fakeAdvertisement struct {
	ble.Advertisement
	name string
	addr string
	rssi int
	mfg  []byte
	svcs []ble.UUID
}

func (a *fakeAdvertisement) LocalName() string        { return a.name }
func (a *fakeAdvertisement) ManufacturerData() []byte { return a.mfg }
func (a *fakeAdvertisement) Services() []ble.UUID     { return a.svcs }
func (a *fakeAdvertisement) Connectable() bool        { return true }
func (a *fakeAdvertisement) RSSI() int                { return a.rssi }
func (a *fakeAdvertisement) Addr() ble.Addr           { return ble.NewAddr(a.addr) }

type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	services     []*ble.Service
	value        []byte
	readErr      error
	subscribed   []ble.UUID
	notify       ble.NotificationHandler
	disconnected chan struct{}
	cancelled    bool
}

func newFakeClient() *fakeClient {
	hr := &ble.Characteristic{UUID: ble.UUID16(0x2a37), Property: ble.CharNotify}
	bl := &ble.Characteristic{UUID: ble.UUID16(0x2a19), Property: ble.CharRead}
	return &fakeClient{
		services: []*ble.Service{
			{UUID: ble.UUID16(0x180d), Characteristics: []*ble.Characteristic{hr}},
			{UUID: ble.UUID16(0x180f), Characteristics: []*ble.Characteristic{bl}},
		},
		value:        []byte{0x00, 0x48},
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	return c.services, nil
}

func (c *fakeClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	return s.Characteristics, nil
}

func (c *fakeClient) DiscoverDescriptors(filter []ble.UUID, ch *ble.Characteristic) ([]*ble.Descriptor, error) {
	ch.CCCD = &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID}
	return []*ble.Descriptor{ch.CCCD}, nil
}

func (c *fakeClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	return c.value, c.readErr
}

func (c *fakeClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, ch.UUID)
	c.notify = h
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelled {
		c.cancelled = true
		close(c.disconnected)
	}
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) push(data []byte) {
	c.mu.Lock()
	h := c.notify
	c.mu.Unlock()
	h(data)
}

type fakeDevice struct {
	ble.Device
	ads     []ble.Advertisement
	scanErr error
	dialErr error
	client  *fakeClient
}

func (d *fakeDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	for _, a := range d.ads {
		h(a)
	}
	if d.scanErr != nil {
		return d.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

type RadioSuite struct {
	suite.Suite
	dev     *fakeDevice
	radio   *Radio
	mu      sync.Mutex
	events  []device.Event
	factory func() (ble.Device, error)
}

func TestRadioSuite(t *testing.T) {
	suite.Run(t, new(RadioSuite))
}

func (s *RadioSuite) SetupTest() {
	s.factory = DeviceFactory
	s.dev = &fakeDevice{client: newFakeClient()}
	DeviceFactory = func() (ble.Device, error) { return s.dev, nil }

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.radio = NewRadio(logger)

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
	s.radio.SetHandler(func(ev device.Event) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	})
}

func (s *RadioSuite) TearDownTest() {
	DeviceFactory = s.factory
}

// waitFor returns the first recorded event of the given kind
func (s *RadioSuite) waitFor(kind device.EventKind) device.Event {
	var found device.Event
	s.Require().Eventually(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, ev := range s.events {
			if ev.Kind == kind {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s event", kind)
	return found
}

func (s *RadioSuite) count(kind device.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (s *RadioSuite) connect() {
	s.Require().NoError(s.radio.Connect("aa:bb:cc:dd:ee:ff"))
	s.waitFor(device.EventConnected)
}

func (s *RadioSuite) TestPowerStateFromFactory() {
	tests := []struct {
		name     string
		err      error
		expected device.PowerState
	}{
		{"opened", nil, device.StatePoweredOn},
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.StatePoweredOff},
		{"unauthorized", errors.New("central manager has invalid state: have=3 want=5"), device.StateUnauthorized},
		{"unsupported", errors.New("can't init hci: no such device"), device.StateUnsupported},
		{"resetting", errors.New("central manager has invalid state: have=1 want=5"), device.StateResetting},
		{"unrelated", errors.New("boom"), device.StateUnknown},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			DeviceFactory = func() (ble.Device, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return s.dev, nil
			}
			s.Equal(tt.expected, NewRadio(nil).PowerState())
		})
	}
}

func (s *RadioSuite) TestStartScanRadioOff() {
	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("bluetooth is turned off")
	}
	err := NewRadio(nil).StartScan()
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *RadioSuite) TestScanEmitsAdvertisementsAndStops() {
	s.dev.ads = []ble.Advertisement{
		&fakeAdvertisement{name: "EZ Ring 01", addr: "aa:bb:cc:dd:ee:ff", rssi: -40, svcs: []ble.UUID{ble.UUID16(0x180d)}},
	}
	s.Require().NoError(s.radio.StartScan())

	ev := s.waitFor(device.EventAdvertisement)
	s.Equal("aa:bb:cc:dd:ee:ff", ev.PeripheralID)
	s.Equal("EZ Ring 01", ev.Advertisement.LocalName())
	s.Equal(-40, ev.Advertisement.RSSI())
	s.Equal([]string{"180d"}, ev.Advertisement.Services())

	s.Require().NoError(s.radio.StopScan())
	stopped := s.waitFor(device.EventScanStopped)
	s.NoError(stopped.Err, "a requested stop MUST NOT be reported as a failure")
}

func (s *RadioSuite) TestScanFailureIsReported() {
	s.dev.scanErr = errors.New("bluetooth is turned off")
	s.Require().NoError(s.radio.StartScan())

	stopped := s.waitFor(device.EventScanStopped)
	s.ErrorIs(stopped.Err, device.ErrBluetoothOff)
}

func (s *RadioSuite) TestScanFailureAfterAdvertisements() {
	s.dev.ads = []ble.Advertisement{&fakeAdvertisement{name: "EZ Ring 01", addr: "aa:bb:cc:dd:ee:ff", rssi: -40}}
	s.dev.scanErr = errors.New("bluetooth is turned off")
	s.Require().NoError(s.radio.StartScan())

	s.waitFor(device.EventAdvertisement)
	stopped := s.waitFor(device.EventScanStopped)
	s.Require().Error(stopped.Err, "a scan ended by the stack MUST report its error")
	s.ErrorIs(stopped.Err, device.ErrRadioUnavailable)

	// the failed scan is cleared so a new one can start
	s.dev.scanErr = nil
	s.Require().NoError(s.radio.StartScan())
	s.Require().NoError(s.radio.StopScan())
	s.Eventually(func() bool { return s.count(device.EventScanStopped) == 2 }, time.Second, 5*time.Millisecond)
}

func (s *RadioSuite) TestStopScanWithoutScan() {
	s.NoError(s.radio.StopScan())
	time.Sleep(20 * time.Millisecond)
	s.Zero(s.count(device.EventScanStopped))
}

func (s *RadioSuite) TestConnectFailed() {
	s.dev.dialErr = errors.New("dial timeout")
	s.Require().NoError(s.radio.Connect("aa:bb:cc:dd:ee:ff"))

	ev := s.waitFor(device.EventConnectFailed)
	s.ErrorIs(ev.Err, device.ErrConnectFailed)
	s.ErrorIs(s.radio.DiscoverServices("aa:bb:cc:dd:ee:ff", nil), device.ErrUnknownPeripheral)
}

func (s *RadioSuite) TestHandshake() {
	s.connect()
	id := "aa:bb:cc:dd:ee:ff"

	s.Require().NoError(s.radio.DiscoverServices(id, []string{"180d"}))
	svcs := s.waitFor(device.EventServicesDiscovered)
	s.Require().NoError(svcs.Err)
	s.Equal([]device.ServiceInfo{{UUID: "180d"}}, svcs.Services, "services outside the filter MUST be dropped")

	s.Require().NoError(s.radio.DiscoverCharacteristics(id, "180d", nil))
	chars := s.waitFor(device.EventCharacteristicsDiscovered)
	s.Require().NoError(chars.Err)
	s.Require().Len(chars.Characteristics, 1)
	hr := chars.Characteristics[0]
	s.Equal(device.CharacteristicInfo{ServiceUUID: "180d", UUID: "2a37", Properties: device.PropNotify}, hr)

	s.Require().NoError(s.radio.Subscribe(id, hr))
	s.Eventually(func() bool {
		s.dev.client.mu.Lock()
		defer s.dev.client.mu.Unlock()
		return s.dev.client.notify != nil
	}, time.Second, 5*time.Millisecond)
	s.dev.client.push([]byte{0x00, 0x50})

	value := s.waitFor(device.EventValueUpdated)
	s.Require().NoError(value.Err)
	s.Equal([]byte{0x00, 0x50}, value.Value)
	s.Equal(hr, value.Characteristic)
}

func (s *RadioSuite) TestReadUndiscoveredCharacteristic() {
	s.connect()

	char := device.CharacteristicInfo{ServiceUUID: "180f", UUID: "2a19", Properties: device.PropRead}
	s.Require().NoError(s.radio.Read("aa:bb:cc:dd:ee:ff", char))

	ev := s.waitFor(device.EventValueUpdated)
	s.ErrorIs(ev.Err, device.ErrCharacteristicAccess)
}

func (s *RadioSuite) TestDisconnect() {
	s.connect()
	id := "aa:bb:cc:dd:ee:ff"

	s.Require().NoError(s.radio.Disconnect(id))
	s.waitFor(device.EventDisconnected)
	s.ErrorIs(s.radio.Disconnect(id), device.ErrUnknownPeripheral)
	s.ErrorIs(s.radio.Read(id, device.CharacteristicInfo{}), device.ErrUnknownPeripheral)
}

func (s *RadioSuite) TestRemoteDisconnect() {
	s.connect()

	require.NoError(s.T(), s.dev.client.CancelConnection())
	ev := s.waitFor(device.EventDisconnected)
	s.Equal("aa:bb:cc:dd:ee:ff", ev.PeripheralID)
}

func TestToProperties(t *testing.T) {
	assert.Equal(t, device.PropRead|device.PropNotify, toProperties(ble.CharRead|ble.CharNotify))
	assert.Equal(t, device.PropWrite|device.PropWriteWithoutResponse, toProperties(ble.CharWrite|ble.CharWriteNR))
	assert.Equal(t, device.PropIndicate, toProperties(ble.CharIndicate|ble.CharBroadcast))
	assert.Equal(t, device.Property(0), toProperties(0))
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, NormalizeError(nil))
	assert.ErrorIs(t, NormalizeError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")), device.ErrBluetoothOff)
	assert.ErrorIs(t, NormalizeError(errors.New("device not connected")), device.ErrNotConnected)

	plain := errors.New("unexpected")
	assert.Same(t, plain, NormalizeError(plain))
}
