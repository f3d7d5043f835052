// Package connection drives the GATT handshake with a single peripheral:
// connect, discover services and characteristics, read or subscribe, then
// decode the first value that arrives.
//
// A Session is not safe for concurrent use; its owner feeds it radio events
// from one goroutine. Terminal sessions ignore late events and a retry always
// needs a new Session.
package connection

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/sample"
)

// State is the connection session state
type State int

const (
	StateNotConnected State = iota
	StateConnecting
	StateServicesDiscovering
	StateCharacteristicsDiscovering
	StateAwaitingValue
	StateComplete
	StateDisconnected
	StateConnectFailed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovering:
		return "services_discovering"
	case StateCharacteristicsDiscovering:
		return "characteristics_discovering"
	case StateAwaitingValue:
		return "awaiting_value"
	case StateComplete:
		return "complete"
	case StateDisconnected:
		return "disconnected"
	case StateConnectFailed:
		return "connect_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the session is finished
func (s State) Terminal() bool {
	return s == StateComplete || s == StateDisconnected || s == StateConnectFailed
}

var ErrInvalidState = errors.New("invalid connection state")

// Failure reasons reported in Result.Reason
const (
	ReasonConnectFailed          = "connect failed"
	ReasonNoServices             = "no services"
	ReasonNoCharacteristics      = "no characteristics"
	ReasonNoUsableCharacteristic = "no readable characteristics"
	ReasonDecodeError            = "decode error"
	ReasonDisconnected           = "disconnected"
	ReasonHandshakeTimeout       = "handshake timeout"
)

// Options narrows the handshake to specific GATT attributes.
// Empty filters accept everything.
type Options struct {
	ServiceFilter        []string
	CharacteristicFilter []string
}

// Result is reported once when the session reaches a terminal state
type Result struct {
	State      State
	Peripheral device.DiscoveredDevice

	// Sample is set on a successful decode
	Sample *sample.BiometricSample

	// Err and Reason describe a failed handshake
	Err    error
	Reason string
}

// OK reports whether the handshake produced a sample
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && r.Sample != nil
}

// Session is one handshake with one peripheral
type Session struct {
	radio  device.Radio
	codec  sample.Codec
	opts   Options
	logger *logrus.Logger

	state      State
	peripheral device.DiscoveredDevice
	result     *Result

	pendingServices int
	characteristics int
	requests        int
}

// New creates a session in NotConnected
func New(radio device.Radio, codec sample.Codec, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		radio:  radio,
		codec:  codec,
		opts:   opts,
		logger: logger,
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Peripheral returns the peripheral this session connects to
func (s *Session) Peripheral() device.DiscoveredDevice {
	return s.peripheral
}

// Result returns the terminal outcome, nil while the handshake is running
func (s *Session) Result() *Result {
	return s.result
}

// Connect stops any running scan and requests a connection.
// Valid only from NotConnected.
func (s *Session) Connect(dev device.DiscoveredDevice) error {
	if s.state != StateNotConnected {
		return fmt.Errorf("%w: cannot connect from %s", ErrInvalidState, s.state)
	}
	s.peripheral = dev

	// scanning and connecting contend for the same radio
	if err := s.radio.StopScan(); err != nil {
		s.logger.WithError(err).Debug("Stop scan before connect failed")
	}

	s.state = StateConnecting
	s.log().Info("Connecting to peripheral")

	if err := s.radio.Connect(dev.ID); err != nil {
		err = device.NormalizeError(err)
		s.finish(StateConnectFailed, ReasonConnectFailed, fmt.Errorf("%w: %w", device.ErrConnectFailed, err), false)
		return s.result.Err
	}
	return nil
}

// Abort ends a running handshake, for example when its deadline passed.
// Returns the terminal result, or nil when the session was already finished.
func (s *Session) Abort(reason string, err error) *Result {
	if s.state.Terminal() || s.state == StateNotConnected {
		return nil
	}
	if err == nil {
		err = device.ErrHandshakeIncomplete
	}
	s.finish(StateDisconnected, reason, err, true)
	return s.result
}

// Handle applies a radio event. It returns the result when the event moved
// the session into a terminal state, nil otherwise.
func (s *Session) Handle(ev device.Event) *Result {
	if s.state.Terminal() || s.state == StateNotConnected || ev.PeripheralID != s.peripheral.ID {
		return nil
	}

	switch ev.Kind {
	case device.EventConnected:
		s.onConnected()
	case device.EventConnectFailed:
		if s.state == StateConnecting {
			err := ev.Err
			if err == nil {
				err = errors.New("connection refused")
			}
			s.finish(StateConnectFailed, ReasonConnectFailed, fmt.Errorf("%w: %w", device.ErrConnectFailed, device.NormalizeError(err)), false)
		}
	case device.EventServicesDiscovered:
		s.onServices(ev)
	case device.EventCharacteristicsDiscovered:
		s.onCharacteristics(ev)
	case device.EventValueUpdated:
		s.onValue(ev)
	case device.EventDisconnected:
		err := device.ErrNotConnected
		if ev.Err != nil {
			err = fmt.Errorf("%w: %w", device.ErrNotConnected, ev.Err)
		}
		s.finish(StateDisconnected, ReasonDisconnected, err, false)
	default:
		return nil
	}

	if s.state.Terminal() {
		return s.result
	}
	return nil
}

func (s *Session) onConnected() {
	if s.state != StateConnecting {
		return
	}
	s.state = StateServicesDiscovering
	s.log().Info("Connected, discovering services")

	if err := s.radio.DiscoverServices(s.peripheral.ID, s.opts.ServiceFilter); err != nil {
		s.finish(StateDisconnected, ReasonNoServices, fmt.Errorf("%w: discover services: %w", device.ErrHandshakeIncomplete, device.NormalizeError(err)), true)
	}
}

func (s *Session) onServices(ev device.Event) {
	if s.state != StateServicesDiscovering {
		return
	}
	if ev.Err != nil {
		s.finish(StateDisconnected, ReasonNoServices, fmt.Errorf("%w: discover services: %w", device.ErrHandshakeIncomplete, device.NormalizeError(ev.Err)), true)
		return
	}

	services := make([]device.ServiceInfo, 0, len(ev.Services))
	for _, svc := range ev.Services {
		if device.ContainsUUID(s.opts.ServiceFilter, svc.UUID) {
			services = append(services, svc)
		}
	}
	if len(services) == 0 {
		s.finish(StateDisconnected, ReasonNoServices, fmt.Errorf("%w: %s", device.ErrHandshakeIncomplete, ReasonNoServices), true)
		return
	}

	s.state = StateCharacteristicsDiscovering
	s.log().WithField("service_count", len(services)).Debug("Discovering characteristics")

	for _, svc := range services {
		if err := s.radio.DiscoverCharacteristics(s.peripheral.ID, svc.UUID, s.opts.CharacteristicFilter); err != nil {
			s.logger.WithFields(logrus.Fields{
				"service_uuid": svc.UUID,
				"error":        err,
			}).Warn("Characteristic discovery request failed")
			continue
		}
		s.pendingServices++
	}
	if s.pendingServices == 0 {
		s.finish(StateDisconnected, ReasonNoCharacteristics, fmt.Errorf("%w: %s", device.ErrHandshakeIncomplete, ReasonNoCharacteristics), true)
	}
}

func (s *Session) onCharacteristics(ev device.Event) {
	if s.state != StateCharacteristicsDiscovering || s.pendingServices == 0 {
		return
	}
	s.pendingServices--

	if ev.Err != nil {
		s.logger.WithFields(logrus.Fields{
			"service_uuid": ev.ServiceUUID,
			"error":        ev.Err,
		}).Warn("Characteristic discovery failed")
	}

	for _, char := range ev.Characteristics {
		if !device.ContainsUUID(s.opts.CharacteristicFilter, char.UUID) {
			continue
		}
		s.characteristics++
		s.request(char)
	}

	if s.pendingServices > 0 {
		return
	}

	switch {
	case s.characteristics == 0:
		s.finish(StateDisconnected, ReasonNoCharacteristics, fmt.Errorf("%w: %s", device.ErrHandshakeIncomplete, ReasonNoCharacteristics), true)
	case s.requests == 0:
		s.finish(StateDisconnected, ReasonNoUsableCharacteristic, fmt.Errorf("%w: %s", device.ErrHandshakeIncomplete, ReasonNoUsableCharacteristic), true)
	default:
		s.state = StateAwaitingValue
		s.log().WithField("requests", s.requests).Debug("Awaiting value")
	}
}

// request reads readable characteristics and subscribes to notifiable ones
func (s *Session) request(char device.CharacteristicInfo) {
	fields := logrus.Fields{
		"service_uuid": char.ServiceUUID,
		"char_uuid":    char.UUID,
		"properties":   char.Properties.String(),
	}

	if char.Properties.CanSubscribe() {
		if err := s.radio.Subscribe(s.peripheral.ID, char); err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("Subscribe failed")
		} else {
			s.requests++
		}
	}
	if char.Properties.CanRead() {
		if err := s.radio.Read(s.peripheral.ID, char); err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("Read failed")
		} else {
			s.requests++
		}
	}
}

func (s *Session) onValue(ev device.Event) {
	// values may arrive while other services are still being enumerated
	if s.state != StateAwaitingValue && (s.state != StateCharacteristicsDiscovering || s.requests == 0) {
		return
	}
	if ev.Err != nil {
		s.logger.WithFields(logrus.Fields{
			"char_uuid": ev.Characteristic.UUID,
			"error":     ev.Err,
		}).Warn("Characteristic value error")
		return
	}

	decoded, err := s.codec.Decode(ev.Value)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"char_uuid": ev.Characteristic.UUID,
			"codec":     s.codec.Name(),
			"error":     err,
		}).Warn("Payload decode failed")
		s.finish(StateComplete, ReasonDecodeError, err, true)
		return
	}

	s.finish(StateComplete, "", nil, true)
	s.result.Sample = &decoded
	s.log().WithField("sample", decoded.String()).Info("Sample received")
}

func (s *Session) finish(state State, reason string, err error, disconnect bool) {
	s.state = state
	s.result = &Result{
		State:      state,
		Peripheral: s.peripheral,
		Err:        err,
		Reason:     reason,
	}

	if err != nil {
		s.log().WithFields(logrus.Fields{
			"state":  state,
			"reason": reason,
			"error":  err,
		}).Warn("Handshake ended")
	}

	if disconnect {
		if derr := s.radio.Disconnect(s.peripheral.ID); derr != nil {
			s.logger.WithError(derr).Debug("Disconnect failed")
		}
	}
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"device":  s.peripheral.DisplayName(),
		"address": s.peripheral.ID,
	})
}
