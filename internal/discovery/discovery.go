// Package discovery implements the scan half of a sync: a single-use state
// machine that collects advertising peripherals, enforces the scan timeout and
// promotes a brand-matching peripheral when auto-sync is on.
//
// A Session is not safe for concurrent use. It is owned by one event loop which
// feeds it radio events; the scan timer only reports its generation through the
// onTimeout hook so the owner can post it back into the same loop.
package discovery

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the discovery session state
type State int

const (
	StateIdle State = iota
	StateScanning
	StateTimedOut
	StateDeviceFound
	StateCancelled
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateTimedOut:
		return "timed_out"
	case StateDeviceFound:
		return "device_found"
	case StateCancelled:
		return "cancelled"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the session can no longer change state
func (s State) Terminal() bool {
	return s != StateIdle && s != StateScanning
}

var (
	ErrScanTimeout  = errors.New("scan timeout")
	ErrInvalidState = errors.New("invalid discovery state")
)

// DefaultNameTokens are the brand tokens that identify the target peripheral
var DefaultNameTokens = []string{"ez ring", "ezring", "ez-ring"}

// DefaultTimeout bounds a scan that finds no candidate
const DefaultTimeout = 10 * time.Second

// Options configures a discovery session
type Options struct {
	// Timeout of zero or less disables the scan timer
	Timeout    time.Duration
	AutoSync   bool
	NameTokens []string
	AllowList  []string
	BlockList  []string
	// MinRSSI filters out weaker peripherals; zero disables the filter
	MinRSSI int
}

// DefaultOptions returns auto-sync options with the default timeout and brand tokens
func DefaultOptions() Options {
	return Options{
		Timeout:    DefaultTimeout,
		AutoSync:   true,
		NameTokens: append([]string(nil), DefaultNameTokens...),
	}
}

// Session is one scan cycle. A finished session is discarded; a new scan
// always starts from a new Session.
type Session struct {
	radio  device.Scanner
	opts   Options
	logger *logrus.Logger

	state     State
	err       error
	devices   *orderedmap.OrderedMap[string, device.DiscoveredDevice]
	candidate *device.DiscoveredDevice

	timerMu    sync.Mutex
	timer      *time.Timer
	generation uint64
	onTimeout  func(generation uint64)
}

// New creates an idle session. onTimeout is invoked from the timer goroutine
// with the generation that armed it; it must not block.
func New(radio device.Scanner, opts Options, onTimeout func(generation uint64), logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.NameTokens == nil {
		opts.NameTokens = append([]string(nil), DefaultNameTokens...)
	}
	return &Session{
		radio:     radio,
		opts:      opts,
		logger:    logger,
		devices:   orderedmap.New[string, device.DiscoveredDevice](),
		onTimeout: onTimeout,
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Err returns the error that moved the session into TimedOut or Unavailable
func (s *Session) Err() error {
	return s.err
}

// Generation returns the token of the most recently armed timer
func (s *Session) Generation() uint64 {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return s.generation
}

// Candidate returns the promoted peripheral once the session reached DeviceFound
func (s *Session) Candidate() (device.DiscoveredDevice, bool) {
	if s.candidate == nil {
		return device.DiscoveredDevice{}, false
	}
	return *s.candidate, true
}

// Devices returns the discovered peripherals in first-seen order
func (s *Session) Devices() []device.DiscoveredDevice {
	out := make([]device.DiscoveredDevice, 0, s.devices.Len())
	for pair := s.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Lookup returns a discovered peripheral by identifier
func (s *Session) Lookup(id string) (device.DiscoveredDevice, bool) {
	return s.devices.Get(id)
}

// Start begins scanning. Valid only from Idle.
// A radio that is not powered on moves the session to Unavailable for good.
func (s *Session) Start() error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, s.state)
	}

	if power := s.radio.PowerState(); power != device.StatePoweredOn {
		return s.unavailable(device.NewRadioError(power, "scan not started"))
	}

	s.devices = orderedmap.New[string, device.DiscoveredDevice]()
	s.candidate = nil

	if err := s.radio.StartScan(); err != nil {
		err = device.NormalizeError(err)
		if errors.Is(err, device.ErrRadioUnavailable) {
			return s.unavailable(err)
		}
		s.state = StateCancelled
		s.err = err
		return fmt.Errorf("start scan: %w", err)
	}

	s.state = StateScanning
	s.arm()

	s.logger.WithFields(logrus.Fields{
		"timeout":   s.opts.Timeout,
		"auto_sync": s.opts.AutoSync,
	}).Info("Scanning for peripherals")
	return nil
}

// HandleAdvertisement records the advertiser and, in auto-sync mode, promotes
// it when its name carries a brand token. Returns the promoted peripheral, if
// any, and whether the device list changed (new advertiser or backfilled name).
func (s *Session) HandleAdvertisement(adv device.Advertisement) (*device.DiscoveredDevice, bool) {
	if s.state != StateScanning || adv == nil {
		return nil, false
	}

	id := adv.Addr()
	if id == "" || !s.include(id, adv.RSSI()) {
		return nil, false
	}

	name := strings.TrimSpace(adv.LocalName())
	dev, exists := s.devices.Get(id)
	changed := !exists
	switch {
	case !exists:
		dev = device.DiscoveredDevice{ID: id, Name: name, RSSI: adv.RSSI()}
		s.devices.Set(id, dev)
		s.logger.WithFields(logrus.Fields{
			"device":  dev.DisplayName(),
			"address": id,
			"rssi":    dev.RSSI,
		}).Debug("Discovered peripheral")
	case dev.Name == "" && name != "":
		// names often arrive only in the scan response
		dev.Name = name
		s.devices.Set(id, dev)
		changed = true
	}

	if !s.opts.AutoSync || !MatchesBrand(name, s.opts.NameTokens) {
		return nil, changed
	}

	s.disarm()
	s.stopScan()
	s.state = StateDeviceFound
	candidate := dev
	s.candidate = &candidate

	s.logger.WithFields(logrus.Fields{
		"device":  candidate.DisplayName(),
		"address": candidate.ID,
		"rssi":    candidate.RSSI,
	}).Info("Target peripheral found")
	return s.candidate, changed
}

// HandleTimeout expires the scan if generation is still current.
// Returns true when the session moved to TimedOut.
func (s *Session) HandleTimeout(generation uint64) bool {
	if s.state != StateScanning || generation != s.Generation() {
		return false
	}

	s.disarm()
	s.stopScan()
	s.state = StateTimedOut
	s.err = fmt.Errorf("%w after %s", ErrScanTimeout, s.opts.Timeout)

	s.logger.WithField("device_count", s.devices.Len()).Warn("Scan timed out without a target peripheral")
	return true
}

// HandlePowerState moves a scanning session to Unavailable as soon as the
// radio leaves the powered on state. Returns true on transition.
func (s *Session) HandlePowerState(state device.PowerState) bool {
	if s.state != StateScanning || state == device.StatePoweredOn {
		return false
	}
	s.disarm()
	_ = s.unavailable(device.NewRadioError(state, "scan interrupted"))
	return true
}

// HandleScanStopped handles a scan that ended without being asked to.
// Returns true on transition.
func (s *Session) HandleScanStopped(err error) bool {
	if s.state != StateScanning || err == nil {
		return false
	}
	s.disarm()

	err = device.NormalizeError(err)
	if errors.Is(err, device.ErrRadioUnavailable) {
		_ = s.unavailable(err)
		return true
	}

	s.state = StateCancelled
	s.err = err
	s.logger.WithError(err).Warn("Scan stopped unexpectedly")
	return true
}

// Stop cancels a running scan. Valid only from Scanning.
func (s *Session) Stop() error {
	if s.state != StateScanning {
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidState, s.state)
	}
	s.disarm()
	s.stopScan()
	s.state = StateCancelled
	s.logger.Debug("Scan cancelled")
	return nil
}

func (s *Session) unavailable(err error) error {
	s.state = StateUnavailable
	s.err = err
	s.logger.WithFields(logrus.Fields{
		"state": device.StateFromError(err),
		"error": err,
	}).Error("Radio unavailable")
	return err
}

func (s *Session) stopScan() {
	if err := s.radio.StopScan(); err != nil {
		s.logger.WithError(err).Debug("Stop scan failed")
	}
}

// arm starts a timer tagged with a fresh generation
func (s *Session) arm() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.generation++
	if s.opts.Timeout <= 0 || s.onTimeout == nil {
		return
	}

	gen := s.generation
	fire := s.onTimeout
	s.timer = time.AfterFunc(s.opts.Timeout, func() { fire(gen) })
}

// disarm stops the pending timer and invalidates its generation so a
// callback already in flight is ignored by HandleTimeout.
func (s *Session) disarm() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

func (s *Session) include(id string, rssi int) bool {
	for _, blocked := range s.opts.BlockList {
		if strings.EqualFold(id, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) > 0 {
		allowed := false
		for _, a := range s.opts.AllowList {
			if strings.EqualFold(id, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return s.opts.MinRSSI == 0 || rssi >= s.opts.MinRSSI
}

// MatchesBrand reports whether name contains any token, ignoring case
func MatchesBrand(name string, tokens []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token != "" && strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
