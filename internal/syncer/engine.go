// Package syncer runs a wearable sync: discovery, the GATT handshake, decoding
// and persistence, behind two commands and three observables.
//
// All state transitions happen on a single event loop goroutine (Run). Radio
// callbacks, scan and handshake timers and store completions are posted into
// one queue; commands apply their transitions under the same mutex. Sessions
// are single-use: every StartSync builds fresh discovery and connection
// sessions, and terminal statuses always clear the in-progress flag.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/connection"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/discovery"
	"github.com/srg/ringsync/internal/groutine"
	"github.com/srg/ringsync/internal/ringchan"
	"github.com/srg/ringsync/internal/sample"
	"github.com/srg/ringsync/internal/store"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrUnknownDevice  = errors.New("unknown device")
	ErrEngineClosed   = errors.New("sync engine closed")
	ErrAlreadyRunning = errors.New("sync engine already running")
)

// Publisher is notified after a sample has been stored
type Publisher interface {
	Publish(ctx context.Context, peripheral device.DiscoveredDevice, s sample.BiometricSample) error
}

// Options configures an Engine
type Options struct {
	Discovery  discovery.Options
	Connection connection.Options

	// HandshakeTimeout bounds connect through first value; zero disables it
	HandshakeTimeout time.Duration

	// QueueSize is the event queue capacity
	QueueSize int

	Publisher Publisher
	// PublishTimeout bounds a single publish; zero leaves it to the publisher
	PublishTimeout time.Duration
}

// DefaultOptions returns auto-sync discovery with a 30s handshake bound
func DefaultOptions() Options {
	return Options{
		Discovery:        discovery.DefaultOptions(),
		HandshakeTimeout: 30 * time.Second,
		QueueSize:        256,
		PublishTimeout:   10 * time.Second,
	}
}

type loopEventKind int

const (
	loopRadio loopEventKind = iota
	loopScanTimeout
	loopHandshakeTimeout
	loopStoreDone
	loopCancel
)

type loopEvent struct {
	kind  loopEventKind
	radio device.Event

	// timer and cancel events carry the session they were armed for
	generation uint64
	discovery  *discovery.Session
	conn       *connection.Session
	syncID     uint64

	peripheral device.DiscoveredDevice
	sample     sample.BiometricSample
	err        error
}

// Engine is the sync core
type Engine struct {
	radio  device.Radio
	store  store.Store
	codec  sample.Codec
	opts   Options
	logger *logrus.Logger

	queue   chan loopEvent
	done    chan struct{}
	stopped chan struct{}
	running atomic.Bool
	closed  atomic.Bool
	syncing atomic.Bool
	group   groutine.Group

	mu             sync.Mutex
	runCtx         context.Context
	cancel         context.CancelFunc
	writer         *store.Writer
	status         Status
	devices        []device.DiscoveredDevice
	lastSynced     *sample.BiometricSample
	discovery      *discovery.Session
	autoSync       bool
	conn           *connection.Session
	syncID         uint64
	syncDone       chan struct{}
	handshakeTimer *time.Timer
	handshakeGen   uint64

	obsMu     sync.Mutex
	observers map[int]*ringchan.RingChannel[Status]
	nextObs   int
}

// New creates an engine and installs its radio event handler.
// The engine does nothing until Run is called.
func New(radio device.Radio, st store.Store, codec sample.Codec, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}

	e := &Engine{
		radio:     radio,
		store:     st,
		codec:     codec,
		opts:      opts,
		logger:    logger,
		queue:     make(chan loopEvent, opts.QueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		status:    Status{Kind: StatusIdle, At: time.Now()},
		observers: make(map[int]*ringchan.RingChannel[Status]),
	}
	radio.SetHandler(e.onRadioEvent)
	return e
}

// Run processes events until ctx is cancelled or Close is called.
// Pending store writes are drained before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(e.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := store.NewWriter(context.WithoutCancel(ctx), e.store, e.logger)

	e.mu.Lock()
	e.runCtx = ctx
	e.cancel = cancel
	e.writer = writer
	e.mu.Unlock()

	e.logger.WithField("codec", e.codec.Name()).Debug("Sync engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-e.done:
			e.shutdown()
			return nil
		case ev := <-e.queue:
			e.dispatch(ev)
		}
	}
}

// Close stops the event loop and releases the radio. Safe to call more than once.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if e.running.Load() && cancel != nil {
		cancel()
		<-e.stopped
	} else {
		e.shutdown()
	}
	e.group.Wait()
}

// StartSync begins an auto-sync: scan, promote the first brand-matching
// peripheral, connect, decode and store. Returns ErrSyncInProgress when a sync
// is already running. Cancelling ctx aborts the sync.
func (e *Engine) StartSync(ctx context.Context) error {
	return e.start(ctx, true)
}

// Scan collects advertising peripherals for manual selection until the scan
// timeout elapses. It shares the in-progress flag with StartSync.
func (e *Engine) Scan(ctx context.Context) error {
	return e.start(ctx, false)
}

func (e *Engine) start(ctx context.Context, autoSync bool) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.syncID++
	e.syncDone = make(chan struct{})
	e.watch(ctx, e.syncID, e.syncDone)

	e.conn = nil
	e.devices = nil
	e.autoSync = autoSync

	opts := e.opts.Discovery
	opts.AutoSync = autoSync
	var session *discovery.Session
	session = discovery.New(e.radio, opts, func(gen uint64) {
		e.post(loopEvent{kind: loopScanTimeout, generation: gen, discovery: session})
	}, e.logger)
	e.discovery = session

	if err := session.Start(); err != nil {
		if session.State() == discovery.StateUnavailable {
			e.setStatusLocked(Status{Kind: StatusUnavailable, Reason: device.StateFromError(err).String(), Err: err})
		} else {
			e.setStatusLocked(Failed(ReasonScanFailed, err))
		}
		return err
	}

	e.setStatusLocked(Status{Kind: StatusScanning})
	return nil
}

// ConnectToDevice connects to a peripheral from DiscoveredDevices, stopping a
// running scan first.
func (e *Engine) ConnectToDevice(id string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dev, ok := e.lookupLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	scanning := e.discovery != nil && e.discovery.State() == discovery.StateScanning
	switch {
	case scanning:
		// the running scan already holds the in-progress flag
		_ = e.discovery.Stop()
	case !e.syncing.CompareAndSwap(false, true):
		return ErrSyncInProgress
	default:
		e.syncID++
		e.syncDone = make(chan struct{})
	}

	e.beginConnectLocked(dev)
	return nil
}

// Status returns the current sync status
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Syncing reports whether a scan or sync is in progress
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// DiscoveredDevices returns the peripherals seen by the latest scan in first-seen order
func (e *Engine) DiscoveredDevices() []device.DiscoveredDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]device.DiscoveredDevice, len(e.devices))
	copy(out, e.devices)
	return out
}

// LastSyncedSample returns the most recently stored sample, or nil
func (e *Engine) LastSyncedSample() *sample.BiometricSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSynced == nil {
		return nil
	}
	c := e.lastSynced.Clone()
	return &c
}

// Subscribe registers a status observer. The channel keeps only the newest
// buffer statuses when the observer falls behind. Call the returned func to
// unsubscribe.
func (e *Engine) Subscribe(buffer int) (<-chan Status, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	rc := ringchan.New[Status](buffer)

	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = rc
	e.obsMu.Unlock()

	return rc.C(), func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
		rc.Close()
	}
}

// onRadioEvent is the radio handler; it only enqueues
func (e *Engine) onRadioEvent(ev device.Event) {
	e.post(loopEvent{kind: loopRadio, radio: ev})
}

// post enqueues ev for the loop. Returns false once the loop has stopped.
func (e *Engine) post(ev loopEvent) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.queue <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) dispatch(ev loopEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.kind {
	case loopRadio:
		e.handleRadioLocked(ev.radio)
	case loopScanTimeout:
		if ev.discovery == e.discovery && e.discovery.HandleTimeout(ev.generation) {
			e.discoveryEndedLocked()
		}
	case loopHandshakeTimeout:
		if ev.conn == e.conn && ev.generation == e.handshakeGen {
			if res := e.conn.Abort(connection.ReasonHandshakeTimeout, device.ErrHandshakeIncomplete); res != nil {
				e.finishHandshakeLocked(res)
			}
		}
	case loopStoreDone:
		e.storeDoneLocked(ev)
	case loopCancel:
		if ev.syncID == e.syncID && e.syncing.Load() {
			e.cancelLocked()
		}
	}
}

func (e *Engine) handleRadioLocked(ev device.Event) {
	switch ev.Kind {
	case device.EventPowerState:
		e.powerChangedLocked(ev.Power)
	case device.EventAdvertisement:
		if e.discovery == nil {
			return
		}
		candidate, changed := e.discovery.HandleAdvertisement(ev.Advertisement)
		if changed {
			e.devices = e.discovery.Devices()
		}
		if candidate != nil {
			e.beginConnectLocked(*candidate)
		}
	case device.EventScanStopped:
		if e.discovery != nil && e.discovery.HandleScanStopped(ev.Err) {
			e.discoveryEndedLocked()
		}
	default:
		if e.conn == nil {
			return
		}
		res := e.conn.Handle(ev)
		if res != nil {
			e.finishHandshakeLocked(res)
			return
		}
		switch e.conn.State() {
		case connection.StateCharacteristicsDiscovering, connection.StateAwaitingValue:
			if e.status.Kind == StatusConnecting {
				e.setStatusLocked(Status{Kind: StatusAwaitingData})
			}
		}
	}
}

func (e *Engine) powerChangedLocked(state device.PowerState) {
	if state == device.StatePoweredOn {
		return
	}
	if e.discovery != nil && e.discovery.HandlePowerState(state) {
		e.discoveryEndedLocked()
		return
	}
	if e.conn != nil {
		if res := e.conn.Abort(state.String(), device.NewRadioError(state, "connection lost")); res != nil {
			e.finishHandshakeLocked(res)
		}
	}
}

// discoveryEndedLocked maps a terminal discovery state to a status
func (e *Engine) discoveryEndedLocked() {
	d := e.discovery
	e.devices = d.Devices()

	switch d.State() {
	case discovery.StateTimedOut:
		reason := ReasonNoDevice
		if !e.autoSync {
			reason = ReasonScanComplete
		}
		e.setStatusLocked(Status{Kind: StatusTimedOut, Reason: reason, Err: d.Err()})
	case discovery.StateUnavailable:
		e.setStatusLocked(Status{Kind: StatusUnavailable, Reason: device.StateFromError(d.Err()).String(), Err: d.Err()})
	case discovery.StateCancelled:
		e.setStatusLocked(Failed(ReasonScanFailed, d.Err()))
	}
}

func (e *Engine) beginConnectLocked(dev device.DiscoveredDevice) {
	conn := connection.New(e.radio, e.codec, e.opts.Connection, e.logger)
	e.conn = conn
	e.setStatusLocked(Status{Kind: StatusConnecting})
	e.armHandshakeLocked(conn)

	if err := conn.Connect(dev); err != nil {
		e.finishHandshakeLocked(conn.Result())
	}
}

func (e *Engine) armHandshakeLocked(conn *connection.Session) {
	e.stopHandshakeTimerLocked()
	if e.opts.HandshakeTimeout <= 0 {
		return
	}
	gen := e.handshakeGen
	e.handshakeTimer = time.AfterFunc(e.opts.HandshakeTimeout, func() {
		e.post(loopEvent{kind: loopHandshakeTimeout, generation: gen, conn: conn})
	})
}

func (e *Engine) stopHandshakeTimerLocked() {
	if e.handshakeTimer != nil {
		e.handshakeTimer.Stop()
		e.handshakeTimer = nil
	}
	e.handshakeGen++
}

func (e *Engine) finishHandshakeLocked(res *connection.Result) {
	e.stopHandshakeTimerLocked()

	if !res.OK() {
		if errors.Is(res.Err, device.ErrRadioUnavailable) {
			e.setStatusLocked(Status{Kind: StatusUnavailable, Reason: device.StateFromError(res.Err).String(), Err: res.Err})
			return
		}
		e.setStatusLocked(Failed(res.Reason, res.Err))
		return
	}

	if e.writer == nil {
		e.setStatusLocked(Failed(ReasonStoreError, ErrEngineClosed))
		return
	}

	// status stays AwaitingData until the write completes
	if e.status.Kind != StatusAwaitingData {
		e.setStatusLocked(Status{Kind: StatusAwaitingData})
	}

	peripheral, decoded := res.Peripheral, res.Sample.Clone()
	err := e.writer.Enqueue(decoded, func(err error) {
		ev := loopEvent{kind: loopStoreDone, peripheral: peripheral, sample: decoded, err: err}
		if !e.post(ev) {
			// shutdown is draining the writer; the loop is gone
			e.mu.Lock()
			e.storeDoneLocked(ev)
			e.mu.Unlock()
		}
	})
	if err != nil {
		e.setStatusLocked(Failed(ReasonStoreError, err))
	}
}

func (e *Engine) storeDoneLocked(ev loopEvent) {
	if ev.err != nil {
		e.setStatusLocked(Failed(ReasonStoreError, ev.err))
		return
	}

	stored := ev.sample.Clone()
	e.lastSynced = &stored
	e.setStatusLocked(Status{Kind: StatusSuccess})

	e.logger.WithFields(logrus.Fields{
		"device":  ev.peripheral.DisplayName(),
		"address": ev.peripheral.ID,
		"sample":  stored.String(),
	}).Info("Sample synced")

	if e.opts.Publisher != nil && e.runCtx != nil {
		// a publish in flight outlives Close, bounded by PublishTimeout
		ctx, pub := context.WithoutCancel(e.runCtx), e.opts.Publisher
		timeout := e.opts.PublishTimeout
		e.group.Go(ctx, "sample-publish", func(ctx context.Context) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := pub.Publish(ctx, ev.peripheral, stored); err != nil {
				e.logger.WithError(err).Warn("Sample publish failed")
			}
		})
	}
}

func (e *Engine) cancelLocked() {
	if e.discovery != nil && e.discovery.State() == discovery.StateScanning {
		_ = e.discovery.Stop()
		e.devices = e.discovery.Devices()
		e.setStatusLocked(Failed(ReasonCancelled, context.Canceled))
		return
	}
	if e.conn != nil {
		if res := e.conn.Abort(ReasonCancelled, context.Canceled); res != nil {
			e.finishHandshakeLocked(res)
		}
	}
}

// watch aborts the current sync when ctx ends first
func (e *Engine) watch(ctx context.Context, id uint64, syncDone <-chan struct{}) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	e.group.Go(ctx, "sync-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			e.post(loopEvent{kind: loopCancel, syncID: id})
		case <-syncDone:
		case <-e.done:
		}
	})
}

func (e *Engine) lookupLocked(id string) (device.DiscoveredDevice, bool) {
	if e.discovery != nil {
		if dev, ok := e.discovery.Lookup(id); ok {
			return dev, true
		}
	}
	for _, dev := range e.devices {
		if dev.ID == id {
			return dev, true
		}
	}
	return device.DiscoveredDevice{}, false
}

func (e *Engine) setStatusLocked(st Status) {
	if st.At.IsZero() {
		st.At = time.Now()
	}
	e.status = st

	fields := logrus.Fields{"state": st.Kind.String()}
	if st.Reason != "" {
		fields["reason"] = st.Reason
	}
	if st.Err != nil {
		fields["error"] = st.Err
	}
	e.logger.WithFields(fields).Debug("Sync status changed")

	if st.Kind.Terminal() {
		if e.syncDone != nil {
			close(e.syncDone)
			e.syncDone = nil
		}
		e.syncing.Store(false)
	}

	e.obsMu.Lock()
	for _, rc := range e.observers {
		rc.ForceSend(st)
	}
	e.obsMu.Unlock()
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	select {
	case <-e.done:
	default:
		close(e.done)
	}

	aborted := false
	if e.discovery != nil && e.discovery.State() == discovery.StateScanning {
		aborted = e.discovery.Stop() == nil
	}
	if e.conn != nil && e.conn.Abort(ReasonCancelled, ErrEngineClosed) != nil {
		aborted = true
	}
	e.stopHandshakeTimerLocked()
	if aborted {
		e.setStatusLocked(Failed(ReasonCancelled, ErrEngineClosed))
	}
	writer := e.writer
	e.writer = nil
	e.mu.Unlock()

	if writer != nil {
		writer.Close()
	}

	e.mu.Lock()
	e.drainStoreDoneLocked()
	if e.status.Kind == StatusAwaitingData {
		e.setStatusLocked(Failed(ReasonCancelled, ErrEngineClosed))
	}
	e.mu.Unlock()

	e.obsMu.Lock()
	for id, rc := range e.observers {
		rc.Close()
		delete(e.observers, id)
	}
	e.obsMu.Unlock()
}

// drainStoreDoneLocked applies store completions queued after the loop stopped.
// Everything else left in the queue is dropped.
func (e *Engine) drainStoreDoneLocked() {
	for {
		select {
		case ev := <-e.queue:
			if ev.kind == loopStoreDone {
				e.storeDoneLocked(ev)
			}
		default:
			return
		}
	}
}
