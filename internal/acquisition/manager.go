// Package acquisition owns the serial acquisition mode state machine. At
// most one serial worker is alive at any time: a mode transition always
// tears down the previous worker (stop, drain, join) before the new mode
// becomes observable, because the worker wraps an exclusive OS handle that
// cannot be opened twice.
package acquisition

import (
	"sync"

	"github.com/banshee-data/rangewarn/internal/monitoring"
	"github.com/banshee-data/rangewarn/internal/serialport"
)

// Mode is the acquisition subsystem's top-level state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSinglePort
	ModeSimulation
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSinglePort:
		return "single"
	case ModeSimulation:
		return "simulation"
	}
	return "unknown"
}

// StateSink receives the manager's liveness flag and the worker's distance
// samples. Implemented by the realtime client. Values are pushed, never
// pulled: the sink must tolerate a stale value between writes.
type StateSink interface {
	// SetSerialLive reports whether a real serial source is currently
	// supplying samples.
	SetSerialLive(live bool)
	// UpdateDistance overwrites the last-known distance sample.
	UpdateDistance(distance float64)
}

// Options configures a Manager.
type Options struct {
	// Serial is passed through to each worker the manager creates. Its
	// Open field is the injection point for hardware-free tests.
	Serial serialport.Config

	// OnAnyOpened fires when the open count transitions 0 -> 1.
	OnAnyOpened func()
	// OnAllClosed fires whenever the open count reaches (or stays at)
	// zero: on worker exit, and on entering Idle, Simulation, or
	// single-port mode with an empty port name.
	OnAllClosed func()

	// ListPorts enumerates host serial devices; defaults to
	// serialport.AvailablePorts.
	ListPorts func() ([]string, error)
}

// Manager owns zero-or-one serial workers and mediates mode switches.
type Manager struct {
	sink StateSink
	opts Options

	// transMu serializes whole mode transitions; mu guards the fields
	// below and is never held across a join.
	transMu sync.Mutex
	mu      sync.Mutex

	mode         Mode
	selectedPort string
	worker       *serialport.Worker
	consumed     chan struct{}
	openCount    int
}

// NewManager creates a manager in Idle mode. No worker is started.
func NewManager(sink StateSink, opts Options) *Manager {
	if opts.ListPorts == nil {
		opts.ListPorts = serialport.AvailablePorts
	}
	return &Manager{sink: sink, opts: opts}
}

// Mode returns the current acquisition mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// OpenCount returns how many ports are currently open (0 or 1).
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount
}

// AvailablePorts enumerates the host's serial devices. No side effects.
func (m *Manager) AvailablePorts() ([]string, error) {
	return m.opts.ListPorts()
}

// SetIdle stops any active worker and enters Idle mode.
func (m *Manager) SetIdle() {
	m.setMode(ModeIdle, "")
}

// SetSimulation stops any active worker and enters Simulation mode.
func (m *Manager) SetSimulation() {
	m.setMode(ModeSimulation, "")
}

// SetSinglePort stops any active worker and starts reading portName. An
// empty name is a no-op mode: no worker, liveness stays down, and the
// all-closed notification fires immediately.
func (m *Manager) SetSinglePort(portName string) {
	m.setMode(ModeSinglePort, portName)
}

// Reload tears down and recreates the current mode's worker.
func (m *Manager) Reload() {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()
	mode, port := m.mode, m.selectedPort
	m.mu.Unlock()

	m.clear()
	m.start(mode, port)
}

// StopAll stops and joins any active worker without changing the mode.
// Called on shutdown.
func (m *Manager) StopAll() {
	m.transMu.Lock()
	defer m.transMu.Unlock()
	m.clear()
}

func (m *Manager) setMode(mode Mode, port string) {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.clear()
	m.start(mode, port)
}

// clear stops the active worker, waits for its handle to be released, and
// waits for its event consumer to finish. The teardown half of every
// transition is synchronous: when clear returns, all counters have settled.
func (m *Manager) clear() {
	m.mu.Lock()
	w, consumed := m.worker, m.consumed
	m.worker, m.consumed = nil, nil
	m.mu.Unlock()

	if w == nil {
		return
	}
	w.Stop()
	<-w.Done()
	<-consumed
}

// start enters the new mode. The startup half is asynchronous: liveness
// arrives later via the worker's Opened event.
func (m *Manager) start(mode Mode, port string) {
	m.mu.Lock()
	m.mode = mode
	m.selectedPort = port
	m.openCount = 0
	m.mu.Unlock()

	if mode != ModeSinglePort || port == "" {
		m.reportAllClosed()
		return
	}

	m.sink.SetSerialLive(false) // down until the Opened event arrives

	w := serialport.NewWorker(port, m.opts.Serial)
	consumed := make(chan struct{})
	m.mu.Lock()
	m.worker = w
	m.consumed = consumed
	m.mu.Unlock()

	w.Start()
	go m.consume(w, consumed)
}

// consume dispatches one worker's events. It runs until the worker's event
// channel closes, then accounts for the worker's exit.
func (m *Manager) consume(w *serialport.Worker, consumed chan struct{}) {
	defer close(consumed)

	for ev := range w.Events() {
		switch ev.Kind {
		case serialport.Opened:
			m.handleOpened(ev.Port)
		case serialport.Distance:
			m.sink.UpdateDistance(ev.Distance)
		case serialport.ParseError:
			monitoring.Logf("parse error on %s: %q", ev.Port, ev.Line)
		case serialport.OpenFailed:
			monitoring.Logf("failed to open port %s: %v", ev.Port, ev.Err)
		}
	}
	m.handleFinished()
}

func (m *Manager) handleOpened(port string) {
	m.mu.Lock()
	m.openCount++
	first := m.openCount == 1
	m.mu.Unlock()

	monitoring.Logf("port opened: %s", port)
	if first {
		m.sink.SetSerialLive(true)
		if m.opts.OnAnyOpened != nil {
			m.opts.OnAnyOpened()
		}
	}
}

// handleFinished runs once per worker exit, whether it stopped, failed to
// open, or hit a device error. A failed open never incremented the count,
// so the decrement floors at zero rather than pairing signals.
func (m *Manager) handleFinished() {
	m.mu.Lock()
	if m.openCount > 0 {
		m.openCount--
	}
	allClosed := m.openCount == 0
	m.mu.Unlock()

	if allClosed {
		monitoring.Logf("all serial ports closed")
		m.reportAllClosed()
	}
}

func (m *Manager) reportAllClosed() {
	m.sink.SetSerialLive(false)
	if m.opts.OnAllClosed != nil {
		m.opts.OnAllClosed()
	}
}
