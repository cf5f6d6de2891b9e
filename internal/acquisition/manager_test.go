package acquisition

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/rangewarn/internal/serialport"
)

// recordSink captures everything the manager pushes at its collaborator.
type recordSink struct {
	mu        sync.Mutex
	live      []bool
	distances []float64
}

func (s *recordSink) SetSerialLive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = append(s.live, v)
}

func (s *recordSink) UpdateDistance(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distances = append(s.distances, d)
}

func (s *recordSink) lastLive() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.live) == 0 {
		return false, false
	}
	return s.live[len(s.live)-1], true
}

func (s *recordSink) allDistances() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.distances))
	copy(out, s.distances)
	return out
}

// stubPort is a minimal serial.Port whose reads return canned data once and
// then behave like timeouts.
type stubPort struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (p *stubPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if len(p.data) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func (p *stubPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *stubPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *stubPort) Write(b []byte) (int, error)                          { return len(b), nil }
func (p *stubPort) SetMode(mode *serial.Mode) error                      { return nil }
func (p *stubPort) Drain() error                                         { return nil }
func (p *stubPort) ResetInputBuffer() error                              { return nil }
func (p *stubPort) ResetOutputBuffer() error                             { return nil }
func (p *stubPort) SetDTR(bool) error                                    { return nil }
func (p *stubPort) SetRTS(bool) error                                    { return nil }
func (p *stubPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *stubPort) SetReadTimeout(time.Duration) error                   { return nil }
func (p *stubPort) Break(time.Duration) error                            { return nil }

// trackingOpener records every port it hands out so tests can verify
// exclusive ownership across transitions.
type trackingOpener struct {
	mu      sync.Mutex
	ports   []*stubPort
	nextErr error
	data    string
}

func (o *trackingOpener) open(name string, mode *serial.Mode) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.nextErr != nil {
		err := o.nextErr
		o.nextErr = nil
		return nil, err
	}
	// Every previously handed-out port must already be closed: the OS
	// handle is exclusive.
	for _, p := range o.ports {
		if !p.isClosed() {
			return nil, errors.New("previous handle still open")
		}
	}
	p := &stubPort{data: []byte(o.data)}
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *trackingOpener) openCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ports)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(sink *recordSink, opener *trackingOpener, opts Options) *Manager {
	opts.Serial = serialport.Config{Open: opener.open, ReadTimeout: time.Millisecond}
	if opts.ListPorts == nil {
		opts.ListPorts = func() ([]string, error) { return []string{"COM1", "COM2"}, nil }
	}
	return NewManager(sink, opts)
}

func TestSinglePortLifecycle(t *testing.T) {
	sink := &recordSink{}
	opener := &trackingOpener{data: "12.5\n33.1\n"}

	var openedEvents, closedEvents int
	var evMu sync.Mutex
	m := newTestManager(sink, opener, Options{
		OnAnyOpened: func() { evMu.Lock(); openedEvents++; evMu.Unlock() },
		OnAllClosed: func() { evMu.Lock(); closedEvents++; evMu.Unlock() },
	})

	m.SetSinglePort("COM1")
	waitFor(t, "port to open", func() bool { return m.OpenCount() == 1 })
	waitFor(t, "distances to arrive", func() bool { return len(sink.allDistances()) == 2 })

	if live, ok := sink.lastLive(); !ok || !live {
		t.Error("sentinel should report a live serial source while the port is open")
	}
	got := sink.allDistances()
	if got[0] != 12.5 || got[1] != 33.1 {
		t.Errorf("distances = %v, want [12.5 33.1]", got)
	}

	m.SetIdle()
	if m.OpenCount() != 0 {
		t.Errorf("open count after SetIdle = %d, want 0", m.OpenCount())
	}
	if m.Mode() != ModeIdle {
		t.Errorf("mode = %v, want idle", m.Mode())
	}
	if live, _ := sink.lastLive(); live {
		t.Error("sentinel should be down after SetIdle")
	}
	evMu.Lock()
	defer evMu.Unlock()
	if openedEvents != 1 {
		t.Errorf("any-port-opened fired %d times, want 1", openedEvents)
	}
	if closedEvents == 0 {
		t.Error("all-ports-closed never fired")
	}
}

func TestTransitionsNeverOverlapHandles(t *testing.T) {
	sink := &recordSink{}
	opener := &trackingOpener{}
	m := newTestManager(sink, opener, Options{})

	// trackingOpener fails the open if any earlier handle is still held,
	// so a pile of transitions doubles as the exclusivity check.
	m.SetSinglePort("COM1")
	waitFor(t, "first open", func() bool { return m.OpenCount() == 1 })
	m.SetSinglePort("COM2")
	waitFor(t, "second open", func() bool { return m.OpenCount() == 1 })
	m.Reload()
	waitFor(t, "reload open", func() bool { return m.OpenCount() == 1 })
	m.SetSimulation()

	if calls := opener.openCalls(); calls != 3 {
		t.Errorf("opener called %d times, want 3", calls)
	}
	if m.OpenCount() != 0 {
		t.Errorf("open count after simulation = %d, want 0", m.OpenCount())
	}
}

func TestEmptyPortNameIsNoopMode(t *testing.T) {
	sink := &recordSink{}
	opener := &trackingOpener{}

	closed := make(chan struct{}, 4)
	m := newTestManager(sink, opener, Options{
		OnAllClosed: func() { closed <- struct{}{} },
	})

	m.SetSinglePort("")

	select {
	case <-closed:
	default:
		t.Error("empty port name should fire all-ports-closed immediately")
	}
	if opener.openCalls() != 0 {
		t.Error("no worker should be created for an empty port name")
	}
	if live, ok := sink.lastLive(); !ok || live {
		t.Error("sentinel should be down in the empty-port no-op mode")
	}
	if m.Mode() != ModeSinglePort {
		t.Errorf("mode = %v, want single", m.Mode())
	}
}

func TestSimulationAndIdleAlwaysReportClosed(t *testing.T) {
	for _, tc := range []struct {
		name string
		set  func(m *Manager)
		mode Mode
	}{
		{"simulation", func(m *Manager) { m.SetSimulation() }, ModeSimulation},
		{"idle", func(m *Manager) { m.SetIdle() }, ModeIdle},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordSink{}
			var closed int
			var mu sync.Mutex
			m := newTestManager(sink, &trackingOpener{}, Options{
				OnAllClosed: func() { mu.Lock(); closed++; mu.Unlock() },
			})

			// No worker was ever active; the notification fires anyway.
			tc.set(m)

			mu.Lock()
			defer mu.Unlock()
			if closed != 1 {
				t.Errorf("all-ports-closed fired %d times, want 1", closed)
			}
			if live, ok := sink.lastLive(); !ok || live {
				t.Error("sentinel must be down outside single-port mode")
			}
			if m.Mode() != tc.mode {
				t.Errorf("mode = %v, want %v", m.Mode(), tc.mode)
			}
		})
	}
}

func TestOpenFailureKeepsCountAtZero(t *testing.T) {
	sink := &recordSink{}
	opener := &trackingOpener{nextErr: errors.New("resource unavailable")}

	closed := make(chan struct{}, 4)
	m := newTestManager(sink, opener, Options{
		OnAllClosed: func() { closed <- struct{}{} },
	})

	m.SetSinglePort("COM1")

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("all-ports-closed did not fire after a failed open")
	}
	if m.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0 after failed open", m.OpenCount())
	}
	if live, _ := sink.lastLive(); live {
		t.Error("sentinel must stay down after a failed open")
	}
}

func TestSetModeIdempotent(t *testing.T) {
	sink := &recordSink{}
	opener := &trackingOpener{}
	m := newTestManager(sink, opener, Options{})

	m.SetSinglePort("COM1")
	waitFor(t, "first open", func() bool { return m.OpenCount() == 1 })
	m.SetSinglePort("COM1")
	waitFor(t, "reopen", func() bool { return m.OpenCount() == 1 })

	if m.Mode() != ModeSinglePort {
		t.Errorf("mode = %v, want single", m.Mode())
	}
	if live, ok := sink.lastLive(); !ok || !live {
		t.Error("sentinel should be up after repeated SetSinglePort")
	}

	m.StopAll()
	m.StopAll()
	if m.OpenCount() != 0 {
		t.Errorf("open count after StopAll = %d, want 0", m.OpenCount())
	}
}

func TestAvailablePorts(t *testing.T) {
	sink := &recordSink{}
	m := newTestManager(sink, &trackingOpener{}, Options{
		ListPorts: func() ([]string, error) { return []string{"COM3"}, nil },
	})
	ports, err := m.AvailablePorts()
	if err != nil {
		t.Fatalf("AvailablePorts returned error: %v", err)
	}
	if len(ports) != 1 || ports[0] != "COM3" {
		t.Errorf("ports = %v, want [COM3]", ports)
	}
}
