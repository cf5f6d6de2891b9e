package serialport

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakePort implements serial.Port for testing the worker read loop without
// hardware. Reads drain a buffer fed by AddData; an empty buffer behaves
// like a timed-out read (0, nil) unless a read error is armed.
type fakePort struct {
	mu         sync.Mutex
	buf        []byte
	readErr    error
	timeoutErr error
	blockReads bool
	closed     bool
	timeout    time.Duration
	readGaps   int
}

func newFakePort() *fakePort {
	return &fakePort{}
}

func (p *fakePort) AddData(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
}

func (p *fakePort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// FailSetReadTimeout makes SetReadTimeout return err, modelling a driver
// that cannot do bounded reads.
func (p *fakePort) FailSetReadTimeout(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeoutErr = err
}

// BlockReads makes Read hang until the port is closed, like a quiet device
// with no read timeout configured.
func (p *fakePort) BlockReads() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockReads = true
}

func (p *fakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.blockReads && !p.closed {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
	}
	if p.closed {
		return 0, io.EOF
	}
	if p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	if len(p.buf) == 0 {
		p.readGaps++
		p.mu.Unlock()
		time.Sleep(time.Millisecond) // stand in for the read timeout
		p.mu.Lock()
		return 0, nil
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Write(b []byte) (int, error)                     { return len(b), nil }
func (p *fakePort) SetMode(mode *serial.Mode) error                 { return nil }
func (p *fakePort) Drain() error                                    { return nil }
func (p *fakePort) ResetInputBuffer() error                         { return nil }
func (p *fakePort) ResetOutputBuffer() error                        { return nil }
func (p *fakePort) SetDTR(dtr bool) error                           { return nil }
func (p *fakePort) SetRTS(rts bool) error                           { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeoutErr != nil {
		return p.timeoutErr
	}
	p.timeout = t
	return nil
}
func (p *fakePort) Break(time.Duration) error                       { return nil }

// fakeOpener returns an Opener serving the given port, or failing with err.
func fakeOpener(port serial.Port, err error) Opener {
	return func(name string, mode *serial.Mode) (serial.Port, error) {
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

var errDeviceGone = errors.New("device reports readiness to read but returned no data")
