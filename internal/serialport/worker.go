// Package serialport reads line-delimited distance samples from a single
// serial device on its own goroutine. The worker never calls back into its
// owner: everything it observes is delivered as events on a channel, and the
// owner joins on Done() to know the device handle has been released.
package serialport

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// EventKind tags an Event emitted by a Worker.
type EventKind int

const (
	// Opened reports that the device was opened and the read loop started.
	Opened EventKind = iota
	// Distance carries one parsed distance sample.
	Distance
	// ParseError carries a line that did not parse as a float.
	ParseError
	// OpenFailed reports that the device could not be opened or could not
	// be configured for bounded reads; the worker exits without entering
	// the read loop.
	OpenFailed
)

// Event is one notification from the worker's read loop.
type Event struct {
	Kind     EventKind
	Port     string
	Distance float64
	Line     string
	Err      error
}

// Opener opens a serial device. Swapped out in tests so the worker can run
// against an in-memory port.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Config holds the worker's serial parameters. Zero values fall back to the
// sensor defaults: 115200 baud, 8N1, 100ms read timeout.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
	Open        Opener
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.Open == nil {
		c.Open = func(name string, mode *serial.Mode) (serial.Port, error) {
			return serial.Open(name, mode)
		}
	}
	return c
}

// Worker owns exactly one serial device. Create with NewWorker, call Start
// once, and drain Events until it closes. Stop is idempotent and
// non-blocking; the read timeout bounds how long the loop takes to notice it.
type Worker struct {
	portName string
	cfg      Config

	stopped atomic.Bool
	events  chan Event
	done    chan struct{}
}

// NewWorker creates a worker for the named port. The port is not opened
// until Start.
func NewWorker(portName string, cfg Config) *Worker {
	return &Worker{
		portName: portName,
		cfg:      cfg.withDefaults(),
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the worker's event stream. The channel is closed when the
// read loop exits; consumers must drain it until then.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Done is closed after the device handle has been released.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop requests the read loop to exit. It does not block; the loop observes
// the flag within one read timeout.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// Start launches the read loop on its own goroutine.
func (w *Worker) Start() {
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)

	mode := &serial.Mode{
		BaudRate: w.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := w.cfg.Open(w.portName, mode)
	if err != nil {
		w.events <- Event{Kind: OpenFailed, Port: w.portName, Err: err}
		close(w.events)
		return
	}
	// A bounded read timeout keeps the loop responsive to Stop. Without it
	// a quiet device would block Read forever and Stop could never be
	// honored, so a failure here is fatal: release the handle and exit
	// before entering the loop, like a failed open.
	if err := port.SetReadTimeout(w.cfg.ReadTimeout); err != nil {
		port.Close()
		w.events <- Event{Kind: OpenFailed, Port: w.portName, Err: fmt.Errorf("failed to set read timeout: %w", err)}
		close(w.events)
		return
	}
	w.events <- Event{Kind: Opened, Port: w.portName}

	buf := make([]byte, 256)
	var acc []byte
	for !w.stopped.Load() {
		n, err := port.Read(buf)
		if err != nil {
			// Device-level failure (removed, read error): the loop
			// self-terminates, the only exit path besides Stop.
			w.stopped.Store(true)
			break
		}
		if n == 0 {
			continue // read timeout, re-check the stop flag
		}
		acc = append(acc, buf[:n]...)
		acc = w.processBuffer(acc)
	}

	port.Close()
	close(w.events)
}

// processBuffer emits an event per complete line in acc and returns the
// unconsumed tail.
func (w *Worker) processBuffer(acc []byte) []byte {
	for {
		idx := bytes.IndexByte(acc, '\n')
		if idx < 0 {
			return acc
		}
		line := bytes.TrimSpace(acc[:idx])
		acc = acc[idx+1:]

		dist, err := strconv.ParseFloat(string(line), 64)
		if err != nil {
			w.events <- Event{Kind: ParseError, Port: w.portName, Line: string(line), Err: err}
			continue
		}
		w.events <- Event{Kind: Distance, Port: w.portName, Distance: dist}
	}
}
