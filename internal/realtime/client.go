// Package realtime implements the agent's side of the coordination
// protocol: session bootstrap, the socket handshake, the application
// heartbeat that turns distance samples into persisted warnings, and remote
// command dispatch.
//
// The client deliberately does not reconnect after a socket error: the
// process is restarted instead. See DESIGN.md.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/rangewarn/internal/config"
	"github.com/banshee-data/rangewarn/internal/httputil"
	"github.com/banshee-data/rangewarn/internal/netinfo"
	"github.com/banshee-data/rangewarn/internal/session"
	"github.com/banshee-data/rangewarn/internal/store"
	"github.com/banshee-data/rangewarn/internal/timeutil"
	"github.com/banshee-data/rangewarn/internal/warning"
)

// State tracks the protocol connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeWaitingOpen
	StateRegistered
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeWaitingOpen:
		return "handshake"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// Acquisition is the slice of the acquisition manager the client drives in
// response to remote commands.
type Acquisition interface {
	Reload()
}

// Options wires the client's collaborators. Zero fields get production
// defaults.
type Options struct {
	Config   *config.Agent
	Store    *store.DB
	Sessions session.FileStore
	Acq      Acquisition

	HTTP  httputil.HTTPClient
	Clock timeutil.Clock
	Dial  Dialer
	// Exit terminates the process; the reboot command uses it.
	Exit func(code int)
	// Rand returns a uniform value in [0,1) for simulated distances.
	Rand func() float64
}

// Client owns the realtime protocol state machine.
type Client struct {
	cfg      *config.Agent
	db       *store.DB
	sessions session.FileStore
	acq      Acquisition
	http     httputil.HTTPClient
	clock    timeutil.Clock
	dial     Dialer
	exit     func(int)
	randFn   func() float64

	mu               sync.Mutex
	state            State
	sess             session.Session
	haveSavedSession bool
	registered       bool
	errorSim         bool
	serialLive       bool
	distance         float64
	conn             Conn

	obsMu     sync.Mutex
	observers map[string]chan warning.Record
}

// NewClient creates a client. Options.Config and Options.Store are
// required; everything else defaults to the production implementation.
func NewClient(opts Options) *Client {
	c := &Client{
		cfg:       opts.Config,
		db:        opts.Store,
		sessions:  opts.Sessions,
		acq:       opts.Acq,
		http:      opts.HTTP,
		clock:     opts.Clock,
		dial:      opts.Dial,
		exit:      opts.Exit,
		randFn:    opts.Rand,
		observers: make(map[string]chan warning.Record),
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.dial == nil {
		c.dial = DialSocket
	}
	if c.exit == nil {
		c.exit = os.Exit
	}
	if c.randFn == nil {
		c.randFn = rand.Float64
	}
	return c
}

// SetAcquisition wires the acquisition manager. The client and the manager
// reference each other, so one side attaches after construction.
func (c *Client) SetAcquisition(acq Acquisition) {
	c.mu.Lock()
	c.acq = acq
	c.mu.Unlock()
}

// SetSerialLive implements acquisition.StateSink.
func (c *Client) SetSerialLive(live bool) {
	c.mu.Lock()
	c.serialLive = live
	c.mu.Unlock()
	log.Printf("serial source live: %v", live)
}

// UpdateDistance implements acquisition.StateSink. The last value wins; the
// heartbeat reads whatever is current at tick time.
func (c *Client) UpdateDistance(distance float64) {
	c.mu.Lock()
	c.distance = distance
	c.mu.Unlock()
}

// SetErrorSimulation gates whether heartbeat responses produce warnings.
func (c *Client) SetErrorSimulation(on bool) {
	c.mu.Lock()
	c.errorSim = on
	c.mu.Unlock()
}

// ErrorSimulation reports the current gate state.
func (c *Client) ErrorSimulation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorSim
}

// State returns the protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the bootstrap session, zero until Run has bootstrapped.
func (c *Client) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Subscribe registers an observer for persisted warnings. Deliveries are
// best-effort: a slow observer misses records rather than stalling the
// heartbeat.
func (c *Client) Subscribe() (string, <-chan warning.Record) {
	id := uuid.NewString()
	ch := make(chan warning.Record, 8)
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel.
func (c *Client) Unsubscribe(id string) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	if ch, ok := c.observers[id]; ok {
		close(ch)
		delete(c.observers, id)
	}
}

func (c *Client) notify(rec warning.Record) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for _, ch := range c.observers {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Run bootstraps the session, connects the socket, and services frames
// until the context is cancelled or the socket fails. A socket error is
// terminal: the caller restarts the process rather than reconnecting.
func (c *Client) Run(ctx context.Context) error {
	prev, hadSession := c.sessions.Load()

	c.setState(StateConnecting)
	sess, err := session.Bootstrap(ctx, c.http, c.cfg, prev)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.mu.Lock()
	c.sess = sess
	c.haveSavedSession = hadSession
	c.mu.Unlock()

	// Persist the id only the first time it is learned so the server
	// keeps one session per device across restarts.
	if !hadSession {
		if err := c.sessions.Save(sess.ID); err != nil {
			log.Printf("failed to persist session id: %v", err)
		} else {
			c.mu.Lock()
			c.haveSavedSession = true
			c.mu.Unlock()
		}
	}

	conn, err := c.dial(ctx, c.cfg.GetSocketURL(), sess.ID)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	c.setState(StateHandshakeWaitingOpen)
	log.Printf("socket connected, awaiting handshake")

	for {
		msg, err := conn.ReadText(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			log.Printf("socket error: %v", err)
			return err
		}
		c.handleFrame(ctx, msg)
	}
}

// handleFrame services one text frame from the socket. Protocol errors are
// logged and the connection stays open.
func (c *Client) handleFrame(ctx context.Context, msg string) {
	switch {
	case strings.HasPrefix(msg, "42"):
		c.handleEvent(ctx, msg[2:])
	case strings.HasPrefix(msg, "40"):
		c.handleOpen(ctx)
	case strings.HasPrefix(msg, "0"):
		// Transport session open probe.
		c.send(ctx, "40")
	case msg == "2":
		// Transport keepalive, distinct from the application heartbeat.
		c.send(ctx, "3")
	case msg == "3":
		// Our own keepalive reply echoed back.
	default:
		log.Printf("unhandled frame: %q", msg)
	}
}

// handleOpen registers the device once the server acknowledges the
// namespace, then starts the application heartbeat.
func (c *Client) handleOpen(ctx context.Context) {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		return
	}
	c.registered = true
	sessID := c.sess.ID
	c.mu.Unlock()

	reg, err := json.Marshal([]any{"r", map[string]string{"n": sessID, "r": "dev"}})
	if err != nil {
		log.Printf("failed to encode registration: %v", err)
		return
	}
	c.send(ctx, "42"+string(reg))
	c.setState(StateRegistered)

	go c.heartbeatLoop(ctx)
	c.setState(StateRunning)
	log.Printf("registered with session %s", sessID)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.GetHeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *Client) sendHeartbeat(ctx context.Context) {
	c.send(ctx, `42["ping",{}]`)
}

func (c *Client) send(ctx context.Context, msg string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteText(ctx, msg); err != nil {
		log.Printf("failed to send frame %q: %v", msg, err)
	}
}

// handleEvent services one application event frame (the payload after the
// "42" prefix): a JSON array of [eventName, payload...].
func (c *Client) handleEvent(ctx context.Context, payload string) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &arr); err != nil || len(arr) == 0 {
		log.Printf("malformed event frame: %q", payload)
		return
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		log.Printf("malformed event name in frame: %q", payload)
		return
	}

	switch name {
	case "pong":
		c.handlePong()
	case "m":
		if len(arr) < 2 {
			log.Printf("command event without payload")
			return
		}
		cmd, err := decodeCommand(arr[1])
		if err != nil {
			log.Printf("failed to decode command: %v", err)
			return
		}
		c.dispatch(ctx, cmd)
	default:
		log.Printf("ignoring event %q", name)
	}
}

// handlePong is the response to our own heartbeat probe. When error
// simulation is on it produces one warning record: from the last live
// sample if a serial source is up, otherwise from a random distance.
func (c *Client) handlePong() {
	c.mu.Lock()
	if !c.errorSim {
		c.mu.Unlock()
		return
	}
	dist := c.distance
	if !c.serialLive {
		dist = 10 + c.randFn()*190 // uniform in [10, 200)
	}
	c.mu.Unlock()

	rec := warning.NewRecord(dist, c.clock.Now())
	if err := c.db.Insert(rec); err != nil {
		log.Printf("failed to persist warning: %v", err)
		return
	}
	c.notify(rec)
}

// dispatch applies one decoded remote command.
func (c *Client) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Name {
	case CmdSendLogs:
		log.Printf("uploading warning log")
		if err := c.uploadLogs(ctx); err != nil {
			log.Printf("upload failed: %v", err)
		}
	case CmdGetParameters:
		c.reportParameters()
	case CmdReboot:
		log.Printf("reboot command received")
		if err := c.db.Reset(); err != nil {
			log.Printf("failed to reset warning store: %v", err)
		}
		c.SetErrorSimulation(false)
		c.exit(0)
	case CmdSendMsgLog:
		log.Printf("server message: %s", cmd.Message)
	case CmdChangedParameters:
		log.Printf("error simulation enabled by server")
		c.SetErrorSimulation(true)
	case CmdPing:
		// Out-of-band heartbeat trigger.
		c.sendHeartbeat(ctx)
	case CmdRefresh:
		c.SetErrorSimulation(false)
		c.mu.Lock()
		acq := c.acq
		c.mu.Unlock()
		if acq != nil {
			acq.Reload()
		}
	default:
		log.Printf("unknown command: %q", cmd.Raw)
	}
}

// reportParameters logs the device identity the server asked for.
func (c *Client) reportParameters() {
	ip, mac, err := netinfo.Primary()
	if err != nil {
		log.Printf("failed to resolve network identity: %v", err)
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	log.Printf("device parameters: session=%s corps=%s location=%s ip=%s mac=%s",
		sess.ID, sess.CorpsID, sess.LocationID, ip, mac)
}

// Status is a point-in-time snapshot for the operator surface.
type Status struct {
	State           string  `json:"state"`
	ErrorSimulation bool    `json:"error_simulation"`
	SerialLive      bool    `json:"serial_live"`
	LastDistance    float64 `json:"last_distance"`
}

// Status snapshots the client's observable state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:           c.state.String(),
		ErrorSimulation: c.errorSim,
		SerialLive:      c.serialLive,
		LastDistance:    c.distance,
	}
}
