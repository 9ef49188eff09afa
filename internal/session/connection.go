package session

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatline/app/internal/transport"
)

// ConnState is the push channel lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

var errConnClosed = errors.New("connection closed")

// Conn is one live websocket to the push endpoint. It decodes inbound
// frames, hands them to a single handler in arrival order, and redials
// with exponential backoff when the read side breaks. Malformed frames
// are dropped, not surfaced.
type Conn struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	handle func(transport.Event)
	log    *zap.SugaredLogger

	state  atomic.Int32
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(url, token string, handle func(transport.Event), log *zap.SugaredLogger) *Conn {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &Conn{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		handle: handle,
		log:    log,
		closed: make(chan struct{}),
	}
}

// open dials once and starts the read loop. Called exactly once per Conn.
func (c *Conn) open() error {
	c.setState(StateConnecting)
	ws, resp, err := c.dialer.Dial(c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return &transport.NetworkError{Op: "dial " + c.url, Err: err}
	}

	if !c.install(ws) {
		// Closed while the dial was in flight.
		return &transport.NetworkError{Op: "dial " + c.url, Err: errConnClosed}
	}

	go c.readLoop(ws)
	return nil
}

// install publishes a freshly dialed socket. Close may have run while
// the dial was in flight; the re-check and the ws swap share the mutex
// with Close, so exactly one side ends up closing the socket.
func (c *Conn) install(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		ws.Close()
		c.setState(StateDisconnected)
		return false
	}
	c.ws = ws
	c.setState(StateConnected)
	c.mu.Unlock()
	return true
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			if c.isClosed() {
				c.setState(StateDisconnected)
				return
			}
			c.log.Infow("push channel dropped, reconnecting", "error", err)
			ws = c.redial()
			if ws == nil {
				return
			}
			continue
		}

		ev, err := transport.DecodeEvent(data)
		if err != nil {
			c.log.Debugw("dropping malformed push frame", "frame", string(data))
			continue
		}
		c.handle(ev)
	}
}

// redial retries the dial until it succeeds or the Conn is closed.
func (c *Conn) redial() *websocket.Conn {
	c.setState(StateConnecting)

	var ws *websocket.Conn
	attempt := func() error {
		if c.isClosed() {
			return backoff.Permanent(errConnClosed)
		}
		conn, resp, err := c.dialer.Dial(c.url, c.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until closed
	if err := backoff.Retry(attempt, policy); err != nil {
		c.setState(StateDisconnected)
		return nil
	}

	if !c.install(ws) {
		return nil
	}
	return ws
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		c.setState(StateDisconnected)
	})
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
