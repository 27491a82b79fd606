// internal/client/conn.go
package client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/protocol"
)

// Reconnection defaults, matching the lobby client's tuning.
const (
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 3

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// ErrRetriesExhausted is the terminal error surfaced once the bounded
// reconnection budget is spent. The Conn makes no further attempts; callers
// wanting a fresh budget must dial a new Conn.
var ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")

// ConnState is the lifecycle phase of a Conn.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// Handlers receives connection lifecycle and message events. OnMessage is
// invoked from a single goroutine, one frame at a time, in arrival order;
// a handler runs to completion before the next frame is delivered.
// OnOpen receives the live connection so handlers can transmit right
// away, before the Dial caller has even stored the returned handle.
type Handlers struct {
	OnOpen    func(c *Conn)
	OnMessage func(protocol.Message)
	OnClose   func()
	// OnError fires at most once, with ErrRetriesExhausted, when the
	// reconnection budget is spent. Individual transport failures are
	// retried silently.
	OnError func(err error)
}

// Config configures a Conn.
type Config struct {
	URL      string
	Handlers Handlers

	// ReconnectDelay is the fixed pause between reconnect attempts.
	// Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds automatic reconnection after an
	// unexpected close. Zero means DefaultMaxReconnectAttempts; a negative
	// value disables reconnection entirely.
	MaxReconnectAttempts int

	Logger *logrus.Logger
}

// Conn owns exactly one logical websocket channel to a room endpoint. It
// dials, feeds decoded frames to its subscriber, and retries a bounded
// number of times on unexpected closure. Close tears it down permanently;
// a Conn is not reusable after Close or after its retries are exhausted.
type Conn struct {
	cfg    Config
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state ConnState
	ws    *websocket.Conn
	err   error

	// runGID identifies the connection loop's goroutine, which also
	// invokes every handler callback. Close consults it so a handler
	// closing its own connection does not wait on itself.
	runGID atomic.Uint64

	done chan struct{}
}

// Dial creates a Conn and starts connecting to cfg.URL in the background.
// The returned handle is live immediately; observe progress via Handlers.
func Dial(cfg Config) *Conn {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// State reports the current lifecycle phase.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error, if any. Nil unless State is StateErrored.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send serializes msg and transmits it. If the connection is not open the
// frame is silently dropped; callers must not assume delivery.
func (c *Conn) Send(msg protocol.Message) {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || ws == nil {
		c.logger.Debugf("client: dropping %q frame, connection not open", msg.Type)
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Warnf("client: failed to encode %q frame: %v", msg.Type, err)
		return
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.logger.Warnf("client: write failed for %q frame: %v", msg.Type, err)
	}
}

// Close tears the connection down intentionally. No reconnection is
// attempted and no further handler callbacks fire after Close returns
// aside from the final OnClose. Safe to call more than once, and safe
// to call from inside a handler callback; in that case the loop unwinds
// once the callback returns instead of Close waiting for it.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateErrored {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "client leaving")
	}
	if goroutineID() == c.runGID.Load() {
		// Called from a handler on the connection loop's own goroutine;
		// waiting for done here would deadlock.
		return
	}
	<-c.done
}

// Done is closed once the connection loop has fully stopped, whether by
// Close or by exhausting its retries.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// run is the connection loop: dial, pump frames, and on unexpected closure
// wait a fixed delay and retry until the attempt budget is spent. It is the
// single goroutine that invokes Handlers, which serializes OnMessage.
func (c *Conn) run() {
	defer close(c.done)
	c.runGID.Store(goroutineID())

	attempts := 0
	for {
		ws, err := c.dialOnce()
		if err != nil {
			if c.closedIntentionally() {
				c.fireClose()
				return
			}
			attempts++
			c.logger.Warnf("client: dial %s failed (attempt %d/%d): %v",
				c.cfg.URL, attempts, c.cfg.MaxReconnectAttempts, err)
			if !c.waitRetry(attempts) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			// Close raced the dial; discard the fresh socket.
			c.mu.Unlock()
			_ = ws.Close(websocket.StatusNormalClosure, "client leaving")
			c.fireClose()
			return
		}
		c.ws = ws
		c.state = StateOpen
		c.mu.Unlock()

		attempts = 0
		if c.cfg.Handlers.OnOpen != nil {
			c.cfg.Handlers.OnOpen(c)
		}

		readErr := c.readLoop(ws)

		c.mu.Lock()
		intentional := c.state == StateClosed
		if !intentional {
			c.state = StateConnecting
			c.ws = nil
		}
		c.mu.Unlock()

		if intentional {
			c.fireClose()
			return
		}

		attempts++
		c.logger.Warnf("client: connection to %s lost (attempt %d/%d): %v",
			c.cfg.URL, attempts, c.cfg.MaxReconnectAttempts, readErr)
		if !c.waitRetry(attempts) {
			return
		}
	}
}

// dialOnce performs a single dial attempt with a bounded timeout.
func (c *Conn) dialOnce() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	return ws, err
}

// readLoop pumps frames until the socket closes, delivering decoded
// messages one at a time. Undecodable payloads are dropped and logged.
func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		typ, data, err := ws.Read(c.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.logger.Debugf("client: ignoring non-text frame type %d", typ)
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warnf("client: dropping malformed frame: %v", err)
			continue
		}
		if c.cfg.Handlers.OnMessage != nil {
			c.cfg.Handlers.OnMessage(msg)
		}
	}
}

// waitRetry sleeps out the fixed reconnect delay. It returns false once the
// budget is spent or the Conn was closed while waiting, after firing the
// appropriate terminal callbacks.
func (c *Conn) waitRetry(attempts int) bool {
	if c.cfg.MaxReconnectAttempts < 0 || attempts >= c.cfg.MaxReconnectAttempts {
		c.fail(ErrRetriesExhausted)
		return false
	}

	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		c.fireClose()
		return false
	case <-timer.C:
		return true
	}
}

// fail records the terminal error and notifies the subscriber.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		c.fireClose()
		return
	}
	c.state = StateErrored
	c.err = err
	c.mu.Unlock()

	c.logger.Errorf("client: %v (url %s)", err, c.cfg.URL)
	if c.cfg.Handlers.OnError != nil {
		c.cfg.Handlers.OnError(err)
	}
	c.fireClose()
}

func (c *Conn) closedIntentionally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

// fireClose notifies the subscriber the channel is gone. Every exit path of
// run reaches exactly one fireClose, so OnClose fires once per Conn.
func (c *Conn) fireClose() {
	if c.cfg.Handlers.OnClose != nil {
		c.cfg.Handlers.OnClose()
	}
}

// goroutineID parses the current goroutine's id from the runtime stack
// header ("goroutine N [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseUint(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}
