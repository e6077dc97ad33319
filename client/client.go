package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nchat/protocol"
)

// DefaultTimeout is the per-request timeout when the caller sets none.
// Effectively unbounded; interactive callers pass their own.
const DefaultTimeout = 1000000 * time.Second

var ErrClosed = errors.New("client: connection closed")

type Config struct {
	Addr           string
	DefaultTimeout time.Duration
	MaxRecordBytes int
}

// Callback receives the outcome of one request. Exactly one of
// OnResponse and OnTimeout fires, at most once.
type Callback struct {
	OnResponse func(protocol.Command)
	OnTimeout  func(id int32)
	Timeout    time.Duration
}

// Notifications receives server-initiated commands. These are classified
// by type before any id lookup, so they can never consume a pending
// request slot. Nil fields drop the corresponding notification.
type Notifications struct {
	OnContactInvite   func(*protocol.AddContactInvite)
	OnContactResponse func(*protocol.AddContactResponse)
	OnChatMessage     func(*protocol.ChatMessage)
}

type pendingCall struct {
	cb    Callback
	timer *time.Timer
}

// Client is one connection to the server. Safe for concurrent use.
type Client struct {
	conn   net.Conn
	config Config
	notif  Notifications
	log    zerolog.Logger
	ids    *protocol.IDSource

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int32]*pendingCall

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the configured address and starts the read loop.
func Dial(config Config, notif Notifications, log zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", config.Addr)
	if err != nil {
		return nil, err
	}
	return New(conn, config, notif, log), nil
}

// New wraps an established connection.
func New(conn net.Conn, config Config, notif Notifications, log zerolog.Logger) *Client {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeout
	}
	c := &Client{
		conn:    conn,
		config:  config,
		notif:   notif,
		log:     log,
		ids:     protocol.NewIDSource(),
		pending: make(map[int32]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// NextID returns a fresh correlation id for an outbound request.
func (c *Client) NextID() int32 {
	return c.ids.Next()
}

// Close tears down the connection. Pending callbacks never fire after
// Close returns the first time.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.mu.Lock()
		for id, p := range c.pending {
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send writes a command without expecting a response.
func (c *Client) Send(cmd protocol.Command) error {
	if c.closed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteCommand(c.conn, cmd)
}

// Call registers cb under the command's id, then writes the command.
// The id must come from NextID and not be reused while in flight.
func (c *Client) Call(cmd protocol.Command, cb Callback) error {
	if c.closed() {
		return ErrClosed
	}
	timeout := cb.Timeout
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	id := cmd.ID()
	p := &pendingCall{cb: cb}
	p.timer = time.AfterFunc(timeout, func() { c.expire(id) })

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.Send(cmd); err != nil {
		c.mu.Lock()
		if cur, ok := c.pending[id]; ok && cur == p {
			cur.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) expire(id int32) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok && p.cb.OnTimeout != nil {
		p.cb.OnTimeout(id)
	}
}

func (c *Client) readLoop() {
	for {
		cmd, err := protocol.ReadCommand(c.conn, c.config.MaxRecordBytes)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownCommand) {
				c.log.Warn().Err(err).Msg("dropping frame")
				continue
			}
			if !c.closed() {
				c.log.Debug().Err(err).Msg("read loop ended")
				c.Close()
			}
			return
		}

		// notifications are recognized by type, never by id: the server
		// numbers them from its own sequence which may collide with ours
		switch cmd := cmd.(type) {
		case *protocol.AddContactInvite:
			if c.notif.OnContactInvite != nil {
				c.notif.OnContactInvite(cmd)
			}
		case *protocol.AddContactResponse:
			if c.notif.OnContactResponse != nil {
				c.notif.OnContactResponse(cmd)
			}
		case *protocol.ChatMessage:
			if c.notif.OnChatMessage != nil {
				c.notif.OnChatMessage(cmd)
			}
		default:
			c.resolve(cmd)
		}
	}
}

func (c *Client) resolve(cmd protocol.Command) {
	c.mu.Lock()
	p, ok := c.pending[cmd.ID()]
	if ok {
		p.timer.Stop()
		delete(c.pending, cmd.ID())
	}
	c.mu.Unlock()

	if !ok {
		// late responses after a timeout land here
		c.log.Debug().Int32("id", cmd.ID()).Stringer("type", cmd.Type()).Msg("unmatched response")
		return
	}
	if p.cb.OnResponse != nil {
		p.cb.OnResponse(cmd)
	}
}
