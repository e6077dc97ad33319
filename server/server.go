package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nchat/db"
	"nchat/models"
	"nchat/protocol"
)

type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRecordBytes int
	StoreWorkers   int
	ShutdownGrace  time.Duration
}

const (
	defaultStoreWorkers  = 8
	defaultShutdownGrace = 5 * time.Second
)

type Server struct {
	db       *db.DB
	config   Config
	log      zerolog.Logger
	registry *registry

	// notifIDs numbers server-initiated commands. Independent of any
	// client's id sequence; ids only need to be unique per direction.
	notifIDs *protocol.IDSource

	ln       net.Listener
	workers  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Stats is a snapshot for the admin surface.
type Stats struct {
	Connections int               `json:"connections"`
	Users       []models.UserName `json:"users"`
}

func New(database *db.DB, config Config, log zerolog.Logger) *Server {
	if config.StoreWorkers <= 0 {
		config.StoreWorkers = defaultStoreWorkers
	}
	if config.MaxRecordBytes <= 0 {
		config.MaxRecordBytes = protocol.DefaultMaxRecordBytes
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaultShutdownGrace
	}

	return &Server{
		db:       database,
		config:   config,
		log:      log,
		registry: newRegistry(),
		notifIDs: protocol.NewIDSource(),
		workers:  make(chan struct{}, config.StoreWorkers),
		done:     make(chan struct{}),
		conns:    make(map[*Conn]struct{}),
	}
}

// Listen binds the configured address without accepting yet, so callers
// can read the bound address when the config used port 0.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Shutdown. Listen must have been called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		c := s.newConn(conn)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.run()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Shutdown closes the listener, gives in-flight connection handlers the
// configured grace period, then force-closes what is left. Safe to call
// more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.log.Info().Msg("server shutting down")
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(s.config.ShutdownGrace):
			s.log.Warn().Msg("grace period expired, closing connections")
		}

		s.mu.Lock()
		for c := range s.conns {
			c.close()
		}
		s.mu.Unlock()
	})
}

// Done is closed when shutdown begins.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.conns)
	s.mu.Unlock()
	return Stats{Connections: n, Users: s.registry.Names()}
}

// withStore hands database work to a worker goroutine, bounded across
// all connections by the workers semaphore. The caller's read loop keeps
// draining frames while the task runs; replies re-enter the connection
// through its writer channel.
func (s *Server) withStore(task func()) {
	go func() {
		select {
		case s.workers <- struct{}{}:
		case <-s.done:
			return
		}
		defer func() { <-s.workers }()
		task()
	}()
}

// Conn is one client connection. Outbound commands go through a buffered
// channel drained by a dedicated writer goroutine, so routing a message
// to a slow peer never blocks the sender's handler.
type Conn struct {
	srv  *Server
	conn net.Conn
	log  zerolog.Logger

	out       chan protocol.Command
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	user *models.UserInfo
}

func (s *Server) newConn(conn net.Conn) *Conn {
	return &Conn{
		srv:  s,
		conn: conn,
		log:  s.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		out:  make(chan protocol.Command, 16),
		done: make(chan struct{}),
	}
}

func (c *Conn) currentUser() *models.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Conn) setUser(u *models.UserInfo) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// send enqueues an outbound command. Drops it if the connection is
// closing.
func (c *Conn) send(cmd protocol.Command) {
	select {
	case c.out <- cmd:
	case <-c.done:
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Conn) run() {
	c.log.Debug().Msg("client connected")
	defer c.log.Debug().Msg("client disconnected")
	defer c.close()

	go c.writeLoop()
	c.readLoop()

	// the registry may have been rebound to a newer connection for the
	// same name; Unbind drops the name either way
	if user := c.currentUser(); user != nil {
		c.srv.registry.Unbind(user.Name)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case cmd := <-c.out:
			if c.srv.config.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
			}
			if err := protocol.WriteCommand(c.conn, cmd); err != nil {
				c.log.Warn().Err(err).Stringer("type", cmd.Type()).Msg("write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		if c.srv.config.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.srv.config.ReadTimeout))
		}
		f, err := protocol.ReadFrame(c.conn, c.srv.config.MaxRecordBytes)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}

		cmd, err := protocol.DecodeCommand(f)
		if err != nil {
			// unknown tags and malformed records cost one frame, not
			// the connection
			c.log.Warn().Err(err).Uint8("tag", f.Tag).Msg("dropping frame")
			continue
		}

		c.srv.dispatch(c, cmd)
	}
}

func (s *Server) dispatch(c *Conn, cmd protocol.Command) {
	user := c.currentUser()
	if user == nil {
		switch cmd.Type() {
		case protocol.TypeCreateAccount, protocol.TypeLogin, protocol.TypeExit:
		default:
			c.send(&protocol.Error{Id: cmd.ID(), Code: protocol.CodeNotLoggedIn, Description: "login required"})
			return
		}
	}

	switch cmd := cmd.(type) {
	case *protocol.CreateAccount:
		s.handleCreateAccount(c, cmd)
	case *protocol.ChangePassword:
		s.handleChangePassword(c, user, cmd)
	case *protocol.Login:
		s.handleLogin(c, cmd)
	case *protocol.Logout:
		s.handleLogout(c, user, cmd)
	case *protocol.Exit:
		s.handleExit(c, user)
	case *protocol.AddContactInvite:
		s.handleAddContactInvite(c, user, cmd)
	case *protocol.AddContactResponse:
		s.handleAddContactResponse(c, user, cmd)
	case *protocol.RemoveContact:
		s.handleRemoveContact(c, user, cmd)
	case *protocol.GetContactOfUsers:
		s.handleGetContactOfUsers(c, user, cmd)
	case *protocol.ChatMessage:
		s.handleChatMessage(c, user, cmd)
	case *protocol.GetPendingMessages:
		s.handleGetPendingMessages(c, user, cmd)
	case *protocol.ShutdownServer:
		s.handleShutdownServer(c, cmd)
	default:
		// response-type commands have no business arriving here
		c.send(&protocol.Error{Id: cmd.ID(), Code: protocol.CodeBadRequest, Description: "unknown command"})
	}
}
