package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gommo/server/internal/metrics"
)

// DisconnectSink receives the player-disconnect notification when an
// authenticated session dies. The simulation owns the player lifecycle,
// so the notification travels through its command queue.
type DisconnectSink interface {
	PushPlayerDisconnect(playerID, sessionID uint64)
}

// ServerConfig carries the listener knobs from the server config file.
type ServerConfig struct {
	BindAddr         string
	AcceptLoops      int
	MaxConns         int
	OutQueueSize     int
	PacketsPerSecond int
}

// Server accepts TCP connections and owns the session table. Inbound
// packets flow to the InboundSink; dead authenticated sessions are
// reported to the DisconnectSink.
type Server struct {
	listener net.Listener
	sessions *Manager

	sink InboundSink
	disc DisconnectSink

	nextID atomic.Uint64
	cfg    ServerConfig
	col    *metrics.Collector

	closeCh chan struct{}
	wg      sync.WaitGroup

	log *zap.Logger
}

func NewServer(cfg ServerConfig, sink InboundSink, disc DisconnectSink, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	if cfg.AcceptLoops < 1 {
		cfg.AcceptLoops = 1
	}
	return &Server{
		listener: ln,
		sessions: NewManager(),
		sink:     sink,
		disc:     disc,
		cfg:      cfg,
		closeCh:  make(chan struct{}),
		log:      log,
	}, nil
}

// SetMetrics attaches the session gauges. Call before Start.
func (s *Server) SetMetrics(col *metrics.Collector) {
	s.col = col
}

// Start launches the accept loops. Multiple goroutines accepting on one
// listener spreads connection setup across cores.
func (s *Server) Start() {
	for i := 0; i < s.cfg.AcceptLoops; i++ {
		s.wg.Add(1)
		go s.acceptLoop()
	}
	s.log.Info("listening",
		zap.String("addr", s.listener.Addr().String()),
		zap.Int("accept_loops", s.cfg.AcceptLoops),
		zap.Int("max_conns", s.cfg.MaxConns))
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		if s.cfg.MaxConns > 0 && s.sessions.Count() >= s.cfg.MaxConns {
			s.log.Warn("connection limit reached, rejecting client",
				zap.String("ip", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.cfg.OutQueueSize, s.cfg.PacketsPerSecond, s.sink, s.onSessionClose, s.log)
		s.sessions.Add(sess)
		s.col.SessionOpened()
		sess.Start()

		s.log.Info("client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))
	}
}

// onSessionClose runs once per session, from Disconnect. The nil check
// on Remove keeps the disconnect notification single-shot even when the
// reader and writer race into Disconnect.
func (s *Server) onSessionClose(sess *Session) {
	if s.sessions.Remove(sess.ID) == nil {
		return
	}
	s.col.SessionClosed()
	s.log.Info("client disconnected",
		zap.Uint64("session", sess.ID),
		zap.Uint64("player", sess.PlayerID()))

	if pid := sess.PlayerID(); pid != 0 && s.disc != nil {
		s.disc.PushPlayerDisconnect(pid, sess.ID)
	}
}

// Sessions exposes the session table for broadcast paths.
func (s *Server) Sessions() *Manager {
	return s.sessions
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting, disconnects every session, and waits for
// the accept loops to exit.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.listener.Close()
	s.sessions.CloseAll()
	s.wg.Wait()
}
