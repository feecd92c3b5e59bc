package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gommo/server/internal/net/packet"
)

const writeTimeout = 10 * time.Second

// InboundSink receives decoded packet payloads from session read loops.
// Implementations must be safe for concurrent use; every session's read
// goroutine calls HandleInbound directly.
type InboundSink interface {
	HandleInbound(s *Session, payload []byte)
}

// Session represents a single client connection. Network I/O runs in
// dedicated reader and writer goroutines; game state is never touched
// here, only on the simulation goroutine.
type Session struct {
	ID   uint64
	IP   string
	conn net.Conn

	state    atomic.Int32  // packet.SessionState
	playerID atomic.Uint64 // 0 until login succeeds, then immutable

	outQueue chan []byte // pre-framed bytes, drained by writeLoop

	sink    InboundSink
	onClose func(*Session)

	limiter *rate.Limiter // inbound packet rate, readLoop only

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, outSize, pktPerSec int, sink InboundSink, onClose func(*Session), log *zap.Logger) *Session {
	s := &Session{
		ID:       id,
		IP:       conn.RemoteAddr().String(),
		conn:     conn,
		outQueue: make(chan []byte, outSize),
		sink:     sink,
		onClose:  onClose,
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
	if pktPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(pktPerSec), pktPerSec*2)
	}
	s.state.Store(int32(packet.StateConnecting))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// SetPlayerID binds the session to an authenticated player. It succeeds
// only once; a second login attempt on the same connection is rejected.
func (s *Session) SetPlayerID(id uint64) bool {
	return s.playerID.CompareAndSwap(0, id)
}

func (s *Session) PlayerID() uint64 {
	return s.playerID.Load()
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	s.SetState(packet.StateConnected)
	go s.readLoop()
	go s.writeLoop()
}

// Send frames a single packet payload and enqueues it for the writer
// goroutine. Safe to call from any goroutine. Packets sent after the
// session closed are silently dropped.
func (s *Session) Send(payload []byte) {
	if s.closed.Load() {
		return
	}
	s.enqueue(AppendFrame(make([]byte, 0, frameHeaderSize+len(payload)), payload))
}

// SendBatch frames every payload into contiguous buffers and enqueues
// them, so one tick's worth of snapshots costs one syscall instead of
// dozens. Buffers are split at MaxBatchBytes.
func (s *Session) SendBatch(payloads [][]byte) {
	if s.closed.Load() || len(payloads) == 0 {
		return
	}

	total := 0
	for _, p := range payloads {
		total += frameHeaderSize + len(p)
	}
	if total > MaxBatchBytes {
		total = MaxBatchBytes
	}

	buf := make([]byte, 0, total)
	for _, p := range payloads {
		if len(buf) > 0 && len(buf)+frameHeaderSize+len(p) > MaxBatchBytes {
			s.enqueue(buf)
			buf = make([]byte, 0, total)
		}
		buf = AppendFrame(buf, p)
	}
	if len(buf) > 0 {
		s.enqueue(buf)
	}
}

// enqueue hands framed bytes to the writer goroutine. A full queue means
// the client cannot keep up with the snapshot rate; the session is
// dropped rather than letting backpressure stall the caller.
func (s *Session) enqueue(framed []byte) {
	select {
	case s.outQueue <- framed:
	default:
		s.log.Warn("outbound queue full, dropping slow client",
			zap.Uint64("player", s.PlayerID()),
			zap.Int("queue_size", cap(s.outQueue)))
		s.Disconnect()
	}
}

// Disconnect shuts the session down. Idempotent; the close callback runs
// exactly once, on the first caller's goroutine.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.SetState(packet.StateClosed)
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames off the wire and hands the payloads to the
// inbound sink. Any read error, malformed frame included, ends the
// session.
func (s *Session) readLoop() {
	defer s.Disconnect()

	for {
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn("inbound packet rate exceeded, dropping packet",
				zap.Uint64("player", s.PlayerID()))
			continue
		}

		s.sink.HandleInbound(s, payload)
	}
}

// writeLoop drains outQueue to the TCP connection. Frames are already
// encoded, so a queue entry maps to a single Write call.
func (s *Session) writeLoop() {
	defer s.Disconnect()

	for {
		select {
		case data := <-s.outQueue:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
