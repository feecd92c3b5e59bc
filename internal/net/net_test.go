package net

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/gommo/server/internal/net/packet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureSink struct {
	ch chan []byte
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan []byte, 64)}
}

func (c *captureSink) HandleInbound(_ *Session, payload []byte) {
	c.ch <- payload
}

func (c *captureSink) next(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound packet")
		return nil
	}
}

type captureDisc struct {
	ch chan [2]uint64
}

func newCaptureDisc() *captureDisc {
	return &captureDisc{ch: make(chan [2]uint64, 8)}
}

func (c *captureDisc) PushPlayerDisconnect(playerID, sessionID uint64) {
	c.ch <- [2]uint64{playerID, sessionID}
}

func chatPayload(text string) []byte {
	w := packet.NewWriter(packet.IDCChat)
	w.WriteS(text)
	return w.Copy()
}

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{1, 0, 42}))

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 42}, payload)
}

func TestReadFrameRejectsBadLengths(t *testing.T) {
	zero := make([]byte, frameHeaderSize)
	_, err := ReadFrame(bytes.NewReader(zero))
	require.ErrorIs(t, err, ErrInvalidFrame)

	huge := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(huge, MaxFrameSize+1)
	_, err = ReadFrame(bytes.NewReader(huge))
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestReadFrameShortPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{1, 0, 42}))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAppendFrame(t *testing.T) {
	framed := AppendFrame(nil, []byte{9, 9})
	require.Equal(t, []byte{2, 0, 0, 0, 9, 9}, framed)

	framed = AppendFrame(framed, []byte{7})
	require.Equal(t, []byte{2, 0, 0, 0, 9, 9, 1, 0, 0, 0, 7}, framed)
}

// pipeSession builds a session over net.Pipe and starts its loops. The
// returned cleanup closes both ends.
func pipeSession(t *testing.T, outSize, pktPerSec int, sink InboundSink, onClose func(*Session)) (*Session, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	s := NewSession(serverSide, 1, outSize, pktPerSec, sink, onClose, zaptest.NewLogger(t))
	s.Start()
	t.Cleanup(func() {
		s.Disconnect()
		clientSide.Close()
	})
	return s, clientSide
}

func TestSessionSendDeliversFrame(t *testing.T) {
	s, client := pipeSession(t, 16, 0, newCaptureSink(), nil)

	s.Send(chatPayload("hello"))

	payload, err := ReadFrame(client)
	require.NoError(t, err)
	r := packet.NewReader(payload)
	require.Equal(t, packet.IDCChat, r.ID())
	require.Equal(t, "hello", r.ReadS())
}

func TestSessionSendBatchKeepsOrder(t *testing.T) {
	s, client := pipeSession(t, 16, 0, newCaptureSink(), nil)

	s.SendBatch([][]byte{chatPayload("one"), chatPayload("two"), chatPayload("three")})

	for _, want := range []string{"one", "two", "three"} {
		payload, err := ReadFrame(client)
		require.NoError(t, err)
		require.Equal(t, want, packet.NewReader(payload).ReadS())
	}
}

func TestSessionInboundReachesSink(t *testing.T) {
	sink := newCaptureSink()
	_, client := pipeSession(t, 16, 0, sink, nil)

	require.NoError(t, WriteFrame(client, chatPayload("ping")))

	payload := sink.next(t)
	require.Equal(t, "ping", packet.NewReader(payload).ReadS())
}

func TestSessionRateLimitDropsPacket(t *testing.T) {
	sink := newCaptureSink()
	s, client := pipeSession(t, 16, 1, sink, nil) // 1 pps, burst 2

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, WriteFrame(client, chatPayload(msg)))
	}

	require.Equal(t, "a", packet.NewReader(sink.next(t)).ReadS())
	require.Equal(t, "b", packet.NewReader(sink.next(t)).ReadS())

	// The third packet was consumed and dropped, not queued. The session
	// stays up; rate limiting is not a disconnect.
	client.Close()
	require.Eventually(t, s.IsClosed, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, sink.ch)
}

func TestSessionSlowClientDisconnected(t *testing.T) {
	s, _ := pipeSession(t, 1, 0, newCaptureSink(), nil)

	// Nobody reads the client side, so the writer blocks and the queue
	// fills. The third send must trip the overflow disconnect.
	for i := 0; i < 3; i++ {
		s.Send(chatPayload("spam"))
	}
	require.True(t, s.IsClosed())
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	var mu sync.Mutex
	closeCount := 0
	s, _ := pipeSession(t, 16, 0, newCaptureSink(), func(*Session) {
		mu.Lock()
		closeCount++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, closeCount)
	require.Equal(t, packet.StateClosed, s.State())
}

func TestSessionSendAfterCloseDropped(t *testing.T) {
	s, _ := pipeSession(t, 16, 0, newCaptureSink(), nil)
	s.Disconnect()
	s.Send(chatPayload("late"))   // must not panic
	s.SendBatch([][]byte{{1, 0}}) // must not panic
}

func TestSessionInvalidFrameDisconnects(t *testing.T) {
	s, client := pipeSession(t, 16, 0, newCaptureSink(), nil)

	zero := make([]byte, frameHeaderSize) // length prefix 0
	_, err := client.Write(zero)
	require.NoError(t, err)

	require.Eventually(t, s.IsClosed, 2*time.Second, 5*time.Millisecond)
}

func TestSessionPlayerIDSetOnce(t *testing.T) {
	s, _ := pipeSession(t, 16, 0, newCaptureSink(), nil)
	require.True(t, s.SetPlayerID(7))
	require.False(t, s.SetPlayerID(8))
	require.Equal(t, uint64(7), s.PlayerID())
}

func startTestServer(t *testing.T, maxConns int, sink InboundSink, disc DisconnectSink) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		BindAddr:     "127.0.0.1:0",
		AcceptLoops:  2,
		MaxConns:     maxConns,
		OutQueueSize: 32,
	}, sink, disc, zaptest.NewLogger(t))
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestServerAcceptAndDisconnectNotify(t *testing.T) {
	sink := newCaptureSink()
	disc := newCaptureDisc()
	srv := startTestServer(t, 10, sink, disc)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	require.NoError(t, WriteFrame(conn, chatPayload("hi")))
	require.Equal(t, "hi", packet.NewReader(sink.next(t)).ReadS())

	require.Eventually(t, func() bool { return srv.Sessions().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	var sess *Session
	srv.Sessions().ForEach(func(s *Session) { sess = s })
	require.NotNil(t, sess)
	require.True(t, sess.SetPlayerID(42))

	conn.Close()

	select {
	case got := <-disc.ch:
		require.Equal(t, uint64(42), got[0])
		require.Equal(t, sess.ID, got[1])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}
	require.Eventually(t, func() bool { return srv.Sessions().Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerUnauthenticatedCloseNotNotified(t *testing.T) {
	disc := newCaptureDisc()
	srv := startTestServer(t, 10, newCaptureSink(), disc)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Sessions().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.Sessions().Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, disc.ch)
}

func TestServerConnectionLimit(t *testing.T) {
	srv := startTestServer(t, 1, newCaptureSink(), newCaptureDisc())

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return srv.Sessions().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	// The server closes the rejected connection without a session.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = ReadFrame(second)
	require.Error(t, err)
	require.Equal(t, 1, srv.Sessions().Count())
}
