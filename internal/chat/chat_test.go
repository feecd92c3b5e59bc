package chat

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopbackDelivery(t *testing.T) {
	b := NewLoopback()
	defer b.Close()

	got := make(chan string, 8)
	require.NoError(t, b.Subscribe("chat_channel", func(p string) { got <- p }))

	require.NoError(t, b.Publish("chat_channel", "7|hi"))
	require.NoError(t, b.Publish("other_channel", "ignored"))
	require.NoError(t, b.Publish("chat_channel", "7|again"))

	require.Equal(t, "7|hi", recvLine(t, got))
	require.Equal(t, "7|again", recvLine(t, got))
	require.Empty(t, got)
}

func TestLoopbackClosedPublish(t *testing.T) {
	b := NewLoopback()
	b.Close()
	require.ErrorIs(t, b.Publish("chat_channel", "x"), ErrBrokerClosed)
	require.ErrorIs(t, b.Subscribe("chat_channel", func(string) {}), ErrBrokerClosed)
}

func TestLoopbackConcurrentPublishers(t *testing.T) {
	b := NewLoopback()
	defer b.Close()

	var mu sync.Mutex
	seen := make(map[string]bool)
	require.NoError(t, b.Subscribe("c", func(p string) {
		mu.Lock()
		seen[p] = true
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				require.NoError(t, b.Publish("c", fmt.Sprintf("%d-%d", i, j)))
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 8*20
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeBroadcastsChat(t *testing.T) {
	b := NewLoopback()
	defer b.Close()

	mgr := gnet.NewManager()
	bridge := NewBridge(b, mgr, "", zaptest.NewLogger(t))
	require.Equal(t, DefaultChannel, bridge.Channel())
	require.NoError(t, bridge.Start())

	conns := make([]net.Conn, 0, 2)
	for id := uint64(1); id <= 2; id++ {
		server, client := net.Pipe()
		s := gnet.NewSession(server, id, 16, 0, nil, nil, zaptest.NewLogger(t))
		s.Start()
		mgr.Add(s)
		t.Cleanup(func() {
			s.Disconnect()
			client.Close()
		})
		conns = append(conns, client)
	}

	require.NoError(t, b.Publish(DefaultChannel, "7|hello"))

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		payload, err := gnet.ReadFrame(conn)
		require.NoError(t, err)
		r := packet.NewReader(payload)
		require.Equal(t, packet.IDSChat, r.ID())
		require.Equal(t, uint64(7), r.ReadQ())
		require.Equal(t, "hello", r.ReadS())
	}
}

func TestBridgeDropsMalformedLines(t *testing.T) {
	b := NewLoopback()
	defer b.Close()

	mgr := gnet.NewManager()
	bridge := NewBridge(b, mgr, "custom", zaptest.NewLogger(t))
	require.NoError(t, bridge.Start())

	server, client := net.Pipe()
	s := gnet.NewSession(server, 1, 16, 0, nil, nil, zaptest.NewLogger(t))
	s.Start()
	mgr.Add(s)
	t.Cleanup(func() {
		s.Disconnect()
		client.Close()
	})

	require.NoError(t, b.Publish("custom", "no separator"))
	require.NoError(t, b.Publish("custom", "abc|not a number"))
	require.NoError(t, b.Publish("custom", "9|real"))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := gnet.ReadFrame(client)
	require.NoError(t, err)
	r := packet.NewReader(payload)
	require.Equal(t, uint64(9), r.ReadQ())
	require.Equal(t, "real", r.ReadS())
}

func recvLine(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat line")
		return ""
	}
}
