package bot

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/gommo/server/internal/game"
	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/world"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "behavior.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScriptDefaultWander(t *testing.T) {
	s, err := LoadScript("", "bot_0", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	seen := map[uint8]bool{}
	for i := 0; i < 4; i++ {
		act := s.Decide(TickContext{})
		require.Equal(t, wanderLegTicks, act.Wait)
		seen[act.Flags] = true
	}
	require.Len(t, seen, 4, "wander should cycle all four directions")

	// The built-in wander chats periodically.
	chatted := false
	for i := 0; i < wanderChatEvery; i++ {
		if s.Decide(TickContext{}).Chat != "" {
			chatted = true
		}
	}
	require.True(t, chatted)
}

func TestScriptDecide(t *testing.T) {
	path := writeScript(t, `
function decide(ctx)
  return {
    flags = INPUT_W + INPUT_D,
    wait = 7,
    chat = string.format("%s saw %d players at tick %d", BOT_NAME, ctx.players, ctx.tick),
  }
end
`)
	s, err := LoadScript(path, "bot_7", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	act := s.Decide(TickContext{Tick: 99, Players: 3})
	require.Equal(t, world.InputW|world.InputD, act.Flags)
	require.Equal(t, 7, act.Wait)
	require.Equal(t, "bot_7 saw 3 players at tick 99", act.Chat)
}

func TestScriptDecideClampsWait(t *testing.T) {
	path := writeScript(t, `
function decide(ctx)
  return { flags = INPUT_W }
end
`)
	s, err := LoadScript(path, "b", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	act := s.Decide(TickContext{})
	require.Equal(t, world.InputW, act.Flags)
	require.Equal(t, 1, act.Wait)
}

func TestScriptDecideNonTableFallsBack(t *testing.T) {
	path := writeScript(t, `
function decide(ctx)
  return 5
end
`)
	s, err := LoadScript(path, "b", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	act := s.Decide(TickContext{})
	require.Equal(t, wanderLegTicks, act.Wait)
}

func TestScriptErrorFallsBack(t *testing.T) {
	path := writeScript(t, `
function decide(ctx)
  error("boom")
end
`)
	s, err := LoadScript(path, "b", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	act := s.Decide(TickContext{})
	require.Equal(t, wanderLegTicks, act.Wait)
}

func TestScriptMissingFile(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "nope.lua"), "b", zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestFetchTicket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"success":false,"message":"username already exists"}`)
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"sessionTicket":"tkt-123"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := New(Config{AuthURL: srv.URL, Name: "alice"}, NewStats(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	ticket, err := b.fetchTicket(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tkt-123", ticket)
}

func TestFetchTicketLoginRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true}`)
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"success":false,"message":"invalid username or password"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := New(Config{AuthURL: srv.URL, Name: "alice"}, NewStats(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	_, err = b.fetchTicket(context.Background())
	require.Error(t, err)
}

func TestFetchTicketWithoutAuthUsesName(t *testing.T) {
	b, err := New(Config{Name: "raw"}, NewStats(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	ticket, err := b.fetchTicket(context.Background())
	require.NoError(t, err)
	require.Equal(t, "raw", ticket)
}

// fakeServer speaks just enough of the protocol to walk one bot through
// login, zone entry, and a burst of world traffic.
func fakeServer(t *testing.T, ln net.Listener, inputs chan<- int) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	payload, err := gnet.ReadFrame(br)
	if err != nil {
		return
	}
	r := packet.NewReader(payload)
	if r.ID() != packet.IDCLogin {
		return
	}
	r.ReadS() // ticket
	cmdID := int64(r.ReadQ())
	self := world.NewPlayer(7, "bot_0", world.Vec3{X: 3, Y: 4}, 5, 1)
	gnet.WriteFrame(conn, game.EncodeLoginSuccess(self.ID, self.Name, self.Pos, self.HP, self.MaxHP, cmdID))

	payload, err = gnet.ReadFrame(br)
	if err != nil {
		return
	}
	r = packet.NewReader(payload)
	if r.ID() != packet.IDCEnterZone {
		return
	}
	zoneID := r.ReadD()
	other := world.NewPlayer(8, "other", world.Vec3{X: 6, Y: 6}, 5, 2)
	gnet.WriteFrame(conn, game.EncodeZoneEntered(zoneID, self, []*world.Player{other}))

	gnet.WriteFrame(conn, game.EncodePlayerJoined(other))
	self.Pos = world.Vec3{X: 9, Y: 12}
	gnet.WriteFrame(conn, game.EncodeWorldSnapshot(42, 1000, []*world.Player{self, other}))
	gnet.WriteFrame(conn, game.EncodeChat(8, "hello"))
	gnet.WriteFrame(conn, game.EncodePlayerLeft(8))

	n := 0
	for {
		payload, err := gnet.ReadFrame(br)
		if err != nil {
			break
		}
		if packet.PeekID(payload) == packet.IDCPlayerInput {
			n++
		}
	}
	inputs <- n
}

func TestBotRunAgainstFakeServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	inputs := make(chan int, 1)
	go fakeServer(t, ln, inputs)

	stats := NewStats()
	b, err := New(Config{
		Addr:     ln.Addr().String(),
		Name:     "bot_0",
		ZoneID:   1,
		TickRate: 100,
	}, stats, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return stats.Snapshots.Load() >= 1 &&
			stats.Joins.Load() >= 1 &&
			stats.Leaves.Load() >= 1 &&
			stats.ChatSeen.Load() >= 1 &&
			stats.InputsSent.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-runErr)

	select {
	case n := <-inputs:
		require.GreaterOrEqual(t, n, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("fake server never finished")
	}

	require.Equal(t, uint64(1), stats.Logins.Load())
	require.GreaterOrEqual(t, stats.Entities.Load(), uint64(2))
	require.Greater(t, stats.BytesIn.Load(), uint64(0))
	require.Greater(t, stats.BytesOut.Load(), uint64(0))

	// The bot followed its own entity across the snapshot.
	st := b.observed()
	require.Equal(t, float32(9), st.X)
	require.Equal(t, float32(12), st.Y)
	require.Equal(t, uint64(42), st.Tick)
	require.Equal(t, 2, st.Players)
}

func TestBotLoginRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		payload, err := gnet.ReadFrame(br)
		if err != nil {
			return
		}
		r := packet.NewReader(payload)
		r.ReadS()
		cmdID := int64(r.ReadQ())
		gnet.WriteFrame(conn, game.EncodeLoginFailure(-1, "invalid ticket", cmdID))
	}()

	stats := NewStats()
	b, err := New(Config{Addr: ln.Addr().String(), Name: "bot_0"}, stats, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	err = b.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid ticket")
	require.Equal(t, uint64(1), stats.LoginFails.Load())
}
