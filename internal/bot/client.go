package bot

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	defaultTickRate  = 20
	readBufferSize   = 64 << 10
)

// Config describes one bot.
type Config struct {
	// Addr is the game server TCP address.
	Addr string
	// AuthURL is the auth service base URL. Empty skips the account
	// round trip, see fetchTicket.
	AuthURL string
	// Name is the account username; the password derives from it.
	Name string
	// ScriptPath selects the Lua behavior file. Empty uses the
	// built-in wander.
	ScriptPath string
	// ZoneID is requested on entry.
	ZoneID int32
	// TickRate is the input cadence in packets per second.
	TickRate int
}

// Bot is one scripted game client: TCP dial, ticket login, zone entry,
// then an input/chat loop driven by the behavior script until the
// context is cancelled or the server drops the connection.
type Bot struct {
	cfg    Config
	stats  *Stats
	log    *zap.Logger
	script *Script

	conn net.Conn
	br   *bufio.Reader

	playerID  uint64
	seq       uint32
	commandID uint64

	mu    sync.Mutex
	state TickContext
}

// New prepares a bot and loads its script. Run does the network work.
func New(cfg Config, stats *Stats, log *zap.Logger) (*Bot, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaultTickRate
	}
	script, err := LoadScript(cfg.ScriptPath, cfg.Name, log)
	if err != nil {
		return nil, err
	}
	return &Bot{cfg: cfg, stats: stats, log: log, script: script}, nil
}

// Close releases the script VM.
func (b *Bot) Close() {
	b.script.Close()
}

// Run drives the bot until ctx is done. A context cancellation is a
// normal stop and returns nil; a server-side drop returns the error.
func (b *Bot) Run(ctx context.Context) error {
	ticket, err := b.fetchTicket(ctx)
	if err != nil {
		return fmt.Errorf("ticket: %w", err)
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.cfg.Addr, err)
	}
	b.conn = conn
	b.br = bufio.NewReaderSize(conn, readBufferSize)
	defer conn.Close()

	// Closing the socket on cancellation unblocks any pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := b.login(ticket); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("login: %w", err)
	}
	if err := b.enterZone(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("enter zone: %w", err)
	}
	b.log.Debug("bot in world", zap.Uint64("player", b.playerID))

	readErr := make(chan error, 1)
	go func() { readErr <- b.readLoop() }()

	ticker := time.NewTicker(time.Second / time.Duration(b.cfg.TickRate))
	defer ticker.Stop()

	var act Action
	wait := 0
	for {
		select {
		case <-ctx.Done():
			<-readErr
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			b.stats.Disconnects.Add(1)
			return fmt.Errorf("read: %w", err)
		case <-ticker.C:
			if wait <= 0 {
				act = b.script.Decide(b.observed())
				wait = act.Wait
				if act.Chat != "" {
					if err := b.sendChat(act.Chat); err != nil {
						return b.sendFailed(ctx, readErr, err)
					}
				}
			}
			wait--
			if err := b.sendInput(act.Flags); err != nil {
				return b.sendFailed(ctx, readErr, err)
			}
		}
	}
}

// sendFailed settles a write error: the deferred conn.Close unblocks the
// read loop, which is drained so its goroutine is gone before we return.
func (b *Bot) sendFailed(ctx context.Context, readErr <-chan error, err error) error {
	b.conn.Close()
	<-readErr
	if ctx.Err() != nil {
		return nil
	}
	b.stats.Disconnects.Add(1)
	return fmt.Errorf("send: %w", err)
}

func (b *Bot) observed() TickContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// login sends C_Login and waits for the server verdict.
func (b *Bot) login(ticket string) error {
	b.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer b.conn.SetDeadline(time.Time{})

	b.commandID++
	w := packet.GetWriter(packet.IDCLogin)
	w.WriteS(ticket)
	w.WriteQ(b.commandID)
	if err := b.send(w); err != nil {
		return err
	}

	for {
		payload, err := b.recv()
		if err != nil {
			return err
		}
		r := packet.NewReader(payload)
		switch r.ID() {
		case packet.IDSLoginSuccess:
			b.playerID = r.ReadQ()
			name := r.ReadS()
			x := r.ReadF()
			y := r.ReadF()
			r.ReadF() // z
			hp := r.ReadD()
			r.ReadD() // max hp
			r.ReadQ() // command id echo
			if r.Truncated() {
				return fmt.Errorf("truncated login response")
			}
			b.mu.Lock()
			b.state.X, b.state.Y, b.state.HP = x, y, hp
			b.mu.Unlock()
			b.stats.Logins.Add(1)
			b.log.Debug("logged in", zap.Uint64("player", b.playerID), zap.String("name", name))
			return nil
		case packet.IDSLoginFailure:
			code := r.ReadD()
			msg := r.ReadS()
			b.stats.LoginFails.Add(1)
			return fmt.Errorf("rejected: code %d (%s)", code, msg)
		default:
			// Not part of the handshake, skip.
		}
	}
}

// enterZone requests the zone and waits for the roster.
func (b *Bot) enterZone() error {
	b.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer b.conn.SetDeadline(time.Time{})

	b.commandID++
	w := packet.GetWriter(packet.IDCEnterZone)
	w.WriteD(b.cfg.ZoneID)
	w.WriteQ(b.commandID)
	if err := b.send(w); err != nil {
		return err
	}

	for {
		payload, err := b.recv()
		if err != nil {
			return err
		}
		r := packet.NewReader(payload)
		if r.ID() != packet.IDSZoneEntered {
			continue
		}
		zoneID := r.ReadD()
		r.ReadQ() // self id
		r.ReadS() // self name
		x := r.ReadF()
		y := r.ReadF()
		r.ReadF()
		hp := r.ReadD()
		r.ReadD()
		n := int(r.ReadH())
		if r.Truncated() {
			return fmt.Errorf("truncated zone roster")
		}
		b.mu.Lock()
		b.state.X, b.state.Y, b.state.HP = x, y, hp
		b.state.Players = n
		b.mu.Unlock()
		b.log.Debug("entered zone", zap.Int32("zone", zoneID), zap.Int("nearby", n))
		return nil
	}
}

// readLoop consumes server frames until the connection drops.
func (b *Bot) readLoop() error {
	for {
		payload, err := b.recv()
		if err != nil {
			return err
		}
		b.handle(payload)
	}
}

func (b *Bot) handle(payload []byte) {
	r := packet.NewReader(payload)
	switch r.ID() {
	case packet.IDSWorldSnapshot:
		b.onSnapshot(r)
	case packet.IDSPlayerJoined:
		b.stats.Joins.Add(1)
	case packet.IDSPlayerLeft:
		b.stats.Leaves.Add(1)
	case packet.IDSChat:
		b.stats.ChatSeen.Add(1)
	}
}

// onSnapshot tracks the bot's own entity and the visible population.
func (b *Bot) onSnapshot(r *packet.Reader) {
	tick := r.ReadQ()
	r.ReadQ() // server time
	n := int(r.ReadH())

	var x, y float32
	found := false
	for i := 0; i < n; i++ {
		id := r.ReadQ()
		ex := r.ReadF()
		ey := r.ReadF()
		r.ReadF()
		r.ReadF() // velocity
		r.ReadF()
		r.ReadF()
		r.ReadC() // active
		if id == b.playerID {
			x, y = ex, ey
			found = true
		}
	}
	if r.Truncated() {
		return
	}

	b.stats.Snapshots.Add(1)
	b.stats.Entities.Add(uint64(n))

	b.mu.Lock()
	b.state.Tick = tick
	b.state.Players = n
	b.state.Snapshots++
	if found {
		b.state.X, b.state.Y = x, y
	}
	b.mu.Unlock()
}

// sendInput sends the held flags with the next sequence number and the
// advisory tail a full client includes.
func (b *Bot) sendInput(flags uint8) error {
	b.seq++
	w := packet.GetWriter(packet.IDCPlayerInput)
	w.WriteC(flags)
	w.WriteDU(b.seq)
	w.WriteF(0) // mouse
	w.WriteF(0)
	w.WriteF(0)
	w.WriteQ(uint64(time.Now().UnixMilli()))
	w.WriteQ(uint64(b.seq))
	if err := b.send(w); err != nil {
		return err
	}
	b.stats.InputsSent.Add(1)
	return nil
}

func (b *Bot) sendChat(msg string) error {
	w := packet.GetWriter(packet.IDCChat)
	w.WriteS(msg)
	if err := b.send(w); err != nil {
		return err
	}
	b.stats.ChatSent.Add(1)
	return nil
}

// send frames and writes one packet, returning the writer to the pool.
func (b *Bot) send(w *packet.Writer) error {
	frame := gnet.AppendFrame(nil, w.Bytes())
	packet.PutWriter(w)
	if _, err := b.conn.Write(frame); err != nil {
		return err
	}
	b.stats.BytesOut.Add(uint64(len(frame)))
	return nil
}

// recv reads one frame, accounting it.
func (b *Bot) recv() ([]byte, error) {
	payload, err := gnet.ReadFrame(b.br)
	if err != nil {
		return nil, err
	}
	b.stats.BytesIn.Add(uint64(len(payload)) + 4)
	return payload, nil
}
