// Package sim runs the authoritative world simulation: one goroutine
// that owns the player table, the spatial index, and the AOI cache, fed
// exclusively through the command queue. Nothing outside this goroutine
// mutates world state.
package sim

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/gommo/server/internal/data"
	"github.com/gommo/server/internal/game"
	"github.com/gommo/server/internal/metrics"
	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/world"
)

// Config holds the gameplay tuning for one simulation instance.
type Config struct {
	TickRate  int
	AOIRange  float32
	ChatRange float32 // reserved for ranged chat
	MoveSpeed float32
	MapWidth  float32
	MapHeight float32

	// CommandBatchSize and DrainBudget bound the per-tick command drain,
	// whichever trips first.
	CommandBatchSize int
	DrainBudget      time.Duration

	AOIUpdateInterval    uint64
	AOIPositionThreshold float32

	// ReconnectTimeout is how long a disconnected player stays resident
	// for reconnection before being hard-removed.
	ReconnectTimeout time.Duration

	// ReportInterval is the housekeeping period in ticks.
	ReportInterval uint64

	// SpawnSeed makes spawn positions reproducible. 0 seeds from the clock.
	SpawnSeed int64
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = 30
	}
	if c.AOIRange <= 0 {
		c.AOIRange = 100
	}
	if c.MoveSpeed <= 0 {
		c.MoveSpeed = 5
	}
	if c.MapWidth <= 0 {
		c.MapWidth = 200
	}
	if c.MapHeight <= 0 {
		c.MapHeight = 200
	}
	if c.CommandBatchSize <= 0 {
		c.CommandBatchSize = 500
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = 10 * time.Millisecond
	}
	if c.AOIUpdateInterval == 0 {
		c.AOIUpdateInterval = 3
	}
	if c.AOIPositionThreshold <= 0 {
		c.AOIPositionThreshold = 10
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 5 * time.Minute
	}
	if c.ReportInterval == 0 {
		c.ReportInterval = 300
	}
	if c.SpawnSeed == 0 {
		c.SpawnSeed = time.Now().UnixNano()
	}
	return c
}

// Sim is the simulation goroutine's state. Everything below the
// constructor-injected dependencies is goroutine-private.
type Sim struct {
	cfg Config

	queue    *game.CommandQueue
	sessions *gnet.Manager
	zones    *data.ZoneTable
	names    *game.NameCache
	col      *metrics.Collector
	sampler  *metrics.SystemSampler
	log      *zap.Logger

	world *world.World
	index *world.QuadTree
	aoi   *world.AOICache

	tick       uint64
	serverTime uint64

	// batches collects the frames for each session within one tick so
	// the flush phase issues a single SendBatch per session.
	batches map[uint64][][]byte

	// Scratch buffers reused across ticks.
	queryBuf []uint64
	stateBuf []*world.Player

	rng  *rand.Rand
	perf perfCounters
}

func New(cfg Config, queue *game.CommandQueue, sessions *gnet.Manager, zones *data.ZoneTable,
	names *game.NameCache, col *metrics.Collector, sampler *metrics.SystemSampler, log *zap.Logger) *Sim {
	cfg = cfg.withDefaults()
	return &Sim{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		zones:    zones,
		names:    names,
		col:      col,
		sampler:  sampler,
		log:      log,
		world:    world.NewWorld(),
		index:    world.NewQuadTree(0, 0, cfg.MapWidth, cfg.MapHeight),
		aoi:      world.NewAOICache(cfg.AOIUpdateInterval, cfg.AOIPositionThreshold),
		batches:  make(map[uint64][][]byte),
		rng:      rand.New(rand.NewSource(cfg.SpawnSeed)),
	}
}

// Run paces the tick loop until ctx is cancelled. It never blocks on I/O;
// outbound frames go through the sessions' buffered queues.
func (s *Sim) Run(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("simulation started",
		zap.Int("tick_rate", s.cfg.TickRate),
		zap.Float32("map_width", s.cfg.MapWidth),
		zap.Float32("map_height", s.cfg.MapHeight),
		zap.Float32("aoi_range", s.cfg.AOIRange))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulation stopped", zap.Uint64("tick", s.tick))
			return
		case <-ticker.C:
			s.RunTick()
		}
	}
}

// RunTick executes one full tick. Exported so tests can step the
// simulation deterministically without the ticker.
func (s *Sim) RunTick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked, resuming next tick",
				zap.Uint64("tick", s.tick),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	start := time.Now()
	s.drainCommands()
	t1 := time.Now()
	s.integrate()
	t2 := time.Now()
	s.composeSnapshots()
	t3 := time.Now()
	s.flushBatches()
	t4 := time.Now()

	s.perf.observe(t1.Sub(start), t2.Sub(t1), t3.Sub(t2), t4.Sub(t3))
	s.col.ObserveTick(t4.Sub(start))
	s.col.ObservePhase(metrics.PhaseDrain, t1.Sub(start))
	s.col.ObservePhase(metrics.PhaseUpdate, t2.Sub(t1))
	s.col.ObservePhase(metrics.PhaseSnapshot, t3.Sub(t2))
	s.col.ObservePhase(metrics.PhaseFlush, t4.Sub(t3))

	if s.tick%s.cfg.ReportInterval == 0 {
		s.report()
		s.sweepDisconnected()
	}
}

// Tick returns the current tick number. Test hook; the simulation itself
// never shares it.
func (s *Sim) Tick() uint64 {
	return s.tick
}

// drainCommands applies queued commands until the batch cap or the time
// budget is hit, whichever comes first.
func (s *Sim) drainCommands() {
	deadline := time.Now().Add(s.cfg.DrainBudget)
	for n := 0; n < s.cfg.CommandBatchSize; n++ {
		cmd, ok := s.queue.TryPop()
		if !ok {
			return
		}
		s.apply(cmd)
		if time.Now().After(deadline) {
			return
		}
	}
}

func (s *Sim) apply(cmd game.Command) {
	switch cmd.Kind {
	case game.CommandPlayerInput:
		s.handlePlayerInput(cmd)
	case game.CommandEnterZone:
		s.handleEnterZone(cmd)
	case game.CommandPlayerDisconnect:
		s.handlePlayerDisconnect(cmd)
	default:
		s.log.Warn("unknown command kind, dropping",
			zap.String("kind", cmd.Kind.String()),
			zap.Uint64("session", cmd.SenderSessionID))
		return
	}
	s.perf.commands++
	s.col.CommandApplied(cmd.Kind.String())
}

func (s *Sim) handlePlayerInput(cmd game.Command) {
	p := s.world.GetPlayer(cmd.PlayerID)
	if p == nil || !p.Active {
		s.log.Debug("input for absent player, dropping", zap.Uint64("player", cmd.PlayerID))
		return
	}
	now := time.Now()
	if !p.InputAllowed(now) {
		s.log.Debug("input rate limited, dropping",
			zap.Uint64("player", cmd.PlayerID),
			zap.Uint32("seq", cmd.SequenceNumber))
		return
	}
	if cmd.SequenceNumber <= p.LastInputSequence {
		s.log.Debug("stale input sequence, dropping",
			zap.Uint64("player", cmd.PlayerID),
			zap.Uint32("seq", cmd.SequenceNumber),
			zap.Uint32("last", p.LastInputSequence))
		return
	}
	p.ApplyInput(cmd.InputFlags, cmd.SequenceNumber, cmd.Mouse, now)
}

func (s *Sim) handleEnterZone(cmd game.Command) {
	zoneID := cmd.ZoneID
	if !s.zones.Valid(zoneID) {
		s.log.Warn("unknown zone requested, using default",
			zap.Int32("zone", zoneID),
			zap.Uint64("player", cmd.PlayerID))
		zoneID = s.zones.DefaultID()
	}

	sess, ok := s.sessions.Get(cmd.SenderSessionID)
	if !ok {
		s.log.Debug("enter zone from dead session, dropping",
			zap.Uint64("session", cmd.SenderSessionID),
			zap.Uint64("player", cmd.PlayerID))
		return
	}

	p := s.world.GetPlayer(cmd.PlayerID)
	switch {
	case p != nil && p.Active:
		// Still connected under another session. The old session keeps
		// the player; the newcomer is refused.
		s.log.Warn("enter zone for active player, dropping",
			zap.Uint64("player", cmd.PlayerID),
			zap.Uint64("session", cmd.SenderSessionID),
			zap.Uint64("holder", p.SessionID))
		return
	case p != nil:
		p.Reactivate(cmd.SenderSessionID)
		s.index.Insert(p.ID, p.Pos)
		s.log.Info("player reconnected",
			zap.Uint64("player", p.ID),
			zap.Uint64("session", cmd.SenderSessionID))
	default:
		p = world.NewPlayer(cmd.PlayerID, s.names.Get(cmd.PlayerID), s.spawnPos(zoneID), s.cfg.MoveSpeed, cmd.SenderSessionID)
		s.world.AddPlayer(p)
		s.index.Insert(p.ID, p.Pos)
		s.log.Info("player entered world",
			zap.Uint64("player", p.ID),
			zap.Int32("zone", zoneID),
			zap.Float32("x", p.Pos.X),
			zap.Float32("y", p.Pos.Y))
	}

	sess.SetState(packet.StateInWorld)

	// Neighbors' cached visible sets predate the newcomer. Drop them so
	// their next snapshot picks it up instead of waiting out the refresh
	// interval.
	near := s.nearbyActive(p)
	for _, q := range near {
		s.aoi.Remove(q.ID)
	}
	sess.Send(game.EncodeZoneEntered(zoneID, p, near))
	s.stateBuf = near[:0]

	s.broadcastJoined(p)
}

func (s *Sim) handlePlayerDisconnect(cmd game.Command) {
	p := s.world.GetPlayer(cmd.PlayerID)
	if p == nil {
		s.log.Debug("disconnect for unknown player", zap.Uint64("player", cmd.PlayerID))
		return
	}
	// A notification from a session the player already replaced must not
	// kick the live one.
	if cmd.SenderSessionID != 0 && p.SessionID != cmd.SenderSessionID {
		s.log.Debug("disconnect from superseded session, ignoring",
			zap.Uint64("player", cmd.PlayerID),
			zap.Uint64("session", cmd.SenderSessionID),
			zap.Uint64("holder", p.SessionID))
		return
	}
	if !p.Active {
		return
	}

	p.Deactivate(time.Now())
	s.index.Remove(p.ID)
	s.aoi.Remove(p.ID)
	s.broadcastLeft(p.ID)
	s.log.Info("player left world", zap.Uint64("player", p.ID))
}

// spawnPos picks a uniform position inside the zone's spawn margin.
func (s *Sim) spawnPos(zoneID int32) world.Vec3 {
	margin := float32(20)
	if z, ok := s.zones.Get(zoneID); ok && z.SpawnMargin > 0 {
		margin = z.SpawnMargin
	}
	x := margin + s.rng.Float32()*(s.cfg.MapWidth-2*margin)
	y := margin + s.rng.Float32()*(s.cfg.MapHeight-2*margin)
	return world.Vec2(x, y)
}

// nearbyActive returns the active players inside the interest radius
// around p, excluding p itself. The result aliases the scratch buffer.
func (s *Sim) nearbyActive(p *world.Player) []*world.Player {
	s.queryBuf = s.index.QueryInto(p.Pos, s.cfg.AOIRange, s.queryBuf[:0])

	near := s.stateBuf[:0]
	for _, id := range s.queryBuf {
		if id == p.ID {
			continue
		}
		if q := s.world.GetPlayer(id); q != nil && q.Active {
			near = append(near, q)
		}
	}
	return near
}

func (s *Sim) broadcastJoined(joined *world.Player) {
	payload := game.EncodePlayerJoined(joined)
	s.broadcast(payload, joined.ID)
}

func (s *Sim) broadcastLeft(playerID uint64) {
	payload := game.EncodePlayerLeft(playerID)
	s.broadcast(payload, playerID)
}

// broadcast sends payload to every active player except the one named.
func (s *Sim) broadcast(payload []byte, except uint64) {
	s.world.ForEachPlayer(func(p *world.Player) {
		if !p.Active || p.ID == except {
			return
		}
		if sess, ok := s.sessions.Get(p.SessionID); ok {
			sess.Send(payload)
		}
	})
}

// integrate advances the clock and moves every active player, rejecting
// steps that leave the map. Positions commit to the spatial index in the
// same pass, keeping world and index in agreement at tick end.
func (s *Sim) integrate() {
	s.tick++
	s.serverTime = uint64(time.Now().UnixMilli())
	dt := 1 / float32(s.cfg.TickRate)

	s.world.Update(dt)

	s.world.ForEachPlayer(func(p *world.Player) {
		if !p.Active || p.Velocity == (world.Vec3{}) {
			return
		}
		proposed := p.Pos.Add(p.Velocity.Scale(dt))
		if proposed.X < 0 || proposed.X >= s.cfg.MapWidth ||
			proposed.Y < 0 || proposed.Y >= s.cfg.MapHeight {
			return
		}
		p.Pos = proposed
		s.index.Update(p.ID, proposed)
	})
}

// composeSnapshots builds one S_WorldSnapshot per active player from its
// cached or recomputed visible set.
func (s *Sim) composeSnapshots() {
	s.world.ForEachPlayer(func(p *world.Player) {
		if !p.Active {
			return
		}

		var visible []uint64
		if s.aoi.ShouldUpdate(p.ID, p.Pos, s.tick) {
			s.queryBuf = s.index.QueryInto(p.Pos, s.cfg.AOIRange, s.queryBuf[:0])
			visible = s.aoi.Store(p.ID, s.queryBuf, p.Pos, s.tick)
		} else {
			visible = s.aoi.Get(p.ID)
		}

		states := s.stateBuf[:0]
		for _, id := range visible {
			if q := s.world.GetPlayer(id); q != nil && q.Active {
				states = append(states, q)
			}
		}

		frame := game.EncodeWorldSnapshot(s.tick, s.serverTime, states)
		s.batches[p.SessionID] = append(s.batches[p.SessionID], frame)
		s.stateBuf = states[:0]
	})
}

// flushBatches hands each session its tick's frames in one SendBatch.
func (s *Sim) flushBatches() {
	if len(s.batches) == 0 {
		return
	}
	for sessID, frames := range s.batches {
		if sess, ok := s.sessions.Get(sessID); ok && !sess.IsClosed() {
			sess.SendBatch(frames)
			s.col.SnapshotsEnqueued(len(frames))
		}
	}
	clear(s.batches)
}

// sweepDisconnected hard-removes players whose reconnect window expired.
func (s *Sim) sweepDisconnected() {
	cutoff := time.Now().Add(-s.cfg.ReconnectTimeout)

	var expired []uint64
	s.world.ForEachPlayer(func(p *world.Player) {
		if !p.Active && !p.DisconnectTime.IsZero() && p.DisconnectTime.Before(cutoff) {
			expired = append(expired, p.ID)
		}
	})
	for _, id := range expired {
		s.world.RemovePlayer(id)
		s.aoi.Remove(id)
		s.log.Info("reconnect window expired, removing player", zap.Uint64("player", id))
	}
}
