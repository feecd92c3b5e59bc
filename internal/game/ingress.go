package game

import (
	"context"
	"sync"

	"go.uber.org/zap"

	gnet "github.com/gommo/server/internal/net"
	"github.com/gommo/server/internal/net/packet"
	"github.com/gommo/server/internal/world"
)

type inboundJob struct {
	sess    *gnet.Session
	payload []byte
}

// IngressPool turns raw inbound payloads into handler dispatches and
// simulation commands. Session read loops feed it through HandleInbound;
// jobs are sharded by session ID across N workers, so one worker sees all
// of a session's packets and commands reach the queue in the order the
// client sent them. Login and chat packets go straight to their registered
// handlers; game packets become commands on the command queue.
type IngressPool struct {
	shards   []chan inboundJob
	queueCap int
	commands *CommandQueue
	registry *packet.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *zap.Logger
}

func NewIngressPool(queueSize int, commands *CommandQueue, registry *packet.Registry, log *zap.Logger) *IngressPool {
	ctx, cancel := context.WithCancel(context.Background())
	if queueSize < 1 {
		queueSize = 1
	}
	return &IngressPool{
		queueCap: queueSize,
		commands: commands,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
}

// Start launches n workers, splitting the job buffer across their shards.
// HandleInbound must not be called before Start.
func (p *IngressPool) Start(n int) {
	if n < 1 {
		n = 1
	}
	size := p.queueCap / n
	if size < 1 {
		size = 1
	}
	p.shards = make([]chan inboundJob, n)
	for i := range p.shards {
		p.shards[i] = make(chan inboundJob, size)
	}
	for _, shard := range p.shards {
		p.wg.Add(1)
		go p.worker(shard)
	}
}

// Stop cancels the workers and waits for them to exit. Queued jobs that
// were not picked up are discarded.
func (p *IngressPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// HandleInbound enqueues one payload onto the shard owning the session.
// When that shard is saturated this blocks the calling read loop, which
// throttles the connections feeding it.
func (p *IngressPool) HandleInbound(s *gnet.Session, payload []byte) {
	shard := p.shards[s.ID%uint64(len(p.shards))]
	select {
	case shard <- inboundJob{sess: s, payload: payload}:
	case <-p.ctx.Done():
	}
}

func (p *IngressPool) worker(jobs <-chan inboundJob) {
	defer p.wg.Done()
	for {
		select {
		case j := <-jobs:
			p.process(j)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *IngressPool) process(j inboundJob) {
	id := packet.PeekID(j.payload)

	if !id.IsGame() {
		if err := p.registry.Dispatch(j.sess, j.sess.State(), j.payload); err != nil {
			p.log.Warn("packet dispatch failed",
				zap.Uint64("session", j.sess.ID),
				zap.String("packet", id.String()),
				zap.Error(err))
		}
		return
	}

	playerID := j.sess.PlayerID()
	if playerID == 0 {
		p.log.Warn("game packet before login, dropping",
			zap.Uint64("session", j.sess.ID),
			zap.String("packet", id.String()))
		return
	}

	switch id {
	case packet.IDCPlayerInput:
		r := packet.NewReader(j.payload)
		flags := r.ReadC()
		seq := r.ReadDU()
		if r.Truncated() {
			p.log.Warn("malformed player input, dropping", zap.Uint64("session", j.sess.ID))
			return
		}
		var mouse world.Vec3
		if r.Remaining() > 0 {
			mouse = world.Vec3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()}
			r.ReadQ() // client time, advisory
			r.ReadQ() // client tick, advisory
		}
		p.commands.Push(NewPlayerInputCommand(playerID, j.sess.ID, flags, seq, mouse))

	case packet.IDCEnterZone:
		r := packet.NewReader(j.payload)
		zoneID := r.ReadD()
		if r.Truncated() {
			p.log.Warn("malformed enter zone, dropping", zap.Uint64("session", j.sess.ID))
			return
		}
		var commandID int64
		if r.Remaining() > 0 {
			commandID = int64(r.ReadQ())
		}
		p.commands.Push(NewEnterZoneCommand(playerID, zoneID, j.sess.ID, commandID))

	default:
		p.log.Warn("unhandled game packet, dropping",
			zap.Uint64("session", j.sess.ID),
			zap.String("packet", id.String()))
	}
}
