package sim

import (
	"time"

	"go.uber.org/zap"

	"github.com/gommo/server/internal/world"
)

// perfCounters accumulates per-phase wall time across one report window.
type perfCounters struct {
	drain    time.Duration
	update   time.Duration
	snapshot time.Duration
	flush    time.Duration
	ticks    uint64
	commands uint64
}

func (pc *perfCounters) observe(drain, update, snapshot, flush time.Duration) {
	pc.drain += drain
	pc.update += update
	pc.snapshot += snapshot
	pc.flush += flush
	pc.ticks++
}

func (pc *perfCounters) avgMicros(total time.Duration) float64 {
	if pc.ticks == 0 {
		return 0
	}
	return float64(total.Microseconds()) / float64(pc.ticks)
}

func (pc *perfCounters) reset() {
	*pc = perfCounters{}
}

// report logs the window's per-phase averages and refreshes the gauges,
// then resets the window counters.
func (s *Sim) report() {
	resident, active := 0, 0
	s.world.ForEachPlayer(func(p *world.Player) {
		resident++
		if p.Active {
			active++
		}
	})

	hitRatio := s.aoi.HitRatio()
	depth := s.queue.Len()
	cpu, rss := s.sampler.Snapshot()

	s.log.Info("tick report",
		zap.Uint64("tick", s.tick),
		zap.Int("players", active),
		zap.Int("resident", resident),
		zap.Uint64("commands", s.perf.commands),
		zap.Int("queue_depth", depth),
		zap.Float64("drain_us", s.perf.avgMicros(s.perf.drain)),
		zap.Float64("update_us", s.perf.avgMicros(s.perf.update)),
		zap.Float64("snapshot_us", s.perf.avgMicros(s.perf.snapshot)),
		zap.Float64("flush_us", s.perf.avgMicros(s.perf.flush)),
		zap.Float64("aoi_hit_ratio", hitRatio),
		zap.Float64("cpu_pct", cpu),
		zap.Uint64("rss_bytes", rss))

	s.col.SetPlayers(active)
	s.col.SetQueueDepth(depth)
	s.col.SetAOIHitRatio(hitRatio)

	s.aoi.ResetStats()
	s.perf.reset()
}
