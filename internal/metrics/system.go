package metrics

import (
	"context"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// SystemSampler periodically samples process CPU and memory usage so the
// simulation report log and the Prometheus gauges share one measurement path.
type SystemSampler struct {
	proc *process.Process
	col  *Collector
	log  *zap.Logger

	cpuBits atomic.Uint64
	rss     atomic.Uint64
}

// NewSystemSampler builds a sampler for the current process. If the process
// handle cannot be obtained the sampler still works but reports zeros.
func NewSystemSampler(col *Collector, log *zap.Logger) *SystemSampler {
	s := &SystemSampler{col: col, log: log}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process handle unavailable, resource sampling disabled", zap.Error(err))
		return s
	}
	s.proc = proc

	// Prime the CPU delta so the first Sample measures a real interval.
	_, _ = proc.Percent(0)

	return s
}

// Run samples at the given interval until ctx is cancelled.
func (s *SystemSampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one CPU and memory reading and publishes it.
func (s *SystemSampler) Sample() {
	if s == nil || s.proc == nil {
		return
	}

	if pct, err := s.proc.Percent(0); err == nil {
		s.cpuBits.Store(math.Float64bits(pct))
	} else {
		s.log.Debug("cpu sample failed", zap.Error(err))
	}

	if mem, err := s.proc.MemoryInfo(); err == nil {
		s.rss.Store(mem.RSS)
	} else {
		s.log.Debug("memory sample failed", zap.Error(err))
	}

	cpu, rss := s.Snapshot()
	s.col.SetProcessUsage(cpu, rss)
}

// Snapshot returns the most recent readings. Safe from any goroutine.
func (s *SystemSampler) Snapshot() (cpuPercent float64, rssBytes uint64) {
	if s == nil {
		return 0, 0
	}
	return math.Float64frombits(s.cpuBits.Load()), s.rss.Load()
}
