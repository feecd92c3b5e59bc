// Package metrics exposes Prometheus instrumentation for the game server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gommo"

// Subsystems group metrics by the layer that produces them.
const (
	subsystemNet  = "net"
	subsystemSim  = "sim"
	subsystemProc = "proc"
)

// Label names.
const (
	labelKind  = "kind"
	labelPhase = "phase"
)

// Tick phases, used as values for labelPhase.
const (
	PhaseDrain    = "drain"
	PhaseUpdate   = "update"
	PhaseSnapshot = "snapshot"
	PhaseFlush    = "flush"
)

// tickBuckets cover the 33ms tick budget with room to see overruns.
var tickBuckets = []float64{.0005, .001, .0025, .005, .01, .02, .033, .05, .1, .25}

// Collector holds all game server Prometheus metrics.
//
// Every component that reports metrics takes a *Collector; a nil Collector
// is valid and turns all recording methods into no-ops, so tests and tools
// can run without a registry.
type Collector struct {
	// SessionsActive tracks currently open TCP sessions.
	SessionsActive prometheus.Gauge

	// PlayersActive tracks players currently in the world.
	PlayersActive prometheus.Gauge

	// QueueDepth tracks the simulation command queue backlog, sampled
	// once per report interval.
	QueueDepth prometheus.Gauge

	// AOIHitRatio tracks the fraction of interest queries answered from
	// the per-tick cache.
	AOIHitRatio prometheus.Gauge

	// CPUPercent and RSSBytes mirror process resource usage as sampled
	// by the SystemSampler.
	CPUPercent prometheus.Gauge
	RSSBytes   prometheus.Gauge

	// CommandsApplied counts simulation commands by kind.
	CommandsApplied *prometheus.CounterVec

	// SnapshotsSent counts world snapshot frames handed to sessions.
	SnapshotsSent prometheus.Counter

	// TickDuration observes the wall time of whole simulation ticks.
	TickDuration prometheus.Histogram

	// PhaseDuration observes per-phase tick time (drain, update,
	// snapshot, flush).
	PhaseDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsActive,
		c.PlayersActive,
		c.QueueDepth,
		c.AOIHitRatio,
		c.CPUPercent,
		c.RSSBytes,
		c.CommandsApplied,
		c.SnapshotsSent,
		c.TickDuration,
		c.PhaseDuration,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemNet,
			Name:      "sessions_active",
			Help:      "Number of currently open TCP sessions.",
		}),

		PlayersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "players_active",
			Help:      "Number of players currently in the world.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "command_queue_depth",
			Help:      "Commands waiting in the simulation queue at last report.",
		}),

		AOIHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "aoi_cache_hit_ratio",
			Help:      "Fraction of interest queries served from the per-tick cache.",
		}),

		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProc,
			Name:      "cpu_percent",
			Help:      "Process CPU usage percentage.",
		}),

		RSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProc,
			Name:      "rss_bytes",
			Help:      "Process resident set size in bytes.",
		}),

		CommandsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "commands_applied_total",
			Help:      "Total simulation commands applied, by kind.",
		}, []string{labelKind}),

		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "snapshots_sent_total",
			Help:      "Total world snapshot frames handed to session queues.",
		}),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of whole simulation ticks.",
			Buckets:   tickBuckets,
		}),

		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemSim,
			Name:      "tick_phase_duration_seconds",
			Help:      "Per-phase wall time within a simulation tick.",
			Buckets:   tickBuckets,
		}, []string{labelPhase}),
	}
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

// SetPlayers records the current in-world player count.
func (c *Collector) SetPlayers(n int) {
	if c == nil {
		return
	}
	c.PlayersActive.Set(float64(n))
}

// SetQueueDepth records the command queue backlog.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// SetAOIHitRatio records the interest cache hit ratio in [0,1].
func (c *Collector) SetAOIHitRatio(r float64) {
	if c == nil {
		return
	}
	c.AOIHitRatio.Set(r)
}

// CommandApplied increments the applied command counter for the given kind.
func (c *Collector) CommandApplied(kind string) {
	if c == nil {
		return
	}
	c.CommandsApplied.WithLabelValues(kind).Inc()
}

// SnapshotsEnqueued adds n to the snapshot frame counter.
func (c *Collector) SnapshotsEnqueued(n int) {
	if c == nil {
		return
	}
	c.SnapshotsSent.Add(float64(n))
}

// ObserveTick records the wall time of a full simulation tick.
func (c *Collector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

// ObservePhase records the wall time of one tick phase.
func (c *Collector) ObservePhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetProcessUsage records process CPU and memory as sampled from the OS.
func (c *Collector) SetProcessUsage(cpuPercent float64, rssBytes uint64) {
	if c == nil {
		return
	}
	c.CPUPercent.Set(cpuPercent)
	c.RSSBytes.Set(float64(rssBytes))
}
