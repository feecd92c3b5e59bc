package bot

import "sync/atomic"

// Stats aggregates counters across every bot of a run. All fields are
// written from bot goroutines and read once at exit.
type Stats struct {
	Logins      atomic.Uint64
	LoginFails  atomic.Uint64
	InputsSent  atomic.Uint64
	ChatSent    atomic.Uint64
	Snapshots   atomic.Uint64
	Entities    atomic.Uint64 // summed entity counts, for the per-snapshot average
	Joins       atomic.Uint64
	Leaves      atomic.Uint64
	ChatSeen    atomic.Uint64
	BytesIn     atomic.Uint64
	BytesOut    atomic.Uint64
	Disconnects atomic.Uint64
}

func NewStats() *Stats {
	return &Stats{}
}
