package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Stats accumulates dispatch counters for the diag endpoint and the monitor.
type Stats struct {
	dispatches atomic.Uint64
	attempts   atomic.Uint64
	retries    atomic.Uint64

	mu       sync.Mutex
	failures map[bridge.Code]uint64
}

// StatsSnapshot is a point-in-time copy safe to marshal.
type StatsSnapshot struct {
	Dispatches uint64            `json:"dispatches"`
	Attempts   uint64            `json:"attempts"`
	Retries    uint64            `json:"retries"`
	Failures   map[string]uint64 `json:"failures,omitempty"`
}

func NewStats() *Stats {
	return &Stats{failures: make(map[bridge.Code]uint64)}
}

func (s *Stats) dispatch() { s.dispatches.Add(1) }
func (s *Stats) attempt()  { s.attempts.Add(1) }
func (s *Stats) retry()    { s.retries.Add(1) }

func (s *Stats) failure(code bridge.Code) {
	s.mu.Lock()
	s.failures[code]++
	s.mu.Unlock()
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Dispatches: s.dispatches.Load(),
		Attempts:   s.attempts.Load(),
		Retries:    s.retries.Load(),
	}
	s.mu.Lock()
	if len(s.failures) > 0 {
		snap.Failures = make(map[string]uint64, len(s.failures))
		for code, n := range s.failures {
			snap.Failures[string(code)] = n
		}
	}
	s.mu.Unlock()
	return snap
}
