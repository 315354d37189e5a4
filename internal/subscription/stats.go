package subscription

import "sync/atomic"

// Stats accumulates registry counters for the diag endpoint and the monitor.
type Stats struct {
	subscribes   atomic.Uint64
	unsubscribes atomic.Uint64
	deliveries   atomic.Uint64
	drops        atomic.Uint64
}

// StatsSnapshot is a point-in-time copy safe to marshal.
type StatsSnapshot struct {
	Subscribes   uint64 `json:"subscribes"`
	Unsubscribes uint64 `json:"unsubscribes"`
	Active       uint64 `json:"active"`
	Deliveries   uint64 `json:"deliveries"`
	Drops        uint64 `json:"drops"`
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) subscribed()   { s.subscribes.Add(1) }
func (s *Stats) unsubscribed() { s.unsubscribes.Add(1) }
func (s *Stats) delivered()    { s.deliveries.Add(1) }
func (s *Stats) dropped()      { s.drops.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	sub := s.subscribes.Load()
	unsub := s.unsubscribes.Load()
	var active uint64
	if sub > unsub {
		active = sub - unsub
	}
	return StatsSnapshot{
		Subscribes:   sub,
		Unsubscribes: unsub,
		Active:       active,
		Deliveries:   s.deliveries.Load(),
		Drops:        s.drops.Load(),
	}
}
