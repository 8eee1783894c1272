package middlebox

import (
	"fmt"
	"io"
	"sync/atomic"
)

type counters struct {
	packets     atomic.Uint64
	accepted    atomic.Uint64
	blocked     atomic.Uint64
	forwarded   atomic.Uint64
	mismatches  atomic.Uint64
	stale       atomic.Uint64
	auditErrors atomic.Uint64
}

// Stats holds the packet statistics of an engine
type Stats struct {
	// Produced is the number of packets inserted into the ring by all producers.
	Produced uint64
	// Retries counts insertions that found the ring full.
	Retries uint64
	// Packets is the number of packets removed from the ring.
	Packets     uint64
	Accepted    uint64
	Blocked     uint64
	Forwarded   uint64
	Mismatches  uint64
	Stale       uint64
	AuditErrors uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Packets:     c.packets.Load(),
		Accepted:    c.accepted.Load(),
		Blocked:     c.blocked.Load(),
		Forwarded:   c.forwarded.Load(),
		Mismatches:  c.mismatches.Load(),
		Stale:       c.stale.Load(),
		AuditErrors: c.auditErrors.Load(),
	}
}

// PrintStats writes the packet statistics to w
func (s Stats) PrintStats(w io.Writer) {
	fmt.Fprintf(w,
		`Packet statistics:
	produced: %d
	full retries: %d
	processed: %d
	accepted: %d
	blocked: %d
	forwarded bytes: %d
	write mismatches: %d
	stale: %d
	audit errors: %d
`, s.Produced, s.Retries, s.Packets, s.Accepted, s.Blocked, s.Forwarded, s.Mismatches, s.Stale, s.AuditErrors)
}
