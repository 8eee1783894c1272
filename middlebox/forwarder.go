package middlebox

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CN-TU/go-middlebox/packet"
)

// ErrWriteMismatch is returned if the sink did not take the whole content of a packet.
var ErrWriteMismatch = errors.New("middlebox: forward write mismatch")

// Forwarder inspects packets and writes accepted content to the sink. Every decision is audited.
type Forwarder struct {
	ports     packet.PortRange
	locks     []sync.Mutex
	inspector *Inspector
	sink      Sink
	audit     Auditor
	run       string
	logger    *slog.Logger
	stats     *counters
}

func newForwarder(ports packet.PortRange, inspector *Inspector, sink Sink, audit Auditor, run string, logger *slog.Logger, stats *counters) *Forwarder {
	return &Forwarder{
		ports:     ports,
		locks:     make([]sync.Mutex, ports.Len()),
		inspector: inspector,
		sink:      sink,
		audit:     audit,
		run:       run,
		logger:    logger,
		stats:     stats,
	}
}

// Forward inspects pkt and forwards it if accepted. A failed sink write is returned as ErrWriteMismatch;
// the packet counts as lost and the decision is audited nevertheless.
func (f *Forwarder) Forward(worker int, pkt *packet.Packet) (Verdict, error) {
	if err := pkt.Validate(f.ports); err != nil {
		return Block, err
	}
	verdict, rule := f.inspector.Inspect(pkt.Source, pkt.Destination, pkt.Content)
	rec := Record{
		Run:         f.run,
		Time:        time.Now(),
		Source:      pkt.Source,
		Destination: pkt.Destination,
		Sequence:    pkt.Sequence,
		Length:      len(pkt.Content),
		Verdict:     verdict,
		Rule:        rule,
		Worker:      worker,
		Content:     pkt.Content,
	}

	mu := &f.locks[f.ports.Index(pkt.Destination)]
	mu.Lock()
	defer mu.Unlock()

	var ferr error
	switch verdict {
	case Accept:
		n, err := f.sink.Append(pkt.Destination, pkt.Content)
		switch {
		case err != nil:
			ferr = fmt.Errorf("%w: %d bytes to %d: %w", ErrWriteMismatch, len(pkt.Content), pkt.Destination, err)
		case n != len(pkt.Content):
			ferr = fmt.Errorf("%w: wrote %d of %d bytes to %d", ErrWriteMismatch, n, len(pkt.Content), pkt.Destination)
		}
		if ferr != nil {
			f.stats.mismatches.Add(1)
		} else {
			f.stats.accepted.Add(1)
			f.stats.forwarded.Add(uint64(n))
		}
	case Block:
		f.stats.blocked.Add(1)
		f.logger.Debug("packet blocked", "src", uint64(pkt.Source), "dst", uint64(pkt.Destination), "seq", pkt.Sequence, "rule", rule)
	}

	if err := f.audit.Audit(&rec); err != nil {
		f.stats.auditErrors.Add(1)
		f.logger.Error("audit failed", "src", uint64(pkt.Source), "dst", uint64(pkt.Destination), "seq", pkt.Sequence, "error", err)
	}
	return verdict, ferr
}
