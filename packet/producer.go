package packet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/CN-TU/go-middlebox/ring"
)

// Inserter is the part of the ring used by producers.
type Inserter interface {
	Insert(ctx context.Context, msg []byte) error
}

// ProducerConfig holds the tunables of a Producer.
type ProducerConfig struct {
	// ChunkSize is the maximum content size of a single packet.
	ChunkSize int
	// BackoffMin and BackoffMax bound the random wait after the ring reported full.
	BackoffMin, BackoffMax time.Duration
	// Jitter is the upper bound of the random pause between two packets. 0 disables the pause.
	Jitter time.Duration
	Logger *slog.Logger
}

// DefaultProducerConfig returns the default configuration for packets of at most chunk bytes of content.
func DefaultProducerConfig(chunk int) ProducerConfig {
	return ProducerConfig{
		ChunkSize:  chunk,
		BackoffMin: 25 * time.Microsecond,
		BackoffMax: 75 * time.Microsecond,
		Jitter:     100 * time.Microsecond,
	}
}

// ProducerStats holds the counters of a producer
type ProducerStats struct {
	Packets uint64
	Bytes   uint64
	Retries uint64
}

// Producer reads chunks from a source and inserts them as numbered packets into the ring.
type Producer struct {
	source   Source
	from, to Port
	ring     Inserter
	cfg      ProducerConfig
	logger   *slog.Logger

	packets atomic.Uint64
	bytes   atomic.Uint64
	retries atomic.Uint64
}

// NewProducer creates a producer for the connection from -> to.
func NewProducer(source Source, from, to Port, r Inserter, cfg ProducerConfig) *Producer {
	if cfg.ChunkSize <= 0 {
		panic("packet: producer chunk size must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		source: source,
		from:   from,
		to:     to,
		ring:   r,
		cfg:    cfg,
		logger: logger.With("src", uint64(from), "dst", uint64(to), "source", source.ID()),
	}
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Packets: p.packets.Load(),
		Bytes:   p.bytes.Load(),
		Retries: p.retries.Load(),
	}
}

// Run produces packets until the source is exhausted, the ring is closed, or ctx is done.
// Only errors of the source are returned. The source is closed on return.
func (p *Producer) Run(ctx context.Context) error {
	defer p.source.Close()

	chunk := make([]byte, p.cfg.ChunkSize)
	frame := make([]byte, 0, HeaderSize+p.cfg.ChunkSize)
	var seq uint64
	for {
		n, err := p.source.Read(chunk)
		if n > 0 {
			pkt := Packet{Source: p.from, Destination: p.to, Sequence: seq, Content: chunk[:n]}
			frame = pkt.AppendTo(frame[:0])
			if ierr := p.insert(ctx, frame); ierr != nil {
				p.logger.Debug("producer stopped", "seq", seq, "reason", ierr)
				return nil
			}
			seq++
			p.packets.Add(1)
			p.bytes.Add(uint64(n))
			if serr := sleep(ctx, randomDuration(0, p.cfg.Jitter)); serr != nil {
				return nil
			}
		}
		if err == io.EOF {
			p.logger.Debug("source exhausted", "packets", seq)
			return nil
		}
		if err != nil {
			return fmt.Errorf("source %s: %w", p.source.ID(), err)
		}
	}
}

func (p *Producer) insert(ctx context.Context, frame []byte) error {
	for {
		err := p.ring.Insert(ctx, frame)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ring.ErrFull) {
			return err
		}
		p.retries.Add(1)
		if err := sleep(ctx, randomDuration(p.cfg.BackoffMin, p.cfg.BackoffMax)); err != nil {
			return err
		}
	}
}

func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
