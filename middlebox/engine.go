package middlebox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/ring"
	"github.com/rs/xid"
)

// ErrDuplicateSource is returned for a second connection from an already used source port.
// Sequence numbers are counted per source, so a source port carries exactly one connection.
var ErrDuplicateSource = errors.New("middlebox: duplicate source port")

// Config holds the parameters of an engine
type Config struct {
	// Ports is the range of valid source and destination ports.
	Ports packet.PortRange
	// Workers is the number of concurrent consumers.
	Workers int
	// RingSize is the storage size of the shared ring in bytes.
	RingSize int
	// MessageSize is the largest message a worker can remove, header included.
	MessageSize int
	// Timeout is the maximum time a ring operation blocks.
	Timeout time.Duration
	// Idle is the pause of a worker after the ring was found empty. Cancellation cuts it short.
	Idle time.Duration
	// Deadline stops the engine after the given time. 0 waits until all sources are exhausted.
	Deadline time.Duration
	// BackoffMin, BackoffMax, and Jitter are forwarded to the producers.
	BackoffMin, BackoffMax time.Duration
	Jitter                 time.Duration
	Logger                 *slog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	pc := packet.DefaultProducerConfig(1)
	return Config{
		Ports:       packet.DefaultPortRange,
		Workers:     4,
		RingSize:    1024,
		MessageSize: 256,
		Timeout:     ring.DefaultTimeout,
		Idle:        10 * time.Microsecond,
		Deadline:    5 * time.Second,
		BackoffMin:  pc.BackoffMin,
		BackoffMax:  pc.BackoffMax,
		Jitter:      pc.Jitter,
	}
}

// ChunkSize returns the maximum content size of a single packet.
func (c *Config) ChunkSize() int {
	return c.MessageSize - ring.PrefixSize - packet.HeaderSize
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch {
	case c.Ports.Max < c.Ports.Min:
		return fmt.Errorf("port range [%d, %d] is empty", c.Ports.Min, c.Ports.Max)
	case c.Workers < 1:
		return fmt.Errorf("need at least one worker, got %d", c.Workers)
	case c.ChunkSize() < 1:
		return fmt.Errorf("message size %d leaves no room for content", c.MessageSize)
	case c.MessageSize > c.RingSize-1:
		return fmt.Errorf("message size %d does not fit into ring of %d bytes", c.MessageSize, c.RingSize)
	case c.Timeout < 0 || c.Idle < 0 || c.Deadline < 0:
		return errors.New("durations must not be negative")
	case c.BackoffMax < c.BackoffMin:
		return fmt.Errorf("backoff max %s is smaller than min %s", c.BackoffMax, c.BackoffMin)
	}
	return nil
}

// Engine connects producers, the shared ring, and the worker pool.
type Engine struct {
	cfg       Config
	id        xid.ID
	logger    *slog.Logger
	ring      *ring.Ring
	turnstile *Turnstile
	forwarder *Forwarder
	sink      Sink
	audit     Auditor
	producers []*packet.Producer
	sources   map[packet.Port]struct{}
	stats     counters

	stop     chan struct{}
	stopOnce sync.Once

	failed    chan struct{}
	failOnce  sync.Once
	fatal     error
	runOnce   sync.Once
	finishErr error
}

// NewEngine creates an engine inspecting packets with filters and forwarding them to sink.
// audit may be nil.
func NewEngine(cfg Config, filters packet.Filters, sink Sink, audit Auditor) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("engine needs a sink")
	}
	if audit == nil {
		audit = Auditors(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := xid.New()
	logger = logger.With("run", id.String())
	e := &Engine{
		cfg:       cfg,
		id:        id,
		logger:    logger,
		ring:      ring.New(cfg.RingSize, ring.WithTimeout(cfg.Timeout)),
		turnstile: NewTurnstile(cfg.Ports),
		sink:      sink,
		audit:     audit,
		sources:   make(map[packet.Port]struct{}),
		stop:      make(chan struct{}),
		failed:    make(chan struct{}),
	}
	e.forwarder = newForwarder(cfg.Ports, NewInspector(filters), sink, audit, id.String(), logger, &e.stats)
	return e, nil
}

// ID returns the unique id of this run.
func (e *Engine) ID() xid.ID {
	return e.id
}

// AddConnection adds a producer reading from source and sending packets from -> to.
// Must be called before Run.
func (e *Engine) AddConnection(from, to packet.Port, source packet.Source) error {
	if err := e.cfg.Ports.Validate(from); err != nil {
		return fmt.Errorf("connection %d -> %d: %w", from, to, err)
	}
	if err := e.cfg.Ports.Validate(to); err != nil {
		return fmt.Errorf("connection %d -> %d: %w", from, to, err)
	}
	if _, ok := e.sources[from]; ok {
		return fmt.Errorf("connection %d -> %d: %w", from, to, ErrDuplicateSource)
	}
	e.sources[from] = struct{}{}
	pc := packet.ProducerConfig{
		ChunkSize:  e.cfg.ChunkSize(),
		BackoffMin: e.cfg.BackoffMin,
		BackoffMax: e.cfg.BackoffMax,
		Jitter:     e.cfg.Jitter,
		Logger:     e.logger,
	}
	e.producers = append(e.producers, packet.NewProducer(source, from, to, e.ring, pc))
	return nil
}

// Stop starts the shutdown of a running engine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// fail records the first fatal error and tears down the ring and the turnstile.
func (e *Engine) fail(err error) {
	e.failOnce.Do(func() {
		e.fatal = err
		e.logger.Error("fatal error", "error", err)
		e.ring.Close()
		e.turnstile.Abort()
		close(e.failed)
	})
}

// Run starts producers and workers and blocks until the engine is shut down.
// Shutdown starts at the earliest of the deadline, ctx cancellation, Stop, or all sources being exhausted.
// Packets already in the ring are still processed. The sink and the audit trail are finished before Run returns.
// A fatal error, like a packet with an invalid port, is returned.
func (e *Engine) Run(ctx context.Context) error {
	err := errors.New("engine already ran")
	e.runOnce.Do(func() {
		err = e.run(ctx)
	})
	return err
}

func (e *Engine) run(ctx context.Context) error {
	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}
	producerCtx, cancelProducers := context.WithCancel(ctx)
	defer cancelProducers()
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	e.logger.Info("starting", "connections", len(e.producers), "workers", e.cfg.Workers, "ring", e.cfg.RingSize)
	start := time.Now()

	var producers sync.WaitGroup
	for _, p := range e.producers {
		producers.Add(1)
		go func(p *packet.Producer) {
			defer producers.Done()
			if err := p.Run(producerCtx); err != nil {
				e.logger.Error("producer failed", "error", err)
			}
		}(p)
	}
	exhausted := make(chan struct{})
	go func() {
		producers.Wait()
		close(exhausted)
	}()

	var workers sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			e.work(workerCtx, id)
		}(i)
	}

	select {
	case <-exhausted:
		e.logger.Info("all sources exhausted")
	case <-ctx.Done():
		e.logger.Info("deadline reached", "reason", ctx.Err())
	case <-e.stop:
		e.logger.Info("stop requested")
	case <-e.failed:
	}

	e.ring.CloseWrite()
	cancelProducers()
	cancelWorkers()
	<-exhausted
	workers.Wait()
	e.ring.Close()

	e.logger.Info("stopped", "duration", time.Since(start))
	e.finishErr = errors.Join(e.sink.Finish(), e.audit.Finish())
	if e.fatal != nil {
		return e.fatal
	}
	if e.finishErr != nil {
		return fmt.Errorf("finish: %w", e.finishErr)
	}
	return nil
}

func (e *Engine) work(ctx context.Context, id int) {
	buf := make([]byte, e.cfg.MessageSize)
	logger := e.logger.With("worker", id)
	for {
		n, err := e.ring.Remove(ctx, buf)
		switch {
		case err == nil:
		case errors.Is(err, ring.ErrEmpty):
			// after cancellation the next Remove drains what is left and returns ErrClosed
			e.idle(ctx)
			continue
		case errors.Is(err, ring.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			e.fail(fmt.Errorf("worker %d: %w", id, err))
			return
		}
		e.stats.packets.Add(1)
		if err := e.handle(logger, id, buf[:n]); err != nil {
			e.fail(fmt.Errorf("worker %d: %w", id, err))
			return
		}
	}
}

func (e *Engine) idle(ctx context.Context) {
	t := time.NewTimer(e.cfg.Idle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// handle passes one packet through the turnstile and the forwarder. Returned errors are fatal.
func (e *Engine) handle(logger *slog.Logger, worker int, data []byte) error {
	pkt, err := packet.Decode(data)
	if err != nil {
		return err
	}
	if err := e.cfg.Ports.Validate(pkt.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	// an invalid destination still consumes the sequence number, so later packets of the source do not wait forever
	dstErr := e.cfg.Ports.Validate(pkt.Destination)
	var ferr error
	err = e.turnstile.Pass(pkt.Source, pkt.Sequence, func() {
		if dstErr != nil {
			return
		}
		_, ferr = e.forwarder.Forward(worker, &pkt)
	})
	switch {
	case errors.Is(err, ErrStaleSequence):
		e.stats.stale.Add(1)
		logger.Warn("dropping packet", "error", err)
		return nil
	case err != nil:
		return err
	case dstErr != nil:
		return fmt.Errorf("destination: %w", dstErr)
	case ferr != nil:
		logger.Error("forwarding failed", "src", uint64(pkt.Source), "seq", pkt.Sequence, "error", ferr)
	}
	return nil
}

// Stats returns a snapshot of the engine statistics
func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	for _, p := range e.producers {
		ps := p.Stats()
		s.Produced += ps.Packets
		s.Retries += ps.Retries
	}
	return s
}

// PrintStats writes the packet statistics to w
func (e *Engine) PrintStats(w io.Writer) {
	e.Stats().PrintStats(w)
}
