// Package config reads the yaml configuration of a middlebox run and creates the engine and
// its modules from it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that can be given as string ("10us", "5s") or as integer
// number of nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var i int64
	if err := node.Decode(&i); err == nil {
		*d = Duration(i)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: expected duration", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Module selects a module by type and configures it.
type Module struct {
	Type    string       `yaml:"type"`
	Name    string       `yaml:"name,omitempty"`
	Options util.Options `yaml:"options,omitempty"`
}

// Connection is a stream of content read from Source and sent from From to To.
type Connection struct {
	From   uint64 `yaml:"from"`
	To     uint64 `yaml:"to"`
	Source Module `yaml:"source"`
}

// Ports is the closed range of valid port ids.
type Ports struct {
	Min uint64 `yaml:"min"`
	Max uint64 `yaml:"max"`
}

// Config is the complete configuration of a run.
type Config struct {
	Workers     int          `yaml:"workers"`
	RingSize    int          `yaml:"ring_size"`
	MessageSize int          `yaml:"message_size"`
	Timeout     Duration     `yaml:"timeout"`
	Idle        Duration     `yaml:"idle"`
	Deadline    Duration     `yaml:"deadline"` // 0 runs until all sources are exhausted
	BackoffMin  Duration     `yaml:"backoff_min"`
	BackoffMax  Duration     `yaml:"backoff_max"`
	Jitter      Duration     `yaml:"jitter"`
	Ports       Ports        `yaml:"ports"`
	Connections []Connection `yaml:"connections"`
	Filters     []Module     `yaml:"filters"`
	Sink        Module       `yaml:"sink"`
	Audit       []Module     `yaml:"audit"`
}

// Default returns the default configuration without connections. Packets are checked with
// the ports and trigger filters, written to files in output, and logged to output/<port>_debug.txt.
func Default() *Config {
	ec := middlebox.DefaultConfig()
	return &Config{
		Workers:     ec.Workers,
		RingSize:    ec.RingSize,
		MessageSize: ec.MessageSize,
		Timeout:     Duration(ec.Timeout),
		Idle:        Duration(ec.Idle),
		Deadline:    Duration(ec.Deadline),
		BackoffMin:  Duration(ec.BackoffMin),
		BackoffMax:  Duration(ec.BackoffMax),
		Jitter:      Duration(ec.Jitter),
		Ports:       Ports{Min: uint64(ec.Ports.Min), Max: uint64(ec.Ports.Max)},
		Filters: []Module{
			{Type: "ports"},
			{Type: "trigger"},
		},
		Sink:  Module{Type: "file"},
		Audit: []Module{{Type: "text"}},
	}
}

// Parse decodes data on top of the default configuration and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads and parses a yaml configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// EngineConfig converts the configuration into the engine parameters.
func (c *Config) EngineConfig(logger *slog.Logger) middlebox.Config {
	return middlebox.Config{
		Ports:       packet.PortRange{Min: packet.Port(c.Ports.Min), Max: packet.Port(c.Ports.Max)},
		Workers:     c.Workers,
		RingSize:    c.RingSize,
		MessageSize: c.MessageSize,
		Timeout:     time.Duration(c.Timeout),
		Idle:        time.Duration(c.Idle),
		Deadline:    time.Duration(c.Deadline),
		BackoffMin:  time.Duration(c.BackoffMin),
		BackoffMax:  time.Duration(c.BackoffMax),
		Jitter:      time.Duration(c.Jitter),
		Logger:      logger,
	}
}

// Validate checks the engine parameters, the module types, and the ports of every connection.
// Every connection needs its own source port.
func (c *Config) Validate() error {
	ec := c.EngineConfig(nil)
	if err := ec.Validate(); err != nil {
		return err
	}
	if len(c.Connections) == 0 {
		return errors.New("no connections")
	}
	from := make(map[uint64]int, len(c.Connections))
	for i, conn := range c.Connections {
		if j, ok := from[conn.From]; ok {
			return fmt.Errorf("connection %d: from %d already used by connection %d: %w", i, conn.From, j, middlebox.ErrDuplicateSource)
		}
		from[conn.From] = i
		if err := ec.Ports.Validate(packet.Port(conn.From)); err != nil {
			return fmt.Errorf("connection %d: from: %w", i, err)
		}
		if err := ec.Ports.Validate(packet.Port(conn.To)); err != nil {
			return fmt.Errorf("connection %d: to: %w", i, err)
		}
		if conn.Source.Type == "" {
			return fmt.Errorf("connection %d: missing source type", i)
		}
	}
	if c.Sink.Type == "" {
		return errors.New("missing sink type")
	}
	for i, f := range c.Filters {
		if f.Type == "" {
			return fmt.Errorf("filter %d: missing type", i)
		}
	}
	for i, a := range c.Audit {
		if a.Type == "" {
			return fmt.Errorf("audit %d: missing type", i)
		}
	}
	return nil
}

// Modules holds the modules created from a configuration.
type Modules struct {
	Filters packet.Filters
	Sink    middlebox.Sink
	Audit   middlebox.Auditors
	Sources []packet.Source
}

// Finish finishes the sink and all audit trails and closes all sources.
func (m *Modules) Finish() error {
	var errs []error
	for _, s := range m.Sources {
		errs = append(errs, s.Close())
	}
	if m.Sink != nil {
		errs = append(errs, m.Sink.Finish())
	}
	errs = append(errs, m.Audit.Finish())
	return errors.Join(errs...)
}

// Modules creates and initializes all modules. created is called for every module right after
// it was initialized, which allows registering cleanup handlers. On error, the already created
// modules are finished.
func (c *Config) Modules(created func(util.Module)) (m *Modules, err error) {
	m = &Modules{}
	if created == nil {
		created = func(util.Module) {}
	}
	defer func() {
		if err != nil {
			m.Finish()
			m = nil
		}
	}()
	for _, f := range c.Filters {
		filter, err := packet.MakeFilter(f.Type, f.Name, f.Options)
		if err != nil {
			return m, err
		}
		created(filter)
		m.Filters = append(m.Filters, filter)
	}
	m.Sink, err = middlebox.MakeSink(c.Sink.Type, c.Sink.Name, c.Sink.Options)
	if err != nil {
		return m, err
	}
	created(m.Sink)
	for _, a := range c.Audit {
		audit, err := middlebox.MakeAuditor(a.Type, a.Name, a.Options)
		if err != nil {
			return m, err
		}
		created(audit)
		m.Audit = append(m.Audit, audit)
	}
	for i, conn := range c.Connections {
		source, err := packet.MakeSource(conn.Source.Type, conn.Source.Name, conn.Source.Options)
		if err != nil {
			return m, fmt.Errorf("connection %d: %w", i, err)
		}
		created(source)
		m.Sources = append(m.Sources, source)
	}
	return m, nil
}

// Engine creates all modules and an engine with every connection added.
func (c *Config) Engine(logger *slog.Logger, created func(util.Module)) (*middlebox.Engine, *Modules, error) {
	m, err := c.Modules(created)
	if err != nil {
		return nil, nil, err
	}
	e, err := middlebox.NewEngine(c.EngineConfig(logger), m.Filters, m.Sink, m.Audit)
	if err != nil {
		m.Finish()
		return nil, nil, err
	}
	for i, conn := range c.Connections {
		if err := e.AddConnection(packet.Port(conn.From), packet.Port(conn.To), m.Sources[i]); err != nil {
			m.Finish()
			return nil, nil, err
		}
	}
	return e, m, nil
}
