package middlebox

import (
	"fmt"
	"io"
	"sync"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

const sinkName = "sink"

// Sink receives the content of accepted packets. Append is never called concurrently for the same destination.
type Sink interface {
	util.Module
	// Append appends p to the stream of dst and returns the number of bytes written.
	Append(dst packet.Port, p []byte) (int, error)
	// Finish flushes and closes the sink.
	Finish() error
}

// RegisterSink registers a sink (see module system in util)
func RegisterSink(name, desc string, new util.ModuleCreator, help util.ModuleHelp) {
	util.RegisterModule(sinkName, name, desc, new, help)
}

// SinkHelp writes help for a specific sink to w (see module system in util)
func SinkHelp(which string, w io.Writer) error {
	return util.GetModuleHelp(sinkName, which, w)
}

// MakeSink creates a sink instance (see module system in util)
func MakeSink(which, name string, opts util.Options) (Sink, error) {
	module, err := util.CreateModule(sinkName, which, name, opts)
	if err != nil {
		return nil, err
	}
	return module.(Sink), nil
}

// ListSinks returns a list of sinks (see module system in util)
func ListSinks() ([]util.ModuleDescription, error) {
	return util.GetModules(sinkName)
}

// MemorySink keeps the forwarded content in memory.
type MemorySink struct {
	mu      sync.Mutex
	streams map[packet.Port][]byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{streams: make(map[packet.Port][]byte)}
}

// ID implements util.Module
func (m *MemorySink) ID() string { return "memory" }

// Init implements util.Module
func (m *MemorySink) Init() error { return nil }

// Append implements Sink
func (m *MemorySink) Append(dst packet.Port, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[dst] = append(m.streams[dst], p...)
	return len(p), nil
}

// Finish implements Sink
func (m *MemorySink) Finish() error { return nil }

// Bytes returns a copy of the content forwarded to dst.
func (m *MemorySink) Bytes(dst packet.Port) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.streams[dst]...)
}

func (m *MemorySink) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("memory sink with %d destinations", len(m.streams))
}
