package middlebox

import (
	"github.com/CN-TU/go-middlebox/packet"
)

// Verdict is the decision taken for a packet
type Verdict uint8

const (
	// Accept forwards the packet to the sink
	Accept Verdict = iota
	// Block drops the packet
	Block
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Block:
		return "block"
	}
	return "unknown"
}

// Inspector decides about packets based on a list of filters.
type Inspector struct {
	filters packet.Filters
}

// NewInspector returns an inspector blocking every packet matched by one of filters.
func NewInspector(filters packet.Filters) *Inspector {
	return &Inspector{filters: filters}
}

// Inspect returns the verdict for a packet and the ID of the blocking filter.
// The result only depends on the arguments.
func (i *Inspector) Inspect(src, dst packet.Port, content []byte) (Verdict, string) {
	if f := i.filters.Match(src, dst, content); f != nil {
		return Block, f.ID()
	}
	return Accept, ""
}
