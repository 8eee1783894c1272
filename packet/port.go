package packet

import (
	"errors"
	"fmt"
)

// ErrInvalidPort is returned for a port outside of the configured range.
var ErrInvalidPort = errors.New("packet: invalid port")

// Port identifies the source or destination of a packet.
type Port uint64

// PortRange is an inclusive range of valid ports.
type PortRange struct {
	Min, Max Port
}

// DefaultPortRange holds the ports 0 to 1024.
var DefaultPortRange = PortRange{Min: 0, Max: 1024}

// Contains returns true if p lies within the range.
func (r PortRange) Contains(p Port) bool {
	return p >= r.Min && p <= r.Max
}

// Validate returns an error wrapping ErrInvalidPort if p lies outside of the range.
func (r PortRange) Validate(p Port) error {
	if !r.Contains(p) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPort, p, r.Min, r.Max)
	}
	return nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	if r.Max < r.Min {
		return 0
	}
	return int(r.Max-r.Min) + 1
}

// Index returns the position of p within the range. p must be contained in the range.
func (r PortRange) Index(p Port) int {
	return int(p - r.Min)
}
