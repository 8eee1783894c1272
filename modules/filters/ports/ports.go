package ports

import (
	"fmt"
	"io"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

// DefaultSentinel is the port that is never allowed to communicate.
const DefaultSentinel = 42

type portFilter struct {
	id       string
	sentinel packet.Port
	loopback bool
}

func (pf *portFilter) ID() string {
	return pf.id
}

func (pf *portFilter) Init() error {
	return nil
}

func (pf *portFilter) Matches(src, dst packet.Port, content []byte) bool {
	switch {
	case pf.loopback && src == dst:
		return true
	case src == pf.sentinel, dst == pf.sentinel:
		return true
	case src+dst == pf.sentinel:
		return true
	}
	return false
}

// New returns a filter blocking packets between identical ports and packets involving the sentinel port.
func New(name string, sentinel packet.Port, loopback bool) packet.Filter {
	return &portFilter{
		id:       name,
		sentinel: sentinel,
		loopback: loopback,
	}
}

func newPortFilter(name string, opts util.Options) (util.Module, error) {
	sentinel, err := opts.Int("sentinel", DefaultSentinel)
	if err != nil {
		return nil, err
	}
	if sentinel < 0 {
		return nil, fmt.Errorf("sentinel port must not be negative, got %d", sentinel)
	}
	loopback, err := opts.Bool("loopback", true)
	if err != nil {
		return nil, err
	}
	return New(name, packet.Port(sentinel), loopback), nil
}

func portsHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s filter blocks packets based on source and destination port.

A packet is blocked if
  - source and destination are the same port (unless loopback is false)
  - source or destination is the sentinel port
  - source and destination add up to the sentinel port

Options:
  sentinel: <port>
    The sentinel port (default %d).
  loopback: true|false
    Block packets with identical source and destination (default true).

Usage:
  filters:
    - type: %s
      options:
        sentinel: %d
`, name, DefaultSentinel, name, DefaultSentinel)
}

func init() {
	packet.RegisterFilter("ports", "Block packets based on source and destination port.", newPortFilter, portsHelp)
}
