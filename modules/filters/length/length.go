package length

import (
	"errors"
	"fmt"
	"io"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type lengthFilter struct {
	id                    string
	shorter, longer       int
	checkshort, checklong bool
}

// New returns a filter blocking packets with less than shorter or more than longer bytes of
// content. A negative bound is not checked.
func New(name string, shorter, longer int) packet.Filter {
	return &lengthFilter{
		id:         name,
		shorter:    shorter,
		longer:     longer,
		checkshort: shorter >= 0,
		checklong:  longer >= 0,
	}
}

func (lf *lengthFilter) ID() string {
	return lf.id
}

func (lf *lengthFilter) Init() error {
	return nil
}

func (lf *lengthFilter) Matches(src, dst packet.Port, content []byte) bool {
	if lf.checkshort && len(content) < lf.shorter {
		return true
	}
	if lf.checklong && len(content) > lf.longer {
		return true
	}
	return false
}

func newLengthFilter(name string, opts util.Options) (util.Module, error) {
	shorter, err := opts.Int("min", -1)
	if err != nil {
		return nil, err
	}
	longer, err := opts.Int("max", -1)
	if err != nil {
		return nil, err
	}
	if shorter < 0 && longer < 0 {
		return nil, errors.New("length filter needs min, max, or both")
	}
	if longer >= 0 && longer < shorter {
		return nil, fmt.Errorf("length filter: max %d is smaller than min %d", longer, shorter)
	}
	if name == "length" {
		if shorter >= 0 {
			name += fmt.Sprint("|>=", shorter)
		}
		if longer >= 0 {
			name += fmt.Sprint("|<=", longer)
		}
	}
	return New(name, shorter, longer), nil
}

func lengthHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s filter blocks packets based on the length of their content.

Options:
  min: <bytes>
    Only packets with at least min bytes are accepted.
  max: <bytes>
    Only packets with at most max bytes are accepted.

Usage:
  filters:
    - type: %s
      options:
        min: 1
        max: 128
`, name, name)
}

func init() {
	packet.RegisterFilter("length", "Block packets based on content length.", newLengthFilter, lengthHelp)
}
