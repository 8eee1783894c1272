package inline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type inlineSource struct {
	id   string
	data []byte
	r    *bytes.Reader
}

// New returns a source providing data repeated count times.
func New(name string, data []byte, count int) packet.Source {
	return &inlineSource{
		id:   name,
		data: bytes.Repeat(data, count),
	}
}

func (s *inlineSource) ID() string {
	return s.id
}

func (s *inlineSource) Init() error {
	s.r = bytes.NewReader(s.data)
	return nil
}

func (s *inlineSource) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, io.EOF
	}
	return s.r.Read(p)
}

func (s *inlineSource) Close() error {
	s.r = nil
	return nil
}

func newInlineSource(name string, opts util.Options) (util.Module, error) {
	data, err := opts.String("data", "")
	if err != nil {
		return nil, err
	}
	repeat, err := opts.Int("repeat", 1)
	if err != nil {
		return nil, err
	}
	if repeat < 0 {
		return nil, fmt.Errorf("repeat must not be negative, got %d", repeat)
	}
	return New(name, []byte(data), repeat), nil
}

func inlineHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s source provides the content given in the configuration.

Options:
  data: <string>
    The content of the connection.
  repeat: <n>
    Repeat data n times (default 1).

Usage:
  source:
    type: %s
    options:
      data: hello world
`, name, name)
}

func init() {
	packet.RegisterSource("inline", "Provide content from the configuration.", newInlineSource, inlineHelp)
}
