package null

import (
	"fmt"
	"io"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type nullSink struct {
	id string
}

func (ns *nullSink) ID() string { return ns.id }

func (ns *nullSink) Init() error { return nil }

func (ns *nullSink) Append(dst packet.Port, p []byte) (int, error) { return len(p), nil }

func (ns *nullSink) Finish() error { return nil }

func newNullSink(name string, opts util.Options) (util.Module, error) {
	return &nullSink{id: name}, nil
}

func nullHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s sink accepts and discards all content.
`, name)
}

func init() {
	middlebox.RegisterSink("null", "Discard all content.", newNullSink, nullHelp)
}
