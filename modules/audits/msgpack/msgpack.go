package msgpack

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/vmihailenco/msgpack/v5"
)

type msgpackAuditor struct {
	id      string
	outfile string
	mu      sync.Mutex
	out     io.WriteCloser
	buf     *bufio.Writer
	enc     *msgpack.Encoder
}

// New returns an auditor encoding every record as msgpack map into outfile. "-" writes to stdout.
func New(name, outfile string) middlebox.Auditor {
	return &msgpackAuditor{
		id:      name,
		outfile: outfile,
	}
}

func (ma *msgpackAuditor) ID() string {
	return ma.id
}

func (ma *msgpackAuditor) Init() error {
	if ma.outfile == "-" {
		ma.out = os.Stdout
	} else {
		f, err := os.Create(ma.outfile)
		if err != nil {
			return err
		}
		ma.out = f
	}
	ma.buf = bufio.NewWriter(ma.out)
	ma.enc = msgpack.NewEncoder(ma.buf)
	return nil
}

func (ma *msgpackAuditor) Audit(rec *middlebox.Record) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.enc.Encode(rec)
}

func (ma *msgpackAuditor) Finish() error {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	if ma.out == nil {
		return nil
	}
	err := ma.buf.Flush()
	if ma.out != os.Stdout {
		err = errors.Join(err, ma.out.Close())
	}
	ma.out = nil
	return err
}

// Read decodes all records from r.
func Read(r io.Reader) ([]middlebox.Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var ret []middlebox.Record
	for {
		var rec middlebox.Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, rec)
	}
}

func newMsgpackAuditor(name string, opts util.Options) (util.Module, error) {
	outfile, err := opts.String("file", "")
	if err != nil {
		return nil, err
	}
	if outfile == "" {
		return nil, errors.New("msgpack audit needs a file")
	}
	if name == "msgpack" {
		name = "msgpack|" + outfile
	}
	return New(name, outfile), nil
}

func msgpackHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s audit trail writes every decision as a msgpack map with the keys
run, time, src, dst, seq, len, verdict (0 accept, 1 block), rule, and worker
into a single file.

Options:
  file: <file>
    The output file. "-" writes to stdout.

Usage:
  audit:
    - type: %s
      options:
        file: audit.msgpack
`, name, name)
}

func init() {
	middlebox.RegisterAuditor("msgpack", "Write decisions as msgpack stream.", newMsgpackAuditor, msgpackHelp)
}
