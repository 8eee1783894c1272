package csv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/util"
)

// produces RFC4180 conforming csv (except for the line ending, which is LF instead of CRLF)
// this does not use encoding/csv, since all fields except the rule are numbers and need no quoting

const writeBufferSize = 64 * 1024

// Fields are the column names of the written csv
var Fields = []string{"run", "time", "src", "dst", "seq", "len", "verdict", "rule", "worker"}

type csvAuditor struct {
	id      string
	outfile string
	flush   bool
	mu      sync.Mutex
	f       io.WriteCloser
	writer  *bufio.Writer
	line    []byte
}

// New returns an auditor writing one csv line per decision to outfile. "-" writes to stdout.
// If flush is true, every line is flushed immediately.
func New(name, outfile string, flush bool) middlebox.Auditor {
	return &csvAuditor{
		id:      name,
		outfile: outfile,
		flush:   flush,
	}
}

func (ca *csvAuditor) ID() string {
	return ca.id
}

func (ca *csvAuditor) Init() error {
	if ca.outfile == "-" {
		ca.f = os.Stdout
	} else {
		f, err := os.Create(ca.outfile)
		if err != nil {
			return fmt.Errorf("couldn't open file %s: %w", ca.outfile, err)
		}
		ca.f = f
	}
	ca.writer = bufio.NewWriterSize(ca.f, writeBufferSize)
	_, err := ca.writer.WriteString(strings.Join(Fields, ",") + "\n")
	return err
}

func appendString(b []byte, field string) []byte {
	if !strings.ContainsAny(field, "\"\r\n,") {
		return append(b, field...)
	}
	b = append(b, '"')
	b = append(b, strings.ReplaceAll(field, `"`, `""`)...)
	return append(b, '"')
}

func (ca *csvAuditor) Audit(rec *middlebox.Record) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.writer == nil {
		return errors.New("csv audit already finished")
	}
	b := ca.line[:0]
	b = appendString(b, rec.Run)
	b = append(b, ',')
	b = strconv.AppendInt(b, rec.Time.UnixNano(), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(rec.Source), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(rec.Destination), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, rec.Sequence, 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(rec.Length), 10)
	b = append(b, ',')
	b = append(b, rec.Verdict.String()...)
	b = append(b, ',')
	b = appendString(b, rec.Rule)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(rec.Worker), 10)
	b = append(b, '\n')
	ca.line = b
	if _, err := ca.writer.Write(b); err != nil {
		return err
	}
	if ca.flush {
		return ca.writer.Flush()
	}
	return nil
}

func (ca *csvAuditor) Finish() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.writer == nil {
		return nil
	}
	err := ca.writer.Flush()
	ca.writer = nil
	if ca.f != os.Stdout {
		err = errors.Join(err, ca.f.Close())
	}
	return err
}

func newCSVAuditor(name string, opts util.Options) (util.Module, error) {
	outfile, err := opts.String("file", "")
	if err != nil {
		return nil, err
	}
	if outfile == "" {
		return nil, errors.New("csv audit needs a file")
	}
	flush, err := opts.Bool("flush", false)
	if err != nil {
		return nil, err
	}
	if name == "csv" {
		name = "csv|" + outfile
	}
	return New(name, outfile, flush), nil
}

func csvHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s audit trail writes every decision as a line into a csv file. The
file starts with a header line containing the column names
%s.
time is in nanoseconds since the epoch, verdict is either accept or block.

Options:
  file: <file>
    The output file. "-" writes to stdout.
  flush: true|false
    Flush after every line (default false).

Usage:
  audit:
    - type: %s
      options:
        file: audit.csv
`, name, strings.Join(Fields, ", "), name)
}

func init() {
	middlebox.RegisterAuditor("csv", "Write decisions to a csv file.", newCSVAuditor, csvHelp)
}
