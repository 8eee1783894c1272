package text

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type trail struct {
	f *os.File
	w *bufio.Writer
}

type textAuditor struct {
	id      string
	dir     string
	content bool
	mu      sync.Mutex
	trails  map[packet.Port]*trail
}

// New returns an auditor writing one line per packet to <dir>/<destination>_debug.txt.
// If content is true, the packet content is appended to the line.
func New(name, dir string, content bool) middlebox.Auditor {
	return &textAuditor{
		id:      name,
		dir:     dir,
		content: content,
		trails:  make(map[packet.Port]*trail),
	}
}

// Path returns the file the audit trail for dst is written to.
func Path(dir string, dst packet.Port) string {
	return filepath.Join(dir, fmt.Sprintf("%d_debug.txt", dst))
}

func (ta *textAuditor) ID() string {
	return ta.id
}

func (ta *textAuditor) Init() error {
	return os.MkdirAll(ta.dir, 0o755)
}

func (ta *textAuditor) trail(dst packet.Port) (*trail, error) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if t, ok := ta.trails[dst]; ok {
		return t, nil
	}
	f, err := os.OpenFile(Path(ta.dir, dst), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	t := &trail{f: f, w: bufio.NewWriter(f)}
	ta.trails[dst] = t
	return t, nil
}

func (ta *textAuditor) Audit(rec *middlebox.Record) error {
	t, err := ta.trail(rec.Destination)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.w, "%d %d %d", rec.Source, rec.Destination, rec.Sequence)
	if rec.Verdict == middlebox.Block {
		fmt.Fprintf(t.w, " BLOCKED(%s)", rec.Rule)
	}
	if ta.content {
		t.w.WriteByte(' ')
		t.w.Write(rec.Content)
	}
	return t.w.WriteByte('\n')
}

func (ta *textAuditor) Finish() error {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	var errs []error
	for dst, t := range ta.trails {
		errs = append(errs, t.w.Flush(), t.f.Close())
		delete(ta.trails, dst)
	}
	return errors.Join(errs...)
}

func newTextAuditor(name string, opts util.Options) (util.Module, error) {
	dir, err := opts.String("dir", "output")
	if err != nil {
		return nil, err
	}
	content, err := opts.Bool("content", true)
	if err != nil {
		return nil, err
	}
	return New(name, dir, content), nil
}

func textHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s audit trail writes one line per packet to a file per destination
port named <dir>/<port>_debug.txt:

  <source> <destination> <sequence> [BLOCKED(<rule>)] [<content>]

Accepted packets are logged as well. Blocked packets carry the name of the
matching filter as BLOCKED(<rule>) instead of a plain "MALICIOUS in <content>"
marker, so the lines differ from a debug trail that only records blocked
packets.

Options:
  dir: <directory>
    The output directory (default output).
  content: true|false
    Append the packet content to every line (default true).

Usage:
  audit:
    - type: %s
      options:
        dir: output
`, name, name)
}

func init() {
	middlebox.RegisterAuditor("text", "Write a text line per packet and destination.", newTextAuditor, textHelp)
}
