package file

import (
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

type fileSink struct {
	id    string
	dir   string
	mu    sync.Mutex
	files map[packet.Port]*os.File
}

// New returns a sink appending the content for every destination to <dir>/<destination>.txt.
func New(name, dir string) middlebox.Sink {
	return &fileSink{
		id:    name,
		dir:   dir,
		files: make(map[packet.Port]*os.File),
	}
}

// Path returns the file the content for dst is written to.
func Path(dir string, dst packet.Port) string {
	return filepath.Join(dir, fmt.Sprintf("%d.txt", dst))
}

func (fs *fileSink) ID() string {
	return fs.id
}

func (fs *fileSink) Init() error {
	return os.MkdirAll(fs.dir, 0o755)
}

func (fs *fileSink) file(dst packet.Port) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.files[dst]; ok {
		return f, nil
	}
	f, err := os.OpenFile(Path(fs.dir, dst), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	fs.files[dst] = f
	return f, nil
}

func (fs *fileSink) Append(dst packet.Port, p []byte) (int, error) {
	f, err := fs.file(dst)
	if err != nil {
		return 0, err
	}
	return f.Write(p)
}

func (fs *fileSink) Finish() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var errs []error
	for dst, f := range fs.files {
		errs = append(errs, f.Close())
		delete(fs.files, dst)
	}
	return errors.Join(errs...)
}

func newFileSink(name string, opts util.Options) (util.Module, error) {
	dir, err := opts.String("dir", "output")
	if err != nil {
		return nil, err
	}
	return New(name, dir), nil
}

func fileHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s sink appends the content of accepted packets to one file per
destination port named <dir>/<port>.txt.

Options:
  dir: <directory>
    The output directory (default output).

Usage:
  sink:
    type: %s
    options:
      dir: output
`, name, name)
}

func init() {
	middlebox.RegisterSink("file", "Append content to one file per destination.", newFileSink, fileHelp)
}
