package file

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type fileSource struct {
	id   string
	path string
	f    *os.File
}

// New returns a source reading the content of the file at path.
func New(name, path string) packet.Source {
	return &fileSource{
		id:   name,
		path: path,
	}
}

func (s *fileSource) ID() string {
	return s.id
}

func (s *fileSource) Init() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileSource) Read(p []byte) (int, error) {
	if s.f == nil {
		return 0, io.EOF
	}
	return s.f.Read(p)
}

func (s *fileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func newFileSource(name string, opts util.Options) (util.Module, error) {
	path, err := opts.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("file source needs a path")
	}
	if name == "file" {
		name = "file|" + path
	}
	return New(name, path), nil
}

func fileHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s source reads the content of a connection from a file. The file is
split into packets of at most the configured message size.

Options:
  path: <file>
    The file to read.

Usage:
  source:
    type: %s
    options:
      path: input/0.txt
`, name, name)
}

func init() {
	packet.RegisterSource("file", "Read the content from a file.", newFileSource, fileHelp)
}
