package blocklist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

type pair struct {
	src, dst packet.Port
	anySrc   bool
	anyDst   bool
}

func (p pair) matches(src, dst packet.Port) bool {
	return (p.anySrc || p.src == src) && (p.anyDst || p.dst == dst)
}

type blocklist struct {
	id    string
	files []string
	pairs []pair
}

// New returns a filter blocking the connections listed in the csv files. The files are read by Init.
func New(name string, files ...string) packet.Filter {
	return &blocklist{
		id:    name,
		files: files,
	}
}

func (bl *blocklist) ID() string {
	return bl.id
}

func (bl *blocklist) Init() error {
	for _, file := range bl.files {
		if err := bl.read(file); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	return nil
}

func parsePort(field string) (packet.Port, bool, error) {
	field = strings.TrimSpace(field)
	if field == "*" {
		return 0, true, nil
	}
	port, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return packet.Port(port), false, nil
}

func (bl *blocklist) read(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.Comment = '#'
	if _, err := r.Read(); err != nil { // title line
		return err
	}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var p pair
		if p.src, p.anySrc, err = parsePort(record[0]); err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if p.dst, p.anyDst, err = parsePort(record[1]); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		bl.pairs = append(bl.pairs, p)
	}
}

func (bl *blocklist) Matches(src, dst packet.Port, content []byte) bool {
	for _, p := range bl.pairs {
		if p.matches(src, dst) {
			return true
		}
	}
	return false
}

func newBlocklist(name string, opts util.Options) (util.Module, error) {
	files, err := opts.Strings("files")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("blocklist needs at least one input file")
	}
	if name == "blocklist" {
		name = fmt.Sprint("blocklist|", strings.Join(files, ";"))
	}
	return New(name, files...), nil
}

func blocklistHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s filter blocks all packets of the connections listed in one or more
csv files.

The csv files must start with a header and contain two columns, the source
and the destination port. * matches every port. Lines starting with # are
ignored.

Example file:
  src,dst
  1,2
  *,7

Options:
  files: [<file>, ...]
    The csv files.

Usage:
  filters:
    - type: %s
      options:
        files: [blocked.csv]
`, name, name)
}

func init() {
	packet.RegisterFilter("blocklist", "Block connections listed in csv files.", newBlocklist, blocklistHelp)
}
