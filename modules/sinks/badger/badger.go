package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	badger "github.com/dgraph-io/badger/v4"
)

// prefix of all keys. A key is prefix, the destination, and a per destination counter, both big endian.
var prefix = []byte("sink/")

// Key returns the key of the n-th chunk forwarded to dst.
func Key(dst packet.Port, n uint64) []byte {
	key := make([]byte, 0, len(prefix)+16)
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(dst))
	return binary.BigEndian.AppendUint64(key, n)
}

func destinationPrefix(dst packet.Port) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), uint64(dst))
}

type badgerSink struct {
	id       string
	dir      string
	inMemory bool
	db       *badger.DB

	mu       sync.Mutex
	counters map[packet.Port]uint64
}

// New returns a sink storing every accepted chunk as a separate key in the badger database in dir.
func New(name, dir string, inMemory bool) middlebox.Sink {
	return &badgerSink{
		id:       name,
		dir:      dir,
		inMemory: inMemory,
		counters: make(map[packet.Port]uint64),
	}
}

// Open opens the badger database in dir.
func Open(dir string, inMemory bool) (*badger.DB, error) {
	if !inMemory && dir == "" {
		return nil, errors.New("badger sink needs a directory")
	}
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	return badger.Open(opts.WithLogger(logger{slog.Default()}))
}

func (bs *badgerSink) ID() string {
	return bs.id
}

func (bs *badgerSink) Init() error {
	db, err := Open(bs.dir, bs.inMemory)
	if err != nil {
		return err
	}
	bs.db = db
	return nil
}

// next returns the next counter of dst. Append is not called concurrently for one destination,
// but for different ones.
func (bs *badgerSink) next(dst packet.Port) uint64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	n := bs.counters[dst]
	bs.counters[dst] = n + 1
	return n
}

func (bs *badgerSink) Append(dst packet.Port, p []byte) (int, error) {
	key := Key(dst, bs.next(dst))
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, append([]byte(nil), p...))
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (bs *badgerSink) Finish() error {
	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	return err
}

// DB returns the underlying database. It is nil before Init and after Finish.
func (bs *badgerSink) DB() *badger.DB {
	return bs.db
}

// ReadAll returns the concatenated content forwarded to dst.
func ReadAll(db *badger.DB, dst packet.Port) ([]byte, error) {
	var ret []byte
	p := destinationPrefix(dst)
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ret = append(ret, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return ret, err
}

// Destination summarizes the content stored for one destination.
type Destination struct {
	Port   packet.Port
	Chunks uint64
	Bytes  uint64
}

// Destinations returns a summary of all destinations in db ordered by port.
func Destinations(db *badger.DB) ([]Destination, error) {
	var ret []Destination
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+16 {
				return fmt.Errorf("malformed key %x", key)
			}
			dst := packet.Port(binary.BigEndian.Uint64(key[len(prefix):]))
			if len(ret) == 0 || ret[len(ret)-1].Port != dst {
				ret = append(ret, Destination{Port: dst})
			}
			last := &ret[len(ret)-1]
			last.Chunks++
			last.Bytes += uint64(item.ValueSize())
		}
		return nil
	})
	return ret, err
}

// logger forwards badger warnings and errors to slog.
type logger struct {
	l *slog.Logger
}

func (l logger) Errorf(f string, v ...interface{}) {
	l.l.Error(fmt.Sprintf(f, v...), "component", "badger")
}

func (l logger) Warningf(f string, v ...interface{}) {
	l.l.Warn(fmt.Sprintf(f, v...), "component", "badger")
}

func (logger) Infof(string, ...interface{})  {}
func (logger) Debugf(string, ...interface{}) {}

func newBadgerSink(name string, opts util.Options) (util.Module, error) {
	dir, err := opts.String("dir", "")
	if err != nil {
		return nil, err
	}
	inMemory, err := opts.Bool("in_memory", false)
	if err != nil {
		return nil, err
	}
	if !inMemory && dir == "" {
		return nil, errors.New("badger sink needs a dir or in_memory")
	}
	return New(name, dir, inMemory), nil
}

func badgerHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s sink stores the content of accepted packets in a badger database.
Every chunk is stored under its own key consisting of the destination port
and a per destination counter, so the content of a destination can be read
back in order with the dump command.

Options:
  dir: <directory>
    The database directory.
  in_memory: true|false
    Keep the database in memory only (default false).

Usage:
  sink:
    type: %s
    options:
      dir: output.db
`, name, name)
}

func init() {
	middlebox.RegisterSink("badger", "Store content in a badger database.", newBadgerSink, badgerHelp)
}
