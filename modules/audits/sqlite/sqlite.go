package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/util"

	// sqlite driver
	_ "github.com/glebarez/go-sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	run     TEXT    NOT NULL,
	time    INTEGER NOT NULL,
	src     INTEGER NOT NULL,
	dst     INTEGER NOT NULL,
	seq     INTEGER NOT NULL,
	len     INTEGER NOT NULL,
	verdict TEXT    NOT NULL,
	rule    TEXT    NOT NULL,
	worker  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_dst ON audit (dst, src, seq);
`

const insert = `INSERT INTO audit (run, time, src, dst, seq, len, verdict, rule, worker) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type sqliteAuditor struct {
	id        string
	path      string
	batchSize int

	mu      sync.Mutex
	db      *sql.DB
	pending []middlebox.Record
}

// New returns an auditor storing decisions in the table audit of the sqlite database at path.
// Records are written in transactions of batchSize records.
func New(name, path string, batchSize int) middlebox.Auditor {
	if batchSize < 1 {
		batchSize = 1
	}
	return &sqliteAuditor{
		id:        name,
		path:      path,
		batchSize: batchSize,
	}
}

func (sa *sqliteAuditor) ID() string {
	return sa.id
}

func (sa *sqliteAuditor) Init() error {
	db, err := sql.Open("sqlite", sa.path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	sa.db = db
	return nil
}

func (sa *sqliteAuditor) Audit(rec *middlebox.Record) error {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	r := *rec
	r.Content = nil
	sa.pending = append(sa.pending, r)
	if len(sa.pending) < sa.batchSize {
		return nil
	}
	return sa.flushLocked()
}

func (sa *sqliteAuditor) flushLocked() error {
	if len(sa.pending) == 0 {
		return nil
	}
	if sa.db == nil {
		return errors.New("sqlite audit already finished")
	}
	tx, err := sa.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range sa.pending {
		_, err := stmt.Exec(r.Run, r.Time.UnixNano(), int64(r.Source), int64(r.Destination), int64(r.Sequence), r.Length, r.Verdict.String(), r.Rule, r.Worker)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	// a failed batch stays pending and is written with the next flush
	if err := tx.Commit(); err != nil {
		return err
	}
	sa.pending = sa.pending[:0]
	return nil
}

func (sa *sqliteAuditor) Finish() error {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if sa.db == nil {
		return nil
	}
	err := sa.flushLocked()
	err = errors.Join(err, sa.db.Close())
	sa.db = nil
	return err
}

func newSQLiteAuditor(name string, opts util.Options) (util.Module, error) {
	path, err := opts.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("sqlite audit needs a path")
	}
	batch, err := opts.Int("batch", 1000)
	if err != nil {
		return nil, err
	}
	if name == "sqlite" {
		name = "sqlite|" + path
	}
	return New(name, path, batch), nil
}

func sqliteHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s audit trail stores every decision in the table audit of a sqlite
database with the columns run, time, src, dst, seq, len, verdict, rule, and
worker.

Options:
  path: <file>
    The database file. ":memory:" keeps the database in memory.
  batch: <n>
    Number of records written per transaction (default 1000).

Usage:
  audit:
    - type: %s
      options:
        path: audit.db
`, name, name)
}

func init() {
	middlebox.RegisterAuditor("sqlite", "Store decisions in a sqlite database.", newSQLiteAuditor, sqliteHelp)
}
