package middlebox

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

const auditName = "audit"

// Record describes the decision taken for a single packet.
type Record struct {
	Run         string      `msgpack:"run"`
	Time        time.Time   `msgpack:"time"`
	Source      packet.Port `msgpack:"src"`
	Destination packet.Port `msgpack:"dst"`
	Sequence    uint64      `msgpack:"seq"`
	Length      int         `msgpack:"len"`
	Verdict     Verdict     `msgpack:"verdict"`
	Rule        string      `msgpack:"rule,omitempty"`
	Worker      int         `msgpack:"worker"`
	// Content is only valid during the Audit call.
	Content []byte `msgpack:"-"`
}

// Auditor records every decision of the middlebox. Audit is never called concurrently for the same destination.
type Auditor interface {
	util.Module
	Audit(rec *Record) error
	// Finish flushes and closes the audit trail.
	Finish() error
}

// Auditors holds a collection of auditors that all receive every record
type Auditors []Auditor

// ID implements util.Module
func (a Auditors) ID() string { return "auditors" }

// Init implements util.Module
func (a Auditors) Init() error { return nil }

// Audit forwards rec to every auditor and returns the joined errors.
func (a Auditors) Audit(rec *Record) error {
	var errs []error
	for _, auditor := range a {
		if err := auditor.Audit(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finish finishes every auditor and returns the joined errors.
func (a Auditors) Finish() error {
	var errs []error
	for _, auditor := range a {
		if err := auditor.Finish(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterAuditor registers an audit trail (see module system in util)
func RegisterAuditor(name, desc string, new util.ModuleCreator, help util.ModuleHelp) {
	util.RegisterModule(auditName, name, desc, new, help)
}

// AuditorHelp writes help for a specific audit trail to w (see module system in util)
func AuditorHelp(which string, w io.Writer) error {
	return util.GetModuleHelp(auditName, which, w)
}

// MakeAuditor creates an audit trail instance (see module system in util)
func MakeAuditor(which, name string, opts util.Options) (Auditor, error) {
	module, err := util.CreateModule(auditName, which, name, opts)
	if err != nil {
		return nil, err
	}
	return module.(Auditor), nil
}

// ListAuditors returns a list of audit trails (see module system in util)
func ListAuditors() ([]util.ModuleDescription, error) {
	return util.GetModules(auditName)
}

// MemoryAuditor keeps all records in memory.
type MemoryAuditor struct {
	mu      sync.Mutex
	records []Record
}

// ID implements util.Module
func (m *MemoryAuditor) ID() string { return "memory" }

// Init implements util.Module
func (m *MemoryAuditor) Init() error { return nil }

// Audit implements Auditor
func (m *MemoryAuditor) Audit(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rec
	r.Content = nil
	m.records = append(m.records, r)
	return nil
}

// Finish implements Auditor
func (m *MemoryAuditor) Finish() error { return nil }

// Records returns a copy of all records.
func (m *MemoryAuditor) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
