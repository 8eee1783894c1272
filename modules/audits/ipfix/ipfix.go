package ipfix

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/CN-TU/go-ipfix"
	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/util"
)

const pen uint32 = 1234

// firewallEvent values
const (
	flowCreated uint8 = 1
	flowDenied  uint8 = 3
)

var (
	sourcePortIE      = ipfix.NewInformationElement("middleboxSourcePort", pen, 0x7100, ipfix.Unsigned64Type, 8)
	destinationPortIE = ipfix.NewInformationElement("middleboxDestinationPort", pen, 0x7101, ipfix.Unsigned64Type, 8)
	sequenceIE        = ipfix.NewInformationElement("middleboxSequenceNumber", pen, 0x7102, ipfix.Unsigned64Type, 8)
	workerIE          = ipfix.NewInformationElement("middleboxWorker", pen, 0x7103, ipfix.Unsigned16Type, 2)
)

type ipfixAuditor struct {
	id       string
	outfile  string
	mu       sync.Mutex
	out      io.WriteCloser
	writer   *ipfix.MessageStream
	template int
	now      ipfix.DateTimeNanoseconds
}

// New returns an auditor exporting every decision as IPFIX data record to outfile. "-" writes to stdout.
func New(name, outfile string) middlebox.Auditor {
	return &ipfixAuditor{
		id:      name,
		outfile: outfile,
	}
}

// InformationElements returns the template of the exported records.
func InformationElements() []ipfix.InformationElement {
	return []ipfix.InformationElement{
		ipfix.GetInformationElement("observationTimeNanoseconds"),
		sourcePortIE,
		destinationPortIE,
		sequenceIE,
		ipfix.GetInformationElement("octetDeltaCount"),
		ipfix.GetInformationElement("firewallEvent"),
		workerIE,
	}
}

func (pa *ipfixAuditor) ID() string {
	return pa.id
}

func (pa *ipfixAuditor) Init() error {
	if pa.outfile == "-" {
		pa.out = os.Stdout
	} else {
		f, err := os.Create(pa.outfile)
		if err != nil {
			return err
		}
		pa.out = f
	}
	var err error
	pa.writer, err = ipfix.MakeMessageStream(pa.out, 65535, 0)
	if err != nil {
		return fmt.Errorf("couldn't create ipfix message stream: %w", err)
	}
	pa.now = ipfix.DateTimeNanoseconds(time.Now().UnixNano())
	pa.template, err = pa.writer.AddTemplate(pa.now, InformationElements()...)
	return err
}

func (pa *ipfixAuditor) Audit(rec *middlebox.Record) error {
	event := flowCreated
	if rec.Verdict == middlebox.Block {
		event = flowDenied
	}
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.writer == nil {
		return errors.New("ipfix audit already finished")
	}
	pa.now = ipfix.DateTimeNanoseconds(rec.Time.UnixNano())
	pa.writer.SendData(pa.now, pa.template,
		pa.now,
		uint64(rec.Source),
		uint64(rec.Destination),
		rec.Sequence,
		uint64(rec.Length),
		event,
		uint16(rec.Worker),
	)
	return nil
}

func (pa *ipfixAuditor) Finish() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.writer == nil {
		return nil
	}
	pa.writer.Flush(pa.now)
	pa.writer = nil
	if pa.out != os.Stdout {
		return pa.out.Close()
	}
	return nil
}

func newIPFIXAuditor(name string, opts util.Options) (util.Module, error) {
	outfile, err := opts.String("file", "")
	if err != nil {
		return nil, err
	}
	if outfile == "" {
		return nil, errors.New("ipfix audit needs a file")
	}
	if name == "ipfix" {
		name = "IPFIX|" + outfile
	}
	ipfix.LoadIANASpec()
	return New(name, outfile), nil
}

func ipfixHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s audit trail exports every decision as IPFIX data record into a file.
Accepted packets are exported with firewallEvent 1 (flow created), blocked
packets with firewallEvent 3 (flow denied). Ports, sequence number, and
worker are exported as enterprise specific information elements with
enterprise number %d.

Options:
  file: <file>
    The output file. "-" writes to stdout.

Usage:
  audit:
    - type: %s
      options:
        file: audit.ipfix
`, name, pen, name)
}

func init() {
	middlebox.RegisterAuditor("ipfix", "Export decisions as IPFIX records.", newIPFIXAuditor, ipfixHelp)
}
