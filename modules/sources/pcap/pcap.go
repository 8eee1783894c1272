package pcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng files start with a section header block
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// pcapSource provides the concatenated UDP payloads of a capture file.
type pcapSource struct {
	id      string
	path    string
	port    int
	f       *os.File
	reader  packetReader
	lt      gopacket.LayerType
	pending []byte
	skipped uint64
}

// New returns a source reading UDP payloads from the capture file at path. If port is
// not negative, only datagrams with this source or destination port are used.
func New(name, path string, port int) packet.Source {
	return &pcapSource{
		id:   name,
		path: path,
		port: port,
	}
}

func (ps *pcapSource) ID() string {
	return ps.id
}

func (ps *pcapSource) Init() error {
	f, err := os.Open(ps.path)
	if err != nil {
		return err
	}
	reader, err := openReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", ps.path, err)
	}
	ps.f = f
	ps.reader = reader
	return ps.setLayerType()
}

// openReader returns a pcapng reader if r starts with a section header and a pcap reader otherwise.
func openReader(r *bufio.Reader) (packetReader, error) {
	magic, err := r.Peek(len(ngMagic))
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, ngMagic) {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

func (ps *pcapSource) setLayerType() error {
	switch lt := ps.reader.LinkType(); lt {
	case layers.LinkTypeEthernet:
		ps.lt = layers.LayerTypeEthernet
	case layers.LinkTypeRaw, layers.LinkType(12):
		ps.lt = layers.LayerTypeIPv4
	case layers.LinkTypeLinuxSLL:
		ps.lt = layers.LayerTypeLinuxSLL
	default:
		return fmt.Errorf("pcap: unknown link type %s", lt)
	}
	return nil
}

// next returns the payload of the next matching UDP datagram.
func (ps *pcapSource) next() ([]byte, error) {
	for {
		data, _, err := ps.reader.ReadPacketData()
		if err != nil {
			return nil, err
		}
		p := gopacket.NewPacket(data, ps.lt, gopacket.NoCopy)
		udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			ps.skipped++
			continue
		}
		if ps.port >= 0 && int(udp.SrcPort) != ps.port && int(udp.DstPort) != ps.port {
			ps.skipped++
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		return udp.Payload, nil
	}
}

func (ps *pcapSource) Read(p []byte) (int, error) {
	if ps.reader == nil {
		return 0, io.EOF
	}
	if len(ps.pending) == 0 {
		payload, err := ps.next()
		if err != nil {
			return 0, err
		}
		ps.pending = payload
	}
	n := copy(p, ps.pending)
	ps.pending = ps.pending[n:]
	return n, nil
}

func (ps *pcapSource) Close() error {
	if ps.f == nil {
		return nil
	}
	err := ps.f.Close()
	ps.f = nil
	ps.reader = nil
	return err
}

func newPcapSource(name string, opts util.Options) (util.Module, error) {
	path, err := opts.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("pcap source needs a path")
	}
	port, err := opts.Int("port", -1)
	if err != nil {
		return nil, err
	}
	if port > 65535 {
		return nil, fmt.Errorf("invalid udp port %d", port)
	}
	if name == "pcap" {
		name = "pcap|" + path
	}
	return New(name, path, port), nil
}

func pcapHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s source reads a capture file in pcap or pcapng format and provides the payloads
of the contained UDP datagrams in order as the content of a connection.
Packets that are not UDP are skipped. Supported link types are ethernet,
raw IP, and linux cooked capture.

Options:
  path: <file>
    The capture file.
  port: <udp port>
    Only use datagrams from or to this UDP port.

Usage:
  source:
    type: %s
    options:
      path: trace.pcap
      port: 5000
`, name, name)
}

func init() {
	packet.RegisterSource("pcap", "Read UDP payloads from a pcap file.", newPcapSource, pcapHelp)
}
