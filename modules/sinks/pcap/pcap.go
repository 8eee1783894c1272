package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CN-TU/go-middlebox/middlebox"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snaplen = 65535

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(10, 0, 0, 1)
	dstIP  = net.IPv4(10, 0, 0, 2)
)

type stream struct {
	f *os.File
	w *pcapgo.Writer
}

type pcapSink struct {
	id      string
	dir     string
	port    uint16
	mu      sync.Mutex
	streams map[packet.Port]*stream
}

// New returns a sink writing the content for every destination as UDP datagrams to
// <dir>/<destination>.pcap. The UDP destination port is the destination, the source port is port.
func New(name, dir string, port uint16) middlebox.Sink {
	return &pcapSink{
		id:      name,
		dir:     dir,
		port:    port,
		streams: make(map[packet.Port]*stream),
	}
}

// Path returns the capture file the content for dst is written to.
func Path(dir string, dst packet.Port) string {
	return filepath.Join(dir, fmt.Sprintf("%d.pcap", dst))
}

func (ps *pcapSink) ID() string {
	return ps.id
}

func (ps *pcapSink) Init() error {
	return os.MkdirAll(ps.dir, 0o755)
}

func (ps *pcapSink) stream(dst packet.Port) (*stream, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if s, ok := ps.streams[dst]; ok {
		return s, nil
	}
	f, err := os.Create(Path(ps.dir, dst))
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, err
	}
	s := &stream{f: f, w: w}
	ps.streams[dst] = s
	return s, nil
}

func (ps *pcapSink) Append(dst packet.Port, p []byte) (int, error) {
	s, err := ps.stream(dst)
	if err != nil {
		return 0, err
	}
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(ps.port),
		DstPort: layers.UDPPort(dst),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return 0, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p)); err != nil {
		return 0, err
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := s.w.WritePacket(ci, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ps *pcapSink) Finish() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var errs []error
	for dst, s := range ps.streams {
		errs = append(errs, s.f.Close())
		delete(ps.streams, dst)
	}
	return errors.Join(errs...)
}

func newPcapSink(name string, opts util.Options) (util.Module, error) {
	dir, err := opts.String("dir", "output")
	if err != nil {
		return nil, err
	}
	port, err := opts.Int("port", 9)
	if err != nil {
		return nil, err
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid udp port %d", port)
	}
	return New(name, dir, uint16(port)), nil
}

func pcapHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s sink writes the content of accepted packets as UDP datagrams over
IPv4 and ethernet into one capture file per destination port named
<dir>/<port>.pcap. The UDP destination port is the destination port of the
packet. The files can be read back with the pcap source.

Options:
  dir: <directory>
    The output directory (default output).
  port: <udp port>
    The UDP source port of the datagrams (default 9).

Usage:
  sink:
    type: %s
    options:
      dir: captures
`, name, name)
}

func init() {
	middlebox.RegisterSink("pcap", "Write content as UDP datagrams to pcap files.", newPcapSink, pcapHelp)
}
