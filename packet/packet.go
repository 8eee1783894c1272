package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the encoded size of source, destination, and sequence number.
const HeaderSize = 24

// ErrShortPacket is returned when decoding less than HeaderSize bytes.
var ErrShortPacket = errors.New("packet: short packet")

// Packet is a chunk of a connection between Source and Destination.
type Packet struct {
	Source      Port
	Destination Port
	Sequence    uint64
	Content     []byte
}

// Len returns the encoded length of the packet.
func (p *Packet) Len() int {
	return HeaderSize + len(p.Content)
}

// AppendTo appends the encoded packet to b and returns the extended slice.
func (p *Packet) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Source))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Destination))
	b = binary.LittleEndian.AppendUint64(b, p.Sequence)
	return append(b, p.Content...)
}

// Decode parses an encoded packet. Content refers to data and is only valid as long as data is.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	return Packet{
		Source:      Port(binary.LittleEndian.Uint64(data[0:])),
		Destination: Port(binary.LittleEndian.Uint64(data[8:])),
		Sequence:    binary.LittleEndian.Uint64(data[16:]),
		Content:     data[HeaderSize:],
	}, nil
}

// Validate checks source and destination against r.
func (p *Packet) Validate(r PortRange) error {
	if err := r.Validate(p.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := r.Validate(p.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	return nil
}
