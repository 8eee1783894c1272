/*
Package packet provides the packet model and the input side of the middlebox.

Packets

A packet is a source port, a destination port, and a per source sequence number followed by raw
content. The wire representation is a 24 byte little endian header followed by the content; this
is the payload that is framed and stored in the shared ring.

Ports

Ports are plain integers and double as indices into per port state. Every port must lie within a
PortRange; anything outside is a protocol violation reported as ErrInvalidPort.

Sources and producers

A Source provides the raw content of a connection as a byte stream. A Producer reads chunks from a
source, numbers them starting at 0, and inserts the encoded packets into the ring, retrying with a
randomized backoff while the ring is full. For examples of sources look at modules/sources.

Filters

A Filter must return true for a packet that should be blocked. For examples look at modules/filters.
*/
package packet
