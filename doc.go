/*
This contains a network middlebox that inspects packets exchanged between ports and forwards the
accepted ones to the sink of their destination.

Building

For building "go build" or "go install" can be used. Modules are compiled in via builtin.go.

Overview

The middlebox reads the content of several connections, each one from a source port to a destination
port, splits the content into packets, and processes them in the following pipeline:

	source -> (producer) -> (ring) -> (worker) -> (turnstile) -> filter -> sink
	                                                                   \-> audit

() parts in the pipeline are fixed, everything else is provided from a module and configured in the
configuration file.

source provides the content of a single connection as byte stream. For examples look at
modules/sources.

producer is a fixed step that splits the content into packets with a header consisting of source,
destination, and a per source sequence number. Packets are inserted into the shared ring. If the
ring is full, the producer backs off and retries.

ring is a fixed size circular buffer shared by all producers and workers. Every message is stored
with a length prefix, so readers always receive whole packets.

worker is a fixed step that removes packets from the ring. The number of workers can be configured.

turnstile is a fixed step that makes sure the packets of one source port are handled in the order
they were produced, no matter which worker removed them from the ring.

filter is a packet filter, which must return true for a given packet if it should be blocked. The
first matching filter is reported as reason. For examples look at modules/filters.

sink receives the content of all accepted packets per destination port. For examples look at
modules/sinks.

audit receives a record of every decision. Multiple audit trails can be configured. For examples
look at modules/audits.

The pipeline stops once all sources are exhausted, the configured deadline passed, or on interrupt.
Packets that are still in the ring are processed before the sink and the audit trails are finished.
A packet with a source or destination port outside the configured port range stops the middlebox
with an error.

Example usage

The general syntax on the command line is "go-middlebox run -c config.yaml". The options of the
modules can be queried from the help of the different modules (e.g. go-middlebox <kind>s <which>;
e.g. go-middlebox sinks badger).

Contents

The following list describes all the different things contained in the subdirectories.

 * ring: ring package; framed multi producer multi consumer ring buffer
 * packet: packet package; ports, packet encoding, sources, filters, and the producer
 * middlebox: middlebox package; turnstile, inspector, forwarder, sinks, audit trails, and the engine
 * config: yaml configuration
 * modules: implementation of sources, filters, sinks, and audit trails
 * util: package with the module registry and options
*/
package main
