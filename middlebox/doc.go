/*
Package middlebox implements the processing side of the middlebox.

Producers insert packets into a shared ring. A fixed pool of workers removes them in arbitrary
interleaving and passes every packet through a Turnstile, which restores the order per source:
a packet is admitted only after its predecessor of the same source was delivered. Admitted packets
are inspected by the filters and either forwarded to the Sink or blocked. Every decision is written
to the Auditor.

	producer -> ring -> worker -> turnstile -> inspector -> sink
	                                                     -> audit

Workers stop once the ring is closed for writing and drained. Cancellation only cuts the idle
pause short. A packet that was removed from the ring is always processed to completion.

Sinks and audit trails are provided by modules. For examples look at modules/sinks and
modules/audits.
*/
package middlebox
