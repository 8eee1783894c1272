package middlebox

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/CN-TU/go-middlebox/modules/filters/ports"
	"github.com/CN-TU/go-middlebox/modules/filters/trigger"
	"github.com/CN-TU/go-middlebox/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func defaultFilters() packet.Filters {
	return packet.Filters{
		ports.New("ports", ports.DefaultSentinel, true),
		trigger.New("trigger", trigger.DefaultWord),
	}
}

func TestInspector(t *testing.T) {
	in := NewInspector(defaultFilters())
	for _, c := range []struct {
		src, dst packet.Port
		content  string
		verdict  Verdict
		rule     string
	}{
		{1, 2, "hello", Accept, ""},
		{2, 2, "hello", Block, "ports"},
		{42, 2, "hello", Block, "ports"},
		{40, 2, "hello", Block, "ports"},
		{1, 2, "a malicious payload", Block, "trigger"},
		{1, 2, "m a l i c i o u s", Block, "trigger"},
		{1, 2, "m a l i c i o u", Accept, ""},
		{3, 3, "malicious", Block, "ports"},
	} {
		for i := 0; i < 3; i++ {
			verdict, rule := in.Inspect(c.src, c.dst, []byte(c.content))
			assert.Equal(t, c.verdict, verdict, "%d -> %d %q", c.src, c.dst, c.content)
			assert.Equal(t, c.rule, rule, "%d -> %d %q", c.src, c.dst, c.content)
		}
	}
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "block", Block.String())
	assert.Equal(t, "unknown", Verdict(9).String())
}

func newTestForwarder(sink Sink, audit Auditor, stats *counters) *Forwarder {
	return newForwarder(packet.PortRange{Min: 0, Max: 100}, NewInspector(defaultFilters()), sink, audit, "run", discard, stats)
}

func TestForwarder(t *testing.T) {
	sink := NewMemorySink()
	audit := &MemoryAuditor{}
	var stats counters
	f := newTestForwarder(sink, audit, &stats)

	verdict, err := f.Forward(1, &packet.Packet{Source: 1, Destination: 2, Sequence: 0, Content: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, Accept, verdict)
	verdict, err = f.Forward(2, &packet.Packet{Source: 2, Destination: 2, Sequence: 0, Content: []byte("def")})
	require.NoError(t, err)
	assert.Equal(t, Block, verdict)
	_, err = f.Forward(2, &packet.Packet{Source: 1, Destination: 101})
	assert.ErrorIs(t, err, packet.ErrInvalidPort)

	assert.Equal(t, []byte("abc"), sink.Bytes(2))
	records := audit.Records()
	require.Len(t, records, 2)
	assert.Equal(t, Record{Run: "run", Time: records[0].Time, Source: 1, Destination: 2, Length: 3, Verdict: Accept, Worker: 1}, records[0])
	assert.Equal(t, Block, records[1].Verdict)
	assert.Equal(t, "ports", records[1].Rule)

	s := stats.snapshot()
	assert.Equal(t, uint64(1), s.Accepted)
	assert.Equal(t, uint64(1), s.Blocked)
	assert.Equal(t, uint64(3), s.Forwarded)
}

func TestForwarderWriteMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Append(packet.Port(2), []byte("abcd")).Return(2, nil),
		sink.EXPECT().Append(packet.Port(2), []byte("efgh")).Return(0, errors.New("disk full")),
		sink.EXPECT().Append(packet.Port(2), []byte("ijkl")).Return(4, nil),
	)
	audit := &MemoryAuditor{}
	var stats counters
	f := newTestForwarder(sink, audit, &stats)

	verdict, err := f.Forward(0, &packet.Packet{Source: 1, Destination: 2, Sequence: 0, Content: []byte("abcd")})
	assert.Equal(t, Accept, verdict)
	assert.ErrorIs(t, err, ErrWriteMismatch)
	_, err = f.Forward(0, &packet.Packet{Source: 1, Destination: 2, Sequence: 1, Content: []byte("efgh")})
	assert.ErrorIs(t, err, ErrWriteMismatch)
	assert.ErrorContains(t, err, "disk full")
	_, err = f.Forward(0, &packet.Packet{Source: 1, Destination: 2, Sequence: 2, Content: []byte("ijkl")})
	assert.NoError(t, err)

	assert.Len(t, audit.Records(), 3)
	s := stats.snapshot()
	assert.Equal(t, uint64(2), s.Mismatches)
	assert.Equal(t, uint64(1), s.Accepted)
	assert.Equal(t, uint64(4), s.Forwarded)
}

type failingAuditor struct{ MemoryAuditor }

func (f *failingAuditor) Audit(*Record) error { return errors.New("audit down") }

func TestForwarderAuditError(t *testing.T) {
	var stats counters
	f := newTestForwarder(NewMemorySink(), Auditors{&failingAuditor{}, &MemoryAuditor{}}, &stats)
	_, err := f.Forward(0, &packet.Packet{Source: 1, Destination: 2, Content: []byte("x")})
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), stats.snapshot().AuditErrors)
}
