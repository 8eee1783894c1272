package middlebox

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/CN-TU/go-middlebox/packet"
)

var (
	// ErrStaleSequence is returned for a sequence number that was already delivered.
	ErrStaleSequence = errors.New("middlebox: stale sequence number")
	// ErrAborted is returned to goroutines waiting in an aborted turnstile.
	ErrAborted = errors.New("middlebox: turnstile aborted")
)

// none is the last sequence number of a source nothing was delivered from yet. none+1 wraps to 0.
const none = math.MaxUint64

type slot struct {
	mu   sync.Mutex
	cond *sync.Cond
	last uint64
}

// Turnstile restores the order of packets per source. Packets of one source pass strictly
// in sequence number order starting at 0; packets of different sources are independent.
type Turnstile struct {
	ports   packet.PortRange
	slots   []slot
	aborted atomic.Bool
}

// NewTurnstile creates a turnstile with one slot per port in ports.
func NewTurnstile(ports packet.PortRange) *Turnstile {
	t := &Turnstile{
		ports: ports,
		slots: make([]slot, ports.Len()),
	}
	for i := range t.slots {
		s := &t.slots[i]
		s.cond = sync.NewCond(&s.mu)
		s.last = none
	}
	return t
}

// Pass blocks until seq is the next sequence number of src and then calls deliver.
// deliver runs while the slot of src is held, so deliveries of one source never overlap.
func (t *Turnstile) Pass(src packet.Port, seq uint64, deliver func()) error {
	if err := t.ports.Validate(src); err != nil {
		return err
	}
	s := &t.slots[t.ports.Index(src)]
	s.mu.Lock()
	for seq != s.last+1 {
		if t.aborted.Load() {
			s.mu.Unlock()
			return ErrAborted
		}
		if s.last != none && seq <= s.last {
			last := s.last
			s.mu.Unlock()
			return fmt.Errorf("%w: %d from %d, already at %d", ErrStaleSequence, seq, src, last)
		}
		s.cond.Wait()
	}
	s.last = seq
	deliver()
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// Last returns the last delivered sequence number of src.
func (t *Turnstile) Last(src packet.Port) (seq uint64, ok bool) {
	if !t.ports.Contains(src) {
		return 0, false
	}
	s := &t.slots[t.ports.Index(src)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != none
}

// Abort releases all waiting goroutines with ErrAborted. Deliveries in progress are not interrupted.
func (t *Turnstile) Abort() {
	t.aborted.Store(true)
	for i := range t.slots {
		s := &t.slots[i]
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}
