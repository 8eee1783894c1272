package ring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// PrefixSize is the size of the little endian length prefix in front of every message.
const PrefixSize = 8

// DefaultTimeout is the time Insert and Remove wait for space or data.
const DefaultTimeout = time.Second

var (
	// ErrFull is returned if a message did not fit into the ring within the timeout.
	ErrFull = errors.New("ring: full")
	// ErrEmpty is returned if no message arrived within the timeout.
	ErrEmpty = errors.New("ring: empty")
	// ErrBufferTooSmall is returned by Remove if the next message does not fit the provided buffer.
	// The message stays in the ring.
	ErrBufferTooSmall = errors.New("ring: buffer too small")
	// ErrClosed is returned after Close, or by Insert after CloseWrite, or by Remove after CloseWrite once the ring is drained.
	ErrClosed = errors.New("ring: closed")
	// ErrCorrupt is returned if a length prefix points beyond the buffered data.
	ErrCorrupt = errors.New("ring: corrupt frame")
)

var errTimeout = errors.New("ring: timeout")

// Option configures a Ring.
type Option func(*Ring)

// WithTimeout sets the maximum time Insert and Remove block. A zero timeout
// makes both operations non-blocking.
func WithTimeout(d time.Duration) Option {
	return func(r *Ring) {
		r.timeout = d
	}
}

// Ring is a fixed size circular byte buffer holding length prefixed messages.
// It is safe for use by multiple producers and consumers.
//
// read and write are offsets into buf; read == write means empty. The write
// cursor never catches up with the read cursor, so one byte always stays unused.
type Ring struct {
	mu      sync.Mutex
	changed chan struct{}

	buf         []byte
	read, write int
	timeout     time.Duration
	closeWrite  bool
	closed      bool
}

// New allocates a ring with size bytes of storage.
func New(size int, opts ...Option) *Ring {
	if size <= PrefixSize {
		panic(fmt.Sprintf("ring: size %d must be larger than the prefix size %d", size, PrefixSize))
	}
	r := &Ring{
		changed: make(chan struct{}),
		buf:     make([]byte, size),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Ring) advance(i, n int) int {
	return (i + n) % len(r.buf)
}

func (r *Ring) distance(from, to int) int {
	return (to - from + len(r.buf)) % len(r.buf)
}

func (r *Ring) usedLocked() int {
	return r.distance(r.read, r.write)
}

func (r *Ring) freeLocked() int {
	return len(r.buf) - r.usedLocked() - 1
}

// put copies p to the ring starting at offset at and returns the offset behind it.
func (r *Ring) put(at int, p []byte) int {
	n := copy(r.buf[at:], p)
	copy(r.buf, p[n:])
	return r.advance(at, len(p))
}

// get fills p from the ring starting at offset at and returns the offset behind it.
func (r *Ring) get(at int, p []byte) int {
	n := copy(p, r.buf[at:])
	copy(p[n:], r.buf)
	return r.advance(at, len(p))
}

func (r *Ring) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// waitLocked releases the lock until the ring changes, the timer fires, or ctx is done.
// The lock is held again on return.
func (r *Ring) waitLocked(ctx context.Context, timer *time.Timer) error {
	changed := r.changed
	r.mu.Unlock()
	defer r.mu.Lock()
	select {
	case <-changed:
		return nil
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Insert appends msg as one framed message. If there is not enough free space it waits up to
// the ring timeout and returns ErrFull if the space did not become available.
func (r *Ring) Insert(ctx context.Context, msg []byte) error {
	needed := len(msg) + PrefixSize
	if needed > len(r.buf)-1 {
		return fmt.Errorf("%w: message of %d bytes can never fit into %d bytes", ErrFull, len(msg), len(r.buf))
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.closeWrite {
			return ErrClosed
		}
		if needed <= r.freeLocked() {
			break
		}
		if timer == nil {
			timer = time.NewTimer(r.timeout)
		}
		if err := r.waitLocked(ctx, timer); err != nil {
			if err == errTimeout {
				return ErrFull
			}
			return err
		}
	}

	var prefix [PrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(msg)))
	r.write = r.put(r.write, prefix[:])
	r.write = r.put(r.write, msg)
	r.notifyLocked()
	return nil
}

// Remove copies the oldest message into p and returns its length. If the ring is empty it
// waits up to the ring timeout and returns ErrEmpty if no message arrived.
// If p is smaller than the message, ErrBufferTooSmall is returned, nothing is written to p,
// and the message can be removed by a later call with a large enough buffer.
func (r *Ring) Remove(ctx context.Context, p []byte) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.closed {
			return 0, ErrClosed
		}
		if r.usedLocked() >= PrefixSize {
			break
		}
		if r.closeWrite {
			return 0, ErrClosed
		}
		if timer == nil {
			timer = time.NewTimer(r.timeout)
		}
		if err := r.waitLocked(ctx, timer); err != nil {
			// a message inserted while the wait ended is still delivered
			if !r.closed && r.usedLocked() >= PrefixSize {
				break
			}
			if err == errTimeout {
				return 0, ErrEmpty
			}
			return 0, err
		}
	}

	var prefix [PrefixSize]byte
	payload := r.get(r.read, prefix[:])
	length := binary.LittleEndian.Uint64(prefix[:])
	if length > uint64(r.usedLocked()-PrefixSize) {
		return 0, fmt.Errorf("%w: length %d exceeds %d buffered bytes", ErrCorrupt, length, r.usedLocked()-PrefixSize)
	}
	if uint64(len(p)) < length {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, length, len(p))
	}

	r.read = r.get(payload, p[:length])
	r.notifyLocked()
	return int(length), nil
}

// CloseWrite stops accepting messages. Remove drains the remaining messages and returns ErrClosed afterwards.
func (r *Ring) CloseWrite() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeWrite {
		return
	}
	r.closeWrite = true
	r.notifyLocked()
}

// Close closes the ring. All pending and future operations return ErrClosed.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.closeWrite = true
	r.notifyLocked()
}

// Len returns the number of buffered bytes including prefixes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedLocked()
}

// Free returns the number of bytes available for prefixes and payloads.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freeLocked()
}

// Cap returns the size of the underlying storage.
func (r *Ring) Cap() int {
	return len(r.buf)
}
