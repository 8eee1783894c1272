package ring

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(n int, fill byte) []byte {
	msg := make([]byte, n)
	for i := range msg {
		msg[i] = fill + byte(i)
	}
	return msg
}

func TestInsertFull(t *testing.T) {
	const size = 32
	r := New(size, WithTimeout(0))
	ctx := context.Background()
	for read := 0; read < size; read++ {
		for write := 0; write < size; write++ {
			used := (write - read + size) % size
			free := size - used - 1
			for n := 0; n+PrefixSize < size; n++ {
				r.read, r.write = read, write
				err := r.Insert(ctx, message(n, 0))
				if n+PrefixSize > free {
					require.ErrorIs(t, err, ErrFull, "read=%d write=%d len=%d", read, write, n)
					assert.Equal(t, write, r.write)
				} else {
					require.NoError(t, err, "read=%d write=%d len=%d", read, write, n)
					assert.Equal(t, (write+n+PrefixSize)%size, r.write)
				}
			}
		}
	}
}

func TestInsertExactFitRejected(t *testing.T) {
	r := New(32, WithTimeout(0))
	ctx := context.Background()
	// 32 bytes of raw gap, so a 24 byte payload would make write reach read
	require.ErrorIs(t, r.Insert(ctx, message(24, 0)), ErrFull)
	require.NoError(t, r.Insert(ctx, message(23, 0)))
	assert.Equal(t, 0, r.Free())
	require.ErrorIs(t, r.Insert(ctx, nil), ErrFull)
}

func TestInsertNeverFits(t *testing.T) {
	r := New(16)
	start := time.Now()
	err := r.Insert(context.Background(), message(100, 0))
	require.ErrorIs(t, err, ErrFull)
	assert.Less(t, time.Since(start), DefaultTimeout/2)
}

func TestRemoveEmpty(t *testing.T) {
	const size = 32
	r := New(size, WithTimeout(0))
	ctx := context.Background()
	buf := make([]byte, size)
	for read := 0; read < size; read++ {
		for used := 0; used < PrefixSize; used++ {
			r.read, r.write = read, (read+used)%size
			n, err := r.Remove(ctx, buf)
			require.ErrorIs(t, err, ErrEmpty, "read=%d used=%d", read, used)
			assert.Zero(t, n)
			assert.Equal(t, read, r.read)
		}
	}
}

func TestRemoveBufferTooSmall(t *testing.T) {
	r := New(64, WithTimeout(0))
	ctx := context.Background()
	msg := message(10, 1)
	require.NoError(t, r.Insert(ctx, msg))
	before := r.Len()

	small := bytes.Repeat([]byte{0xaa}, 9)
	n, err := r.Remove(ctx, small)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Zero(t, n)
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 9), small)
	assert.Equal(t, before, r.Len())

	buf := make([]byte, 10)
	n, err = r.Remove(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
	assert.Zero(t, r.Len())
}

func TestWraparound(t *testing.T) {
	const size = 40
	r := New(size, WithTimeout(0))
	ctx := context.Background()
	buf := make([]byte, size)
	for start := 0; start < size; start++ {
		for _, n := range []int{0, 1, 7, 16, size - PrefixSize - 1} {
			r.read, r.write = start, start
			msg := message(n, byte(start))
			require.NoError(t, r.Insert(ctx, msg), "start=%d len=%d", start, n)
			got, err := r.Remove(ctx, buf)
			require.NoError(t, err, "start=%d len=%d", start, n)
			require.Equal(t, msg, buf[:got], "start=%d len=%d", start, n)
			assert.Equal(t, r.read, r.write)
		}
	}
}

func TestPrefixLayout(t *testing.T) {
	r := New(16, WithTimeout(0))
	r.read, r.write = 12, 12
	require.NoError(t, r.Insert(context.Background(), []byte{1, 2}))
	var prefix [PrefixSize]byte
	copy(prefix[:4], r.buf[12:])
	copy(prefix[4:], r.buf[:4])
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(prefix[:]))
	assert.Equal(t, []byte{1, 2}, r.buf[4:6])
	assert.Equal(t, 6, r.write)
}

func TestFIFO(t *testing.T) {
	r := New(128, WithTimeout(0))
	ctx := context.Background()
	rnd := rand.New(rand.NewPCG(1, 2))
	var queue [][]byte
	buf := make([]byte, 128)
	for i := 0; i < 5000; i++ {
		if rnd.IntN(2) == 0 {
			msg := message(rnd.IntN(40), byte(i))
			err := r.Insert(ctx, msg)
			if errors.Is(err, ErrFull) {
				continue
			}
			require.NoError(t, err)
			queue = append(queue, msg)
			continue
		}
		n, err := r.Remove(ctx, buf)
		if len(queue) == 0 {
			require.ErrorIs(t, err, ErrEmpty)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, queue[0], buf[:n])
		queue = queue[1:]
	}
	for _, want := range queue {
		n, err := r.Remove(ctx, buf)
		require.NoError(t, err)
		require.Equal(t, want, buf[:n])
	}
}

func TestRemoveWakesOnInsert(t *testing.T) {
	r := New(64, WithTimeout(5*time.Second))
	ctx := context.Background()
	done := make(chan []byte)
	go func() {
		buf := make([]byte, 64)
		n, err := r.Remove(ctx, buf)
		if err != nil {
			done <- nil
			return
		}
		done <- buf[:n]
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Insert(ctx, []byte("hello")))
	select {
	case got := <-done:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("remove did not wake up")
	}
}

func TestInsertWakesOnRemove(t *testing.T) {
	r := New(32, WithTimeout(5*time.Second))
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, message(20, 0)))
	done := make(chan error)
	go func() {
		done <- r.Insert(ctx, message(10, 0))
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := r.Remove(ctx, make([]byte, 32))
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("insert did not wake up")
	}
}

func TestTimeouts(t *testing.T) {
	r := New(32, WithTimeout(20*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	_, err := r.Remove(ctx, make([]byte, 32))
	require.ErrorIs(t, err, ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, r.Insert(ctx, message(20, 0)))
	start = time.Now()
	require.ErrorIs(t, r.Insert(ctx, message(20, 0)), ErrFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestContextCancel(t *testing.T) {
	r := New(32, WithTimeout(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Remove(ctx, make([]byte, 32))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoveCancelPrefersData(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := New(64, WithTimeout(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			buf := make([]byte, 8)
			n, err := r.Remove(ctx, buf)
			if err == nil && string(buf[:n]) != "a" {
				err = fmt.Errorf("unexpected message %q", buf[:n])
			}
			done <- err
		}()
		if i%2 == 1 {
			time.Sleep(time.Millisecond)
		}
		// insert and cancel while the remover cannot observe either one alone
		r.mu.Lock()
		var prefix [PrefixSize]byte
		binary.LittleEndian.PutUint64(prefix[:], 1)
		r.write = r.put(r.write, prefix[:])
		r.write = r.put(r.write, []byte("a"))
		r.notifyLocked()
		cancel()
		r.mu.Unlock()
		require.NoError(t, <-done, "iteration %d", i)
	}
}

func TestCloseWriteDrains(t *testing.T) {
	r := New(64, WithTimeout(time.Hour))
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, []byte("a")))
	require.NoError(t, r.Insert(ctx, []byte("b")))
	r.CloseWrite()
	r.CloseWrite()

	require.ErrorIs(t, r.Insert(ctx, []byte("c")), ErrClosed)
	buf := make([]byte, 8)
	for _, want := range []string{"a", "b"} {
		n, err := r.Remove(ctx, buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf[:n]))
	}
	_, err := r.Remove(ctx, buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseReleasesWaiters(t *testing.T) {
	r := New(64, WithTimeout(time.Hour))
	ctx := context.Background()
	done := make(chan error)
	go func() {
		_, err := r.Remove(ctx, make([]byte, 8))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not release remove")
	}

	r = New(64)
	require.NoError(t, r.Insert(ctx, []byte("a")))
	r.Close()
	_, err := r.Remove(ctx, make([]byte, 8))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentProducersConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		count     = 500
	)
	r := New(256, WithTimeout(10*time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < count; i++ {
				msg := []byte(fmt.Sprintf("%d:%d", p, i))
				for {
					err := r.Insert(ctx, msg)
					if err == nil {
						break
					}
					if !errors.Is(err, ErrFull) {
						t.Error(err)
						return
					}
				}
			}
		}(p)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			buf := make([]byte, 64)
			for {
				n, err := r.Remove(ctx, buf)
				if errors.Is(err, ErrEmpty) {
					continue
				}
				if err != nil {
					return
				}
				mu.Lock()
				seen[string(buf[:n])]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	r.CloseWrite()
	cwg.Wait()

	require.Len(t, seen, producers*count)
	for msg, n := range seen {
		assert.Equal(t, 1, n, msg)
	}
}
