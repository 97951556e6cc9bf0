package remote

import (
	"errors"
	"fmt"
	"sync"
)

// pollBuffer sits between a blocking transport reader and the non-blocking
// TryRead. The producer blocks in Write while limit bytes are pending; the
// consumer never blocks.
type pollBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	limit  int
	err    error // set once the producer is done
	closed bool  // set once the consumer is done
}

func newPollBuffer(limit int) *pollBuffer {
	b := &pollBuffer{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends p, waiting for room while the buffer is full.
func (b *pollBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(p) {
		for len(b.data) >= b.limit && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			return written, ErrClosed
		}
		n := b.limit - len(b.data)
		if n > len(p)-written {
			n = len(p) - written
		}
		b.data = append(b.data, p[written:written+n]...)
		written += n
	}
	return written, nil
}

// Drain returns up to max pending bytes. With nothing pending it returns the
// producer's terminal error, or nil while the producer is still running.
func (b *pollBuffer) Drain(max int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil, b.err
	}
	n := len(b.data)
	if n > max {
		n = max
	}
	out := make([]byte, n)
	copy(out, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	b.cond.Broadcast()
	return out, nil
}

// Finish records that the producer reached end of stream. Pending data stays
// readable; afterwards Drain reports an error wrapping ErrClosed.
func (b *pollBuffer) Finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		switch {
		case err == nil || errors.Is(err, ErrClosed):
			b.err = ErrClosed
		default:
			b.err = fmt.Errorf("%w: %w", ErrClosed, err)
		}
	}
	b.cond.Broadcast()
}

// Close discards pending data and releases a blocked producer.
func (b *pollBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.data = nil
	if b.err == nil {
		b.err = ErrClosed
	}
	b.cond.Broadcast()
}

func (b *pollBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
