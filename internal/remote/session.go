package remote

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

// streamSession holds what SSH and Telnet sessions share: the drained output
// buffer, serialized writes and the one-shot transport shutdown.
type streamSession struct {
	protocol Protocol
	addr     string
	buf      *pollBuffer
	readSize int

	writeMu sync.Mutex
	w       io.Writer

	closed   atomic.Bool
	stopOnce sync.Once
	stop     func() error
}

func newStreamSession(p Protocol, addr string, w io.Writer, stop func() error, opts Options) *streamSession {
	return &streamSession{
		protocol: p,
		addr:     addr,
		buf:      newPollBuffer(opts.MaxBuffered),
		readSize: opts.ReadBufferSize,
		w:        w,
		stop:     stop,
	}
}

func (s *streamSession) Protocol() Protocol { return s.protocol }
func (s *streamSession) Addr() string       { return s.addr }
func (s *streamSession) IsOpen() bool       { return !s.closed.Load() }

func (s *streamSession) TryRead() ([]byte, error) {
	return s.buf.Drain(s.readSize)
}

func (s *streamSession) Write(p []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(p); err != nil {
		if s.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("write to %s: %w", s.addr, err)
	}
	return nil
}

// Close releases the transport and discards unread output.
func (s *streamSession) Close() error {
	err := s.shutdown()
	s.buf.Close()
	return err
}

// finish is called by the transport reader when the remote side ended.
// Output already buffered stays readable through TryRead.
func (s *streamSession) finish(err error) {
	s.buf.Finish(err)
	if shutdownErr := s.shutdown(); shutdownErr != nil {
		log.Printf("[remote] %s session to %s: release after end of stream: %v", s.protocol, s.addr, shutdownErr)
	}
}

// shutdown stops the transport exactly once; later calls return nil. Errors
// from tearing down an already broken transport are not reported.
func (s *streamSession) shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		if stopErr := s.stop(); stopErr != nil && !errors.Is(stopErr, net.ErrClosed) && !errors.Is(stopErr, io.EOF) {
			err = stopErr
		}
	})
	return err
}
