package bridge

import (
	"context"
	"errors"
	"sync"
)

var errFakeClosed = errors.New("fake remote closed")

// fakeSession is a scripted RemoteSession.
type fakeSession struct {
	mu         sync.Mutex
	reads      [][]byte
	readErr    error
	writeErr   error
	writes     [][]byte
	readCalls  int
	closeCalls int
	closed     bool
	// onClose runs at the start of Close, outside the lock.
	onClose func()
}

func newFakeSession(reads ...string) *fakeSession {
	s := &fakeSession{}
	for _, r := range reads {
		s.reads = append(s.reads, []byte(r))
	}
	return s
}

func (s *fakeSession) Addr() string { return "fake:22" }

func (s *fakeSession) TryRead() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	if s.closed {
		return nil, errFakeClosed
	}
	if len(s.reads) > 0 {
		data := s.reads[0]
		s.reads = s.reads[1:]
		return data, nil
	}
	return nil, s.readErr
}

func (s *fakeSession) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errFakeClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return nil
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSession) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}

func (s *fakeSession) push(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, []byte(data))
}

func (s *fakeSession) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *fakeSession) snapshot() (writes [][]byte, readCalls, closeCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...), s.readCalls, s.closeCalls
}

// fakeClient is an in-memory ClientChannel.
type fakeClient struct {
	mu          sync.Mutex
	sent        [][]byte
	sendErr     error
	closeCalls  int
	closeReason string
	connected   bool

	inbound  chan []byte
	gone     chan struct{}
	goneOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connected: true,
		inbound:   make(chan []byte, 16),
		gone:      make(chan struct{}),
	}
}

func (c *fakeClient) Send(ctx context.Context, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrClientClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), p...))
	return nil
}

func (c *fakeClient) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.gone:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Close(reason string) error {
	c.mu.Lock()
	c.closeCalls++
	c.closeReason = reason
	c.connected = false
	c.mu.Unlock()
	c.goneOnce.Do(func() { close(c.gone) })
	return nil
}

// disconnect simulates the browser going away.
func (c *fakeClient) disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeClient) snapshot() (sent [][]byte, closeCalls int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...), c.closeCalls, c.closeReason
}
