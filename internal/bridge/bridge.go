package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed          = errors.New("bridge closed")
	ErrAlreadyAttached = errors.New("client already attached")
	ErrNotFound        = errors.New("session not found")
)

// DefaultPollInterval is how long Run waits between idle pump iterations.
const DefaultPollInterval = 10 * time.Millisecond

// Close reasons reported to the browser.
const (
	ReasonRemoteClosed   = "remote session closed"
	ReasonRemoteWrite    = "write to remote session failed"
	ReasonClientGone     = "client disconnected"
	ReasonServerShutdown = "server shutting down"
)

// Options configure a Bridge.
type Options struct {
	PollInterval time.Duration
	// Debug logs a preview of every relayed payload.
	Debug bool
	// OnClose runs once after teardown completed.
	OnClose func(b *Bridge)
}

// Stats is a point-in-time view of a Bridge.
type Stats struct {
	ID            string
	Addr          string
	State         State
	CreatedAt     time.Time
	AttachedAt    time.Time
	ClosedAt      time.Time
	BytesToClient int64
	BytesToRemote int64
	DroppedBytes  int64
	CloseReason   string
}

// Duration is the lifetime of the bridge, up to now if it is still open.
func (s Stats) Duration() time.Duration {
	if s.ClosedAt.IsZero() {
		return time.Since(s.CreatedAt)
	}
	return s.ClosedAt.Sub(s.CreatedAt)
}

// Bridge relays between one RemoteSession and at most one ClientChannel.
type Bridge struct {
	session   RemoteSession
	opts      Options
	createdAt time.Time

	mu          sync.Mutex
	id          string
	registry    *Registry
	client      ClientChannel
	state       State
	queue       [][]byte
	attachedAt  time.Time
	closedAt    time.Time
	closeReason string

	bytesToClient atomic.Int64
	bytesToRemote atomic.Int64
	dropped       atomic.Int64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an established remote session. The bridge starts in StateCreated.
func New(session RemoteSession, opts Options) *Bridge {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Bridge{
		session:   session,
		opts:      opts,
		createdAt: time.Now(),
		state:     StateCreated,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the registry identifier, empty until registered.
func (b *Bridge) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed when teardown completed.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ID:            b.id,
		Addr:          b.session.Addr(),
		State:         b.state,
		CreatedAt:     b.createdAt,
		AttachedAt:    b.attachedAt,
		ClosedAt:      b.closedAt,
		BytesToClient: b.bytesToClient.Load(),
		BytesToRemote: b.bytesToRemote.Load(),
		DroppedBytes:  b.dropped.Load(),
		CloseReason:   b.closeReason,
	}
}

// AttachClient sets the browser side. It succeeds once per bridge.
func (b *Bridge) AttachClient(ch ClientChannel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return ErrClosed
	case StateAttached:
		return ErrAlreadyAttached
	}
	b.client = ch
	b.state = StateAttached
	b.attachedAt = time.Now()
	return nil
}

// EnqueueOutbound queues client input for the remote session. p is copied.
// Input arriving after close is discarded.
func (b *Bridge) EnqueueOutbound(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, bytes.Clone(p))
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// stepError carries the close reason of a failed pump step.
type stepError struct {
	reason string
	err    error
}

func (e *stepError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// PumpOnce runs one read step and one write step concurrently. Any failure
// closes the bridge and is returned wrapped in ErrClosed. A closed bridge
// performs no I/O and returns ErrClosed.
func (b *Bridge) PumpOnce(ctx context.Context) error {
	_, err := b.pump(ctx)
	return err
}

// pump reports whether either step moved data.
func (b *Bridge) pump(ctx context.Context) (bool, error) {
	if b.State() == StateClosed {
		return false, ErrClosed
	}

	var (
		g          errgroup.Group
		readMoved  bool
		writeMoved bool
	)
	g.Go(func() error {
		var err error
		readMoved, err = b.readStep(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		writeMoved, err = b.writeStep()
		return err
	})

	if err := g.Wait(); err != nil {
		reason := ReasonRemoteClosed
		var se *stepError
		if errors.As(err, &se) {
			reason = se.reason
		}
		if b.State() != StateClosed {
			log.Printf("[bridge] %s: %v", b.label(), err)
		}
		b.Close(reason)
		return false, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return readMoved || writeMoved, nil
}

func (b *Bridge) readStep(ctx context.Context) (bool, error) {
	data, err := b.session.TryRead()
	if len(data) > 0 {
		b.mu.Lock()
		client := b.client
		b.mu.Unlock()

		if client == nil {
			b.dropped.Add(int64(len(data)))
			if b.opts.Debug {
				log.Printf("[bridge] %s: dropped %d bytes before attach: %s", b.label(), len(data), logutil.Preview(data, 64))
			}
		} else {
			if b.opts.Debug {
				log.Printf("[bridge] %s: remote -> client %s", b.label(), logutil.Preview(data, 64))
			}
			if serr := client.Send(ctx, data); serr != nil {
				return true, &stepError{reason: ReasonClientGone, err: fmt.Errorf("send to client: %w", serr)}
			}
			b.bytesToClient.Add(int64(len(data)))
		}
	}
	if err != nil {
		return len(data) > 0, &stepError{reason: ReasonRemoteClosed, err: fmt.Errorf("read from remote: %w", err)}
	}
	return len(data) > 0, nil
}

func (b *Bridge) writeStep() (bool, error) {
	b.mu.Lock()
	if b.state == StateClosed || len(b.queue) == 0 {
		b.mu.Unlock()
		return false, nil
	}
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	payload := bytes.Join(pending, nil)
	if b.opts.Debug {
		log.Printf("[bridge] %s: client -> remote %s", b.label(), logutil.Preview(payload, 64))
	}
	if err := b.session.Write(payload); err != nil {
		return false, &stepError{reason: ReasonRemoteWrite, err: fmt.Errorf("write to remote: %w", err)}
	}
	b.bytesToRemote.Add(int64(len(payload)))
	return true, nil
}

// Run is the pump task. It repeats PumpOnce, immediately while data is
// moving and otherwise every poll interval or when input is queued, until
// the bridge closes. Cancelling ctx closes the bridge.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			b.Close(ReasonServerShutdown)
			return
		default:
		}

		moved, err := b.pump(ctx)
		if err != nil {
			return
		}
		if moved {
			continue
		}

		select {
		case <-b.done:
			return
		case <-ctx.Done():
			b.Close(ReasonServerShutdown)
			return
		case <-b.wake:
		case <-ticker.C:
		}
	}
}

// ServeClient is the inbound task. It queues every client message until the
// client disconnects, then closes the bridge.
func (b *Bridge) ServeClient(ctx context.Context) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return
	}

	for {
		msg, err := client.Receive(ctx)
		if err != nil {
			if b.State() != StateClosed && !errors.Is(err, ErrClientClosed) {
				log.Printf("[bridge] %s: receive from client: %v", b.label(), err)
			}
			b.Close(ReasonClientGone)
			return
		}
		b.EnqueueOutbound(msg)
	}
}

// Close tears the bridge down. Only the first call has an effect; it is safe
// to call concurrently with in-flight I/O.
func (b *Bridge) Close(reason string) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state = StateClosed
		b.closeReason = reason
		b.closedAt = time.Now()
		b.queue = nil
		client := b.client
		id, registry := b.id, b.registry
		b.mu.Unlock()

		if client != nil && client.IsConnected() {
			if err := client.Close(reason); err != nil {
				log.Printf("[bridge] %s: close client: %v", b.label(), err)
			}
		}
		if b.session.IsOpen() {
			if err := b.session.Close(); err != nil {
				log.Printf("[bridge] %s: close remote: %v", b.label(), err)
			}
		}
		if registry != nil && id != "" {
			registry.Remove(id)
		}
		close(b.done)

		log.Printf("[bridge] %s closed: %s (to client %d bytes, to remote %d bytes)",
			b.label(), reason, b.bytesToClient.Load(), b.bytesToRemote.Load())

		if b.opts.OnClose != nil {
			b.opts.OnClose(b)
		}
	})
}

func (b *Bridge) label() string {
	b.mu.Lock()
	id := b.id
	b.mu.Unlock()
	if id == "" {
		return "unregistered (" + b.session.Addr() + ")"
	}
	return logutil.Fingerprint(id) + " (" + b.session.Addr() + ")"
}
