package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol identifies the wire protocol of a remote shell.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// DefaultPort returns the well-known port of the protocol.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolSSH:
		return 22
	case ProtocolTelnet:
		return 23
	}
	return 0
}

// ParseProtocol maps a user supplied protocol name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolSSH:
		return ProtocolSSH, nil
	case ProtocolTelnet:
		return ProtocolTelnet, nil
	}
	return "", &ConnectError{Kind: FailureUnsupportedProtocol, Message: fmt.Sprintf("unsupported protocol %q", s)}
}

// ErrClosed is returned by Session operations after the session ended.
var ErrClosed = errors.New("remote session closed")

// Session is one live interactive shell on a remote host.
type Session interface {
	Protocol() Protocol
	// Addr returns the destination as host:port.
	Addr() string
	// TryRead returns buffered output without blocking. It returns nil, nil
	// when nothing is available and ErrClosed once the remote side ended and
	// all buffered output was returned.
	TryRead() ([]byte, error)
	Write(p []byte) error
	IsOpen() bool
	Close() error
}

// Target is the destination of a new session.
type Target struct {
	Protocol Protocol
	Host     string
	Port     int
}

// Addr returns host:port, substituting the protocol's default port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = t.Protocol.DefaultPort()
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Credentials authenticate an SSH session. Telnet ignores them; login
// happens in-band through the relayed terminal.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey []byte
	Passphrase string
}

// Options tune session establishment.
type Options struct {
	// Timeout bounds the whole establishment. Zero means the protocol default.
	Timeout time.Duration
	// Term is the PTY terminal type requested for SSH sessions.
	Term string
	// KnownHostsPath enables accept-new host key checking for SSH. Empty
	// disables host key verification.
	KnownHostsPath string
	// ReadBufferSize caps the bytes returned by one TryRead.
	ReadBufferSize int
	// MaxBuffered caps output buffered ahead of TryRead before the transport
	// reader stalls.
	MaxBuffered int
}

const (
	DefaultSSHTimeout     = 6 * time.Second
	DefaultTelnetTimeout  = 10 * time.Second
	DefaultTerm           = "xterm"
	DefaultReadBufferSize = 4096
	DefaultMaxBuffered    = 256 * 1024
)

func (o Options) withDefaults(p Protocol) Options {
	if o.Timeout <= 0 {
		if p == ProtocolTelnet {
			o.Timeout = DefaultTelnetTimeout
		} else {
			o.Timeout = DefaultSSHTimeout
		}
	}
	if o.Term == "" {
		o.Term = DefaultTerm
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.MaxBuffered <= 0 {
		o.MaxBuffered = DefaultMaxBuffered
	}
	if o.MaxBuffered < o.ReadBufferSize {
		o.MaxBuffered = o.ReadBufferSize
	}
	return o
}

// Open establishes a session to target. It never blocks longer than the
// configured timeout; the returned session outlives ctx.
func Open(ctx context.Context, target Target, creds Credentials, opts Options) (Session, error) {
	if target.Host == "" {
		return nil, &ConnectError{Kind: FailureInvalidTarget, Message: "hostname is required"}
	}
	if target.Port < 0 || target.Port > 65535 {
		return nil, &ConnectError{Kind: FailureInvalidTarget, Message: fmt.Sprintf("invalid port %d", target.Port)}
	}
	opts = opts.withDefaults(target.Protocol)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	switch target.Protocol {
	case ProtocolSSH:
		return openSSH(ctx, target, creds, opts)
	case ProtocolTelnet:
		return openTelnet(ctx, target, opts)
	}
	return nil, &ConnectError{Kind: FailureUnsupportedProtocol, Message: fmt.Sprintf("unsupported protocol %q", target.Protocol)}
}

// FailureKind classifies establishment errors.
type FailureKind string

const (
	FailureUnsupportedProtocol FailureKind = "unsupported_protocol"
	FailureInvalidTarget       FailureKind = "invalid_target"
	FailureUnreachable         FailureKind = "unreachable"
	FailureTimeout             FailureKind = "timeout"
	FailureAuth                FailureKind = "auth_failed"
	FailureHostKeyMismatch     FailureKind = "host_key_mismatch"
	FailureSessionSetup        FailureKind = "session_setup"
)

// ConnectError reports why a session could not be established.
type ConnectError struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// classifyDialError turns a transport level failure into a ConnectError.
func classifyDialError(addr string, err error) *ConnectError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ConnectError{Kind: FailureTimeout, Message: "connection to " + addr + " timed out", Cause: err}
	}
	return &ConnectError{Kind: FailureUnreachable, Message: "unable to reach " + addr, Cause: err}
}
