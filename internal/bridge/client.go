package bridge

import (
	"context"
	"errors"
)

// ErrClientClosed is returned by a ClientChannel once the browser side is gone.
var ErrClientClosed = errors.New("client channel closed")

// ClientChannel is the browser side of a Bridge.
type ClientChannel interface {
	// Send delivers one outbound message.
	Send(ctx context.Context, p []byte) error
	// Receive blocks until the next inbound message. It returns
	// ErrClientClosed once the channel is closed from either side.
	Receive(ctx context.Context) ([]byte, error)
	IsConnected() bool
	// Close is idempotent. reason is shown to the user when the transport
	// supports it.
	Close(reason string) error
}

// RemoteSession is the remote side of a Bridge. remote.Session satisfies it.
type RemoteSession interface {
	Addr() string
	// TryRead never blocks. It returns nil, nil when no data is ready.
	TryRead() ([]byte, error)
	Write(p []byte) error
	IsOpen() bool
	Close() error
}
