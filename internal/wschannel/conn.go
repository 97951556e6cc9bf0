// Package wschannel adapts a browser WebSocket to bridge.ClientChannel.
//
// Remote output is sent as text frames. Bytes that are not valid UTF-8 are
// replaced with U+FFFD; a multi-byte rune split across two sends is held back
// until it is complete.
package wschannel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/1314ysys/WebTerminalTool/internal/bridge"
	"github.com/coder/websocket"
)

// Close codes sent to the browser in addition to the standard ones.
const (
	StatusSessionNotFound websocket.StatusCode = 4004
	StatusInternalError   websocket.StatusCode = 4500
)

// maxReasonBytes is the largest close reason a control frame can carry.
const maxReasonBytes = 123

var _ bridge.ClientChannel = (*Conn)(nil)

type Conn struct {
	ws *websocket.Conn

	sendMu sync.Mutex
	carry  []byte

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New wraps an accepted WebSocket. readLimit caps one inbound message; zero
// keeps the library default.
func New(ws *websocket.Conn, readLimit int64) *Conn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	c := &Conn{ws: ws}
	c.connected.Store(true)
	return c
}

// Send writes p as one text frame.
func (c *Conn) Send(ctx context.Context, p []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected.Load() {
		return bridge.ErrClientClosed
	}
	text := c.decode(p)
	if len(text) == 0 {
		return nil
	}
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("%w: %w", bridge.ErrClientClosed, err)
	}
	return nil
}

// decode returns the valid UTF-8 text of carry+p and keeps an incomplete
// trailing rune for the next call.
func (c *Conn) decode(p []byte) string {
	data := p
	if len(c.carry) > 0 {
		data = append(c.carry, p...)
		c.carry = nil
	}
	complete, rest := splitIncompleteRune(data)
	if len(rest) > 0 {
		c.carry = append([]byte(nil), rest...)
	}
	return strings.ToValidUTF8(string(complete), "\uFFFD")
}

// splitIncompleteRune separates a trailing rune prefix that needs more bytes.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

// Receive returns the next text or binary message as raw bytes.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("%w: %w", bridge.ErrClientClosed, err)
	}
	return data, nil
}

func (c *Conn) IsConnected() bool { return c.connected.Load() }

// Close performs a normal closure with reason.
func (c *Conn) Close(reason string) error {
	return c.CloseWithStatus(websocket.StatusNormalClosure, reason)
}

// CloseWithStatus closes the WebSocket with code and reason. Only the first
// call has an effect.
func (c *Conn) CloseWithStatus(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err := c.ws.Close(code, truncateReason(reason))
		if err != nil && !errors.Is(err, net.ErrClosed) && websocket.CloseStatus(err) == -1 {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func truncateReason(reason string) string {
	if len(reason) <= maxReasonBytes {
		return reason
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
