package remote

import (
	"bytes"
	"context"
	"log"
	"net"

	oi "github.com/reiver/go-oi"
)

// Telnet command bytes (RFC 854).
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

// telnetWriter escapes IAC bytes in user input and retries short writes.
type telnetWriter struct {
	conn net.Conn
}

func (w telnetWriter) Write(p []byte) (int, error) {
	escaped := bytes.ReplaceAll(p, []byte{telnetIAC}, []byte{telnetIAC, telnetIAC})
	if _, err := oi.LongWrite(w.conn, escaped); err != nil {
		return 0, err
	}
	return len(p), nil
}

func openTelnet(ctx context.Context, target Target, opts Options) (Session, error) {
	addr := target.Addr()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	s := newStreamSession(ProtocolTelnet, addr, telnetWriter{conn: conn}, conn.Close, opts)
	go pumpTelnet(s, conn)

	log.Printf("[remote] telnet session established to %s", addr)
	return s, nil
}

// pumpTelnet drains conn into the session buffer. Command sequences are
// removed from the data; option requests are refused.
func pumpTelnet(s *streamSession, conn net.Conn) {
	var dec telnetDecoder
	chunk := make([]byte, s.readSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			data, replies := dec.decode(chunk[:n])
			if len(replies) > 0 {
				if werr := s.writeControl(conn, replies); werr != nil {
					s.finish(werr)
					return
				}
			}
			if len(data) > 0 {
				if _, werr := s.buf.Write(data); werr != nil {
					s.finish(werr)
					return
				}
			}
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

// writeControl sends raw protocol bytes, serialized with user input.
func (s *streamSession) writeControl(conn net.Conn, p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := oi.LongWrite(conn, p)
	return err
}

type telnetState int

const (
	stateData telnetState = iota
	stateIAC
	stateOption
	stateSub
	stateSubIAC
)

// telnetDecoder splits a telnet byte stream into data and replies. It keeps
// state across calls so sequences may span reads.
type telnetDecoder struct {
	state telnetState
	verb  byte
}

// decode returns the data bytes of in and the negotiation replies to send.
// DO is answered with WONT and WILL with DONT; WONT and DONT need no reply.
func (d *telnetDecoder) decode(in []byte) (data, replies []byte) {
	data = make([]byte, 0, len(in))
	for _, b := range in {
		switch d.state {
		case stateData:
			if b == telnetIAC {
				d.state = stateIAC
				continue
			}
			data = append(data, b)
		case stateIAC:
			switch b {
			case telnetIAC:
				data = append(data, telnetIAC)
				d.state = stateData
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				d.verb = b
				d.state = stateOption
			case telnetSB:
				d.state = stateSub
			default:
				// NOP, GA and the other two byte commands carry nothing.
				d.state = stateData
			}
		case stateOption:
			switch d.verb {
			case telnetDO:
				replies = append(replies, telnetIAC, telnetWONT, b)
			case telnetWILL:
				replies = append(replies, telnetIAC, telnetDONT, b)
			}
			d.state = stateData
		case stateSub:
			if b == telnetIAC {
				d.state = stateSubIAC
			}
		case stateSubIAC:
			if b == telnetSE {
				d.state = stateData
			} else {
				d.state = stateSub
			}
		}
	}
	return data, replies
}
