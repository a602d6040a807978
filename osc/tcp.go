package osc

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/Lobaro/slip"
	"github.com/pkg/errors"
)

// ErrFraming is returned by a stream connection whose framing can no longer
// be trusted. The connection is closed and every later Receive fails.
var ErrFraming = errors.New("stream framing lost")

// Framing selects how packets are delimited on a stream transport.
type Framing string

const (
	// FramingLength prefixes every packet with its size as a big-endian int32.
	// This is what scsynth expects on its TCP port.
	FramingLength Framing = "length"
	// FramingSLIP delimits packets with SLIP (RFC 1055), as OSC 1.1 recommends
	// for streams.
	FramingSLIP Framing = "slip"
)

// ParseFraming converts a framing name to Framing.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(s)); f {
	case FramingLength, FramingSLIP:
		return f, nil
	case "":
		return FramingLength, nil
	default:
		return "", errors.Errorf("unknown framing %q", s)
	}
}

type streamConn struct {
	conn    net.Conn
	framing Framing

	writeMu sync.Mutex
	sw      *slip.Writer
	sr      *slip.Reader
}

// DialTCP opens a TCP channel to the remote peer at addr using the given framing.
func DialTCP(addr string, framing Framing) (Conn, error) {
	if _, err := ParseFraming(string(framing)); err != nil {
		return nil, err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewStreamConn(conn, framing), nil
}

// NewStreamConn wraps an established stream connection.
func NewStreamConn(conn net.Conn, framing Framing) Conn {
	c := &streamConn{conn: conn, framing: framing}
	if framing == FramingSLIP {
		c.sw = slip.NewWriter(conn)
		c.sr = slip.NewReader(conn)
	}
	return c
}

// Send writes one framed packet to the stream.
func (c *streamConn) Send(p Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.framing == FramingSLIP {
		return errors.WithStack(c.sw.WritePacket(data))
	}

	frame := make([]byte, 0, bit32Size+len(data))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(data)))
	frame = append(frame, data...)
	_, err = c.conn.Write(frame)
	return errors.WithStack(err)
}

// Receive reads the next framed packet from the stream.
func (c *streamConn) Receive() (Packet, error) {
	if c.framing == FramingSLIP {
		return c.receiveSLIP()
	}

	var size [bit32Size]byte
	if _, err := io.ReadFull(c.conn, size[:]); err != nil {
		return nil, errors.WithStack(err)
	}

	n := binary.BigEndian.Uint32(size[:])
	if n == 0 || n > MaxPacketSize {
		// Nothing tells where the next frame starts.
		_ = c.conn.Close()
		return nil, errors.Wrapf(ErrFraming, "invalid frame size %d", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return ParsePacket(data)
}

func (c *streamConn) receiveSLIP() (Packet, error) {
	var data []byte
	for {
		chunk, isPrefix, err := c.sr.ReadPacket()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		data = append(data, chunk...)
		if len(data) > MaxPacketSize {
			// The reader stops at END, so the next frame still parses.
			return nil, errors.Errorf("Receive: frame exceeds %d bytes", MaxPacketSize)
		}
		if isPrefix {
			continue
		}
		// Back-to-back END bytes produce empty frames.
		if len(data) > 0 {
			break
		}
	}
	return ParsePacket(data)
}

func (c *streamConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *streamConn) Close() error {
	return errors.WithStack(c.conn.Close())
}
