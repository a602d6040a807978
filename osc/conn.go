package osc

import (
	"net"

	"github.com/pkg/errors"
)

// Conn is a bidirectional OSC channel to a single remote peer.
type Conn interface {
	// Send serializes and transmits the packet.
	Send(p Packet) error
	// Receive blocks until the next packet arrives.
	Receive() (Packet, error)
	// LocalAddr returns the local address replies are delivered to.
	LocalAddr() net.Addr
	// Close closes the channel. Blocked Receive calls return an error.
	Close() error
}

// udpConn sends and receives on one connected UDP socket, so the remote peer
// replies to the port the requests came from.
type udpConn struct {
	conn *net.UDPConn
}

// DialUDP opens a UDP channel to the remote peer at addr.
func DialUDP(addr string) (Conn, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	conn, err := net.DialUDP("udp", nil, a)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &udpConn{conn: conn}, nil
}

// Send sends an OSC Packet to the peer.
func (c *udpConn) Send(p Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = c.conn.Write(data)
	return errors.WithStack(err)
}

// Receive reads the next datagram and parses it.
func (c *udpConn) Receive() (Packet, error) {
	b := bPool.Get().(*[]byte)
	defer bPool.Put(b)

	n, err := c.conn.Read(*b)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParsePacket((*b)[:n])
}

func (c *udpConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection to the peer.
func (c *udpConn) Close() error {
	return errors.WithStack(c.conn.Close())
}
