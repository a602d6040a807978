package osc

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

var errNotListening = errors.New("server is not listening")

// Server represents an OSC server. The server listens on Addr for incoming OSC
// packets and bundles and hands them to Dispatcher one at a time.
type Server struct {
	Addr        string
	Dispatcher  *Dispatcher
	ReadTimeout time.Duration

	mu   sync.Mutex
	conn net.PacketConn
}

// Listen opens the UDP socket the server reads from. It is called by
// ListenAndServe, but may be called earlier to learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return errors.WithStack(err)
	}
	s.conn = conn
	return nil
}

// LocalAddr returns the address the server is bound to, or nil before Listen.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ListenAndServe retrieves incoming OSC packets and dispatches the retrieved
// OSC packets until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve reads packets from the listening socket and dispatches them until ctx
// is done. The socket is closed on return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	if s.Dispatcher == nil {
		s.Dispatcher = &Dispatcher{}
	}
	s.mu.Unlock()

	if conn == nil {
		return errors.Wrap(errNotListening, "Serve")
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			log := logger.Get(ctx)
			for {
				p, addr, err := s.ReceivePacket()
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					var ne net.Error
					if errors.As(err, &ne) && ne.Timeout() {
						continue
					}
					if errors.Is(err, net.ErrClosed) || errors.Is(err, errNotListening) {
						return errors.WithStack(err)
					}
					log.Debug("Dropping invalid OSC packet", zap.Any("from", addr), zap.Error(err))
					continue
				}
				s.serve(log, p, addr)
			}
		})
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			if err := s.Close(); err != nil {
				return err
			}
			return errors.WithStack(ctx.Err())
		})
		return nil
	})
}

func (s *Server) serve(log *zap.Logger, p Packet, a net.Addr) {
	defer func() {
		if err := recover(); err != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			log.Error("Panic handling OSC packet", zap.Any("from", a), zap.Any("panic", err),
				zap.ByteString("stack", buf))
		}
	}()
	if err := s.Dispatcher.Dispatch(p, a); err != nil {
		log.Debug("Dispatching OSC packet failed", zap.Any("from", a), zap.Error(err))
	}
}

// ReceivePacket reads and parses a single packet from the listening socket.
func (s *Server) ReceivePacket() (Packet, net.Addr, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil, nil, errors.Wrap(errNotListening, "ReceivePacket")
	}
	return ReceivePacketFromConn(conn, s.ReadTimeout)
}

// WriteTo sends the packet to addr from the server's socket.
func (s *Server) WriteTo(p Packet, addr net.Addr) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return 0, errors.Wrap(errNotListening, "WriteTo")
	}

	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := conn.WriteTo(data, addr)
	return n, errors.WithStack(err)
}

// Close closes the listening socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return errors.WithStack(err)
}

// ReceivePacketFromConn reads one datagram from c and parses it. A non-zero
// timeout bounds the read.
func ReceivePacketFromConn(c net.PacketConn, timeout time.Duration) (Packet, net.Addr, error) {
	if timeout != 0 {
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, nil, errors.WithStack(err)
		}
	}

	b := bPool.Get().(*[]byte)
	defer bPool.Put(b)

	n, a, err := c.ReadFrom(*b)
	if err != nil {
		return nil, a, errors.WithStack(err)
	}

	p, err := ParsePacket((*b)[:n])
	return p, a, err
}
