package supercollider

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/osc"
	"github.com/chabad360/go-supercollider/router"
)

// Server is a session with one engine. It owns the transport, the reply
// router and the identifier allocators of everything created through it.
type Server struct {
	config Config
	log    *zap.Logger
	conn   osc.Conn
	router *router.Router
	group  *parallel.Group

	nodeIDs      *alloc.Counter
	bufferIDs    *alloc.Counter
	pingIDs      *alloc.Counter
	controlBuses *alloc.Range
	audioBuses   *alloc.Range
}

// Dial connects to the engine described by config and confirms it answers a
// /sync. The session logs through the logger carried by ctx and lives until
// Close is called or ctx is done.
func Dial(ctx context.Context, config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	conn, err := dial(config)
	if err != nil {
		return nil, err
	}
	s := newServer(ctx, config, conn)

	if err := s.Sync(ctx); err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "engine at %s is not responding", config.Address()), s.Close())
	}

	s.log.Info("Connected to engine",
		zap.String("address", config.Address()),
		zap.String("transport", config.Transport),
		zap.Stringer("local", conn.LocalAddr()))
	return s, nil
}

func dial(config Config) (osc.Conn, error) {
	if config.Transport == TransportTCP {
		return osc.DialTCP(config.Address(), config.Framing)
	}
	return osc.DialUDP(config.Address())
}

func newServer(ctx context.Context, config Config, conn osc.Conn) *Server {
	log := logger.Get(ctx).Named("supercollider")
	s := &Server{
		config:       config,
		log:          log,
		conn:         conn,
		router:       router.New(log, config.Timeout),
		nodeIDs:      alloc.NewCounter(config.NodeIDStart),
		bufferIDs:    alloc.NewCounter(config.BufferIDStart),
		pingIDs:      alloc.NewCounter(1),
		controlBuses: alloc.NewRange("control bus", config.BusStart, config.BusCapacity),
		audioBuses:   alloc.NewRange("audio bus", config.BusStart, config.BusCapacity),
	}

	// /fail is only ever logged. Waiters asking for it are completed by the
	// router on top of this.
	s.router.Subscribe(router.FailAddress, nil, s.logFail)

	s.group = parallel.NewGroup(ctx)
	s.group.Spawn("listener", parallel.Fail, s.listen)
	s.group.Spawn("closer", parallel.Fail, func(ctx context.Context) error {
		<-ctx.Done()
		s.router.Close()
		if err := conn.Close(); err != nil {
			return err
		}
		return errors.WithStack(ctx.Err())
	})
	return s
}

// listen dispatches inbound messages in reception order until the
// transport is closed.
func (s *Server) listen(ctx context.Context) error {
	log := logger.Get(ctx)

	for {
		p, err := s.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return err
			}
			if errors.Is(err, osc.ErrFraming) {
				log.Error("Transport out of sync", zap.Error(err))
				return err
			}
			// Undecodable packets and ICMP errors from an absent engine.
			log.Debug("Receive failed", zap.Error(err))
			continue
		}
		for _, msg := range osc.Messages(p) {
			s.router.Dispatch(msg)
		}
	}
}

func (s *Server) logFail(args router.Args) {
	command, _ := args.String(0)
	message, _ := args.String(1)
	s.log.Warn("Engine reported failure", zap.String("command", command), zap.String("message", message))
}

// Close stops the listener and closes the transport. Pending round trips
// fail with ErrClosed.
func (s *Server) Close() error {
	s.group.Exit(nil)
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Config returns the session configuration.
func (s *Server) Config() Config {
	return s.config
}

// send transmits a message without waiting for anything. Failures are only
// logged, an absent engine shows up as round trip timeouts.
func (s *Server) send(address string, args ...any) {
	if err := s.conn.Send(osc.NewMessage(address, args...)); err != nil {
		s.log.Debug("Send failed", zap.String("address", address), zap.Error(err))
	}
}

// sender returns a Send function for a router request. Send errors are
// swallowed like those of plain sends, so the request ends in a timeout.
func (s *Server) sender(address string, args ...any) func() error {
	return func() error {
		s.send(address, args...)
		return nil
	}
}

// Send transmits a raw command to the engine.
func (s *Server) Send(address string, args ...any) error {
	msg := osc.NewMessage(address)
	if err := msg.Append(args...); err != nil {
		return err
	}
	return s.conn.Send(msg)
}

// Subscribe calls fn for every inbound message on address whose leading
// arguments equal key, for example /n_end notifications of one node after
// Notify(ctx, true).
func (s *Server) Subscribe(address string, key router.Key, fn func(router.Args)) *router.Subscription {
	return s.router.Subscribe(address, key, fn)
}

// ClearHandlers drops every subscription and pending round trip. Pending
// round trips fail with ErrClosed.
func (s *Server) ClearHandlers() {
	s.router.Reset()
	s.router.Subscribe(router.FailAddress, nil, s.logFail)
}

// Sync waits until the engine has processed every command sent before it.
func (s *Server) Sync(ctx context.Context) error {
	_, err := router.Call(ctx, s.router, s.syncRequest())
	return err
}

// SyncAsync is the non-blocking form of Sync.
func (s *Server) SyncAsync() *router.Future[int32] {
	return startAsync(s.router, s.syncRequest())
}

func (s *Server) syncRequest() router.Request[int32] {
	id := s.pingIDs.Next()
	return router.Request[int32]{
		Address: "/synced",
		Key:     router.Key{id},
		Send:    s.sender("/sync", id),
		Decode: func(a router.Args) (int32, error) {
			return a.Int32(0)
		},
	}
}

// Status is the engine load reported by /status.
type Status struct {
	UGens             int32
	Synths            int32
	Groups            int32
	SynthDefs         int32
	CPUAverage        float32
	CPUPeak           float32
	SampleRateNominal float64
	SampleRateActual  float64
}

// Status queries the engine load.
func (s *Server) Status(ctx context.Context) (Status, error) {
	return router.Call(ctx, s.router, s.statusRequest())
}

// StatusAsync is the non-blocking form of Status.
func (s *Server) StatusAsync() *router.Future[Status] {
	return startAsync(s.router, s.statusRequest())
}

func (s *Server) statusRequest() router.Request[Status] {
	return router.Request[Status]{
		Address: "/status.reply",
		Send:    s.sender("/status"),
		Decode:  decodeStatus,
	}
}

func decodeStatus(a router.Args) (Status, error) {
	if err := a.Require(9); err != nil {
		return Status{}, err
	}

	var st Status
	var err error
	for i, dst := range []*int32{&st.UGens, &st.Synths, &st.Groups, &st.SynthDefs} {
		if *dst, err = a.Int32(i + 1); err != nil {
			return Status{}, err
		}
	}
	if st.CPUAverage, err = a.Float32(5); err != nil {
		return Status{}, err
	}
	if st.CPUPeak, err = a.Float32(6); err != nil {
		return Status{}, err
	}
	if st.SampleRateNominal, err = a.Float64(7); err != nil {
		return Status{}, err
	}
	if st.SampleRateActual, err = a.Float64(8); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Version is the engine build reported by /version.
type Version struct {
	Program    string
	Major      int32
	Minor      int32
	Patch      string
	Branch     string
	CommitHash string
}

func (v Version) String() string {
	return fmt.Sprintf("%s %d.%d%s", v.Program, v.Major, v.Minor, v.Patch)
}

// Version queries the engine build.
func (s *Server) Version(ctx context.Context) (Version, error) {
	return router.Call(ctx, s.router, s.versionRequest())
}

// VersionAsync is the non-blocking form of Version.
func (s *Server) VersionAsync() *router.Future[Version] {
	return startAsync(s.router, s.versionRequest())
}

func (s *Server) versionRequest() router.Request[Version] {
	return router.Request[Version]{
		Address: "/version.reply",
		Send:    s.sender("/version"),
		Decode:  decodeVersion,
	}
}

func decodeVersion(a router.Args) (Version, error) {
	var v Version
	var err error
	if v.Program, err = a.String(0); err != nil {
		return Version{}, err
	}
	if v.Major, err = a.Int32(1); err != nil {
		return Version{}, err
	}
	if v.Minor, err = a.Int32(2); err != nil {
		return Version{}, err
	}
	if v.Patch, err = a.String(3); err != nil {
		return Version{}, err
	}
	if v.Branch, err = a.String(4); err != nil {
		return Version{}, err
	}
	if v.CommitHash, err = a.String(5); err != nil {
		return Version{}, err
	}
	return v, nil
}

// Notify turns node and engine notifications to this client on or off.
func (s *Server) Notify(ctx context.Context, on bool) error {
	flag := int32(0)
	if on {
		flag = 1
	}
	_, err := router.Call(ctx, s.router, doneRequest(s.sender("/notify", flag), "/notify"))
	return err
}

// DumpMode selects what the engine prints for every command it receives.
type DumpMode int32

// Dump modes.
const (
	DumpOff DumpMode = iota
	DumpParsed
	DumpHex
	DumpBoth
)

// DumpOSC makes the engine print incoming commands.
func (s *Server) DumpOSC(mode DumpMode) {
	s.send("/dumpOSC", int32(mode))
}

// RootGroup returns the engine's root group, node 0.
func (s *Server) RootGroup() *Group {
	return &Group{node: node{server: s, id: 0}}
}

// DefaultGroup returns the engine's default group, node 1.
func (s *Server) DefaultGroup() *Group {
	return &Group{node: node{server: s, id: 1}}
}

// doneRequest waits for /done command key..., or for a /fail naming the
// command and key.
func doneRequest(send func() error, command string, key ...any) router.Request[struct{}] {
	return router.Request[struct{}]{
		Address: "/done",
		Key:     append(router.Key{command}, key...),
		Fail:    router.FailFor(command, key...),
		Send:    send,
		Decode:  func(router.Args) (struct{}, error) { return struct{}{}, nil },
	}
}

// startAsync begins a non-blocking request. Failures to start surface
// through the future.
func startAsync[T any](r *router.Router, req router.Request[T]) *router.Future[T] {
	f, err := router.Start(r, req)
	if err != nil {
		var zero T
		return router.Resolved(zero, err)
	}
	return f
}
