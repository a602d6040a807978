package supercollider

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/stretchr/testify/require"

	"github.com/chabad360/go-supercollider/osc"
	"github.com/chabad360/go-supercollider/router"
	"github.com/chabad360/go-supercollider/test/engine"
)

type session struct {
	ctx    context.Context
	server *Server
	engine *engine.Engine
}

func newSession(t *testing.T, configure ...func(*Config)) *session {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	e, err := engine.New()
	requireT.NoError(err)
	group.Spawn("engine", parallel.Fail, e.Run)

	config := DefaultConfig()
	config.Port = e.Addr().Port
	config.Timeout = time.Second
	for _, c := range configure {
		c(&config)
	}

	s, err := Dial(ctx, config)
	requireT.NoError(err)

	// Registered after qa's group cleanup, so the session closes before
	// the engine stops.
	t.Cleanup(func() {
		requireT.NoError(s.Close())
	})
	return &session{ctx: ctx, server: s, engine: e}
}

// lastSent returns the last command the engine received on address.
func (ss *session) lastSent(address string) *osc.Message {
	msgs := ss.engine.Received()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Address == address {
			return msgs[i]
		}
	}
	return nil
}

func (ss *session) addresses() []string {
	var out []string
	for _, m := range ss.engine.Received() {
		out = append(out, m.Address)
	}
	return out
}

func TestDialFailsWithoutEngine(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	// Listening but never serving, so nothing answers.
	e, err := engine.New()
	requireT.NoError(err)
	defer e.Close()

	config := DefaultConfig()
	config.Port = e.Addr().Port
	config.Timeout = 100 * time.Millisecond

	begin := time.Now()
	_, err = Dial(ctx, config)
	requireT.ErrorIs(err, ErrConnectivity)
	requireT.GreaterOrEqual(time.Since(begin), config.Timeout)
}

func TestDialRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Transport = "carrier-pigeon"

	_, err := Dial(qa.NewContext(t), config)
	require.Error(t, err)
}

func TestStatusAndVersion(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	_, err := NewSynth(ss.server, "sine", nil)
	requireT.NoError(err)

	st, err := ss.server.Status(ss.ctx)
	requireT.NoError(err)
	requireT.EqualValues(1, st.Synths)
	requireT.EqualValues(2, st.Groups)
	requireT.InDelta(48000, st.SampleRateNominal, 1e-9)

	v, err := ss.server.Version(ss.ctx)
	requireT.NoError(err)
	requireT.Equal("scsynth", v.Program)
	requireT.EqualValues(3, v.Major)
	requireT.Equal("scsynth 3.13.0", v.String())
}

func TestConcurrentStatusCallsBothSucceed(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)
	ss.engine.SetDelay(5*time.Millisecond, 10*time.Millisecond)

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ss.server.Status(ss.ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		requireT.NoError(err)
	}
}

func TestRoundTripTimesOutWithinWindow(t *testing.T) {
	requireT := require.New(t)

	const timeout = 150 * time.Millisecond
	ss := newSession(t, func(c *Config) { c.Timeout = timeout })
	ss.engine.SetSilent(true)

	begin := time.Now()
	_, err := ss.server.Status(ss.ctx)
	elapsed := time.Since(begin)

	requireT.ErrorIs(err, ErrConnectivity)
	requireT.GreaterOrEqual(elapsed, timeout)
	requireT.Less(elapsed, 5*timeout)

	// The listener is unaffected.
	ss.engine.SetSilent(false)
	requireT.NoError(ss.server.Sync(ss.ctx))
}

func TestAsyncQueries(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	st, err := ss.server.StatusAsync().Await(ss.ctx)
	requireT.NoError(err)
	requireT.EqualValues(2, st.Groups)

	type result struct {
		v   Version
		err error
	}
	done := make(chan result, 1)
	ss.server.VersionAsync().Then(func(v Version, err error) {
		done <- result{v, err}
	})
	got := <-done
	requireT.NoError(got.err)
	requireT.Equal("scsynth", got.v.Program)

	id, err := ss.server.SyncAsync().Await(ss.ctx)
	requireT.NoError(err)
	requireT.Positive(id)
}

func TestNotifyAndDumpOSC(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	requireT.NoError(ss.server.Notify(ss.ctx, true))
	requireT.True(ss.engine.Notified())
	requireT.NoError(ss.server.Notify(ss.ctx, false))
	requireT.False(ss.engine.Notified())

	ss.server.DumpOSC(DumpParsed)
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.EqualValues(DumpParsed, ss.engine.DumpMode())
}

func TestClearHandlersReleasesWaiters(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t, func(c *Config) { c.Timeout = time.Minute })
	ss.engine.SetSilent(true)

	f := ss.server.StatusAsync()
	calls := 0
	ss.server.Subscribe("/n_go", nil, func(router.Args) { calls++ })

	ss.server.ClearHandlers()

	_, err := f.Await(ss.ctx)
	requireT.ErrorIs(err, ErrClosed)
	requireT.Zero(calls)

	ss.engine.SetSilent(false)
	requireT.NoError(ss.server.Sync(ss.ctx))
}

func TestSubscriptionSeesMatchingReplies(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	sy, err := NewSynth(ss.server, "sine", Args{"freq": 300})
	requireT.NoError(err)

	values := make(chan float32, 4)
	sub := ss.server.Subscribe("/n_set", router.Key{sy.NodeID(), "freq"}, func(a router.Args) {
		v, err := a.Float32(2)
		requireT.NoError(err)
		values <- v
	})
	defer sub.Cancel()

	v, err := sy.Get(ss.ctx, "freq")
	requireT.NoError(err)
	requireT.InDelta(300, v, 1e-6)
	requireT.InDelta(300, <-values, 1e-6)
}

func TestCloseFailsPendingRoundTrips(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	e, err := engine.New()
	requireT.NoError(err)
	group.Spawn("engine", parallel.Fail, e.Run)

	config := DefaultConfig()
	config.Port = e.Addr().Port
	config.Timeout = time.Minute
	s, err := Dial(ctx, config)
	requireT.NoError(err)

	e.SetSilent(true)
	f := s.StatusAsync()
	requireT.NoError(s.Close())

	_, err = f.Await(ctx)
	requireT.ErrorIs(err, ErrClosed)

	_, err = s.Status(ctx)
	requireT.ErrorIs(err, ErrClosed)
}

func TestLostStreamFramingEndsSession(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	local, remote := net.Pipe()
	config := DefaultConfig()
	config.Timeout = time.Minute
	s := newServer(ctx, config, osc.NewStreamConn(local, osc.FramingLength))

	go func() {
		_, _ = io.Copy(io.Discard, remote)
	}()
	f := s.SyncAsync()
	_, err := remote.Write([]byte{0xff, 0xff, 0xff, 0xff})
	requireT.NoError(err)

	_, err = f.Await(ctx)
	requireT.ErrorIs(err, ErrClosed)
	requireT.ErrorIs(s.Close(), osc.ErrFraming)
}

func TestDecodeStatusRejectsShortReply(t *testing.T) {
	_, err := decodeStatus(router.Args{int32(1), int32(0)})
	require.ErrorIs(t, err, ErrDecode)

	_, err = decodeVersion(router.Args{"scsynth", "three"})
	require.ErrorIs(t, err, ErrDecode)
}
