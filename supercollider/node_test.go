package supercollider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/router"
)

func TestNodeIDsAreStrictlyIncreasing(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	var prev alloc.ID = -1
	for i := range 20 {
		var id alloc.ID
		if i%2 == 0 {
			sy, err := NewSynth(ss.server, "sine", nil)
			requireT.NoError(err)
			id = sy.NodeID()
		} else {
			id = NewGroup(ss.server).NodeID()
		}
		requireT.Greater(id, prev)
		prev = id
	}
	requireT.NoError(ss.server.Sync(ss.ctx))

	for id := ss.server.config.NodeIDStart; id <= prev; id++ {
		requireT.True(ss.engine.HasNode(id), "node %d", id)
	}
}

func TestSynthCreationMessage(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	buf, err := AllocBuffer(ss.ctx, ss.server, 16, 1)
	requireT.NoError(err)
	bus, err := NewControlBus(ss.server, 1)
	requireT.NoError(err)
	g := NewGroup(ss.server)

	sy, err := NewSynth(ss.server, "sine", Args{
		"freq": 440,
		"amp":  0.5,
		"buf":  buf,
		"out":  bus,
	}, WithTarget(g), WithAction(AddToTail))
	requireT.NoError(err)
	requireT.Equal("sine", sy.Def())
	requireT.NoError(ss.server.Sync(ss.ctx))

	msg := ss.lastSent("/s_new")
	requireT.NotNil(msg)
	requireT.Equal([]any{
		"sine", sy.NodeID(), int32(AddToTail), g.NodeID(),
		"amp", float32(0.5),
		"buf", buf.ID(),
		"freq", int32(440),
		"out", bus.Index(),
	}, msg.Arguments)

	v, ok := ss.engine.Control(sy.NodeID(), "out")
	requireT.True(ok)
	requireT.Equal(float32(bus.Index()), v)
}

func TestSynthRejectsUnsupportedControls(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	next := ss.server.nodeIDs.Peek()
	_, err := NewSynth(ss.server, "sine", Args{"freq": []int{1}})
	requireT.Error(err)
	requireT.Equal(next, ss.server.nodeIDs.Peek())

	_, err = NewSynth(ss.server, "sine", Args{"freq": int64(1) << 40})
	requireT.Error(err)
}

func TestSynthSetAndGet(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	sy, err := NewSynth(ss.server, "sine", Args{"freq": 220})
	requireT.NoError(err)

	v, err := sy.Get(ss.ctx, "freq")
	requireT.NoError(err)
	requireT.InDelta(220, v, 1e-6)

	requireT.NoError(sy.Set("freq", 880.0))
	v, err = sy.Get(ss.ctx, "freq")
	requireT.NoError(err)
	requireT.InDelta(880, v, 1e-6)

	requireT.NoError(sy.SetMany(Args{"freq": 110, "amp": 0.25}))
	v, err = sy.Get(ss.ctx, "amp")
	requireT.NoError(err)
	requireT.InDelta(0.25, v, 1e-6)

	for _, want := range []float64{-440.5, -0.001, 0.125, 12345.75} {
		requireT.NoError(sy.Set("freq", want))
		v, err = sy.Get(ss.ctx, "freq")
		requireT.NoError(err)
		requireT.InDelta(want, v, 1e-3)
	}

	requireT.NoError(sy.Set("out", -3))
	v, err = sy.Get(ss.ctx, "out")
	requireT.NoError(err)
	requireT.Equal(float32(-3), v)

	requireT.Error(sy.Set("freq", struct{}{}))
}

func TestConcurrentAsyncGetsAreNotCrossed(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	a, err := NewSynth(ss.server, "sine", Args{"freq": 100})
	requireT.NoError(err)
	b, err := NewSynth(ss.server, "sine", Args{"amp": 0.75})
	requireT.NoError(err)
	requireT.NoError(ss.server.Sync(ss.ctx))

	// Replies come back in random order.
	ss.engine.SetDelay(0, 30*time.Millisecond)

	type result struct {
		v   float32
		err error
	}
	for range 5 {
		aCh := make(chan result, 2)
		bCh := make(chan result, 2)
		a.GetAsync("freq").Then(func(v float32, err error) { aCh <- result{v, err} })
		b.GetAsync("amp").Then(func(v float32, err error) { bCh <- result{v, err} })

		got := <-aCh
		requireT.NoError(got.err)
		requireT.InDelta(100, got.v, 1e-6)
		got = <-bCh
		requireT.NoError(got.err)
		requireT.InDelta(0.75, got.v, 1e-6)
	}
}

func TestSynthFreeAndRun(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	sy, err := NewSynth(ss.server, "sine", nil)
	requireT.NoError(err)

	sy.Run(false)
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.True(ss.engine.HasNode(sy.NodeID()))
	requireT.False(ss.engine.Running(sy.NodeID()))

	sy.Run(true)
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.True(ss.engine.Running(sy.NodeID()))

	sy.Free()
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.False(ss.engine.HasNode(sy.NodeID()))

	// The engine answers a get on a freed node with /fail, so the get
	// times out.
	_, err = router.Call(ss.ctx, ss.server.router, func() router.Request[float32] {
		req := sy.getRequest("freq")
		req.Timeout = 50 * time.Millisecond
		return req
	}())
	requireT.ErrorIs(err, ErrConnectivity)
}

func TestGroupFreeRemovesGroupAndChildren(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	g := NewGroup(ss.server)
	inner := NewGroup(ss.server, WithTarget(g))

	var synths []*Synth
	for i := range 4 {
		target := NodeRef(g)
		if i%2 == 1 {
			target = inner
		}
		sy, err := NewSynth(ss.server, "sine", nil, WithTarget(target), WithAction(AddToTail))
		requireT.NoError(err)
		synths = append(synths, sy)
	}
	requireT.NoError(ss.server.Sync(ss.ctx))

	before := len(ss.engine.Received())
	g.Free()
	requireT.NoError(ss.server.Sync(ss.ctx))

	requireT.Equal([]string{"/g_deepFree", "/n_free", "/sync"}, ss.addresses()[before:])
	for _, sy := range synths {
		requireT.False(ss.engine.HasNode(sy.NodeID()))
	}
	requireT.False(ss.engine.HasNode(inner.NodeID()))
	requireT.False(ss.engine.HasNode(g.NodeID()))
}

func TestGroupFreeAllAndDeepFree(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	g := NewGroup(ss.server)
	inner := NewGroup(ss.server, WithTarget(g))
	a, err := NewSynth(ss.server, "sine", nil, WithTarget(g))
	requireT.NoError(err)
	b, err := NewSynth(ss.server, "sine", nil, WithTarget(inner))
	requireT.NoError(err)

	g.DeepFree()
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.True(ss.engine.HasNode(g.NodeID()))
	requireT.True(ss.engine.HasNode(inner.NodeID()))
	requireT.False(ss.engine.HasNode(a.NodeID()))
	requireT.False(ss.engine.HasNode(b.NodeID()))

	g.FreeAll()
	requireT.NoError(ss.server.Sync(ss.ctx))
	requireT.True(ss.engine.HasNode(g.NodeID()))
	requireT.False(ss.engine.HasNode(inner.NodeID()))
}

func TestGroupSetReachesEverySynth(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	g := NewGroup(ss.server)
	a, err := NewSynth(ss.server, "sine", nil, WithTarget(g))
	requireT.NoError(err)
	b, err := NewSynth(ss.server, "sine", nil, WithTarget(g))
	requireT.NoError(err)

	requireT.NoError(g.Set("amp", float32(0.3)))
	for _, sy := range []*Synth{a, b} {
		v, err := sy.Get(ss.ctx, "amp")
		requireT.NoError(err)
		requireT.InDelta(0.3, v, 1e-6)
	}
}

func TestQueryTree(t *testing.T) {
	requireT := require.New(t)
	ss := newSession(t)

	requireT.EqualValues(0, ss.server.RootGroup().NodeID())
	requireT.EqualValues(1, ss.server.DefaultGroup().NodeID())

	g := NewGroup(ss.server, WithTarget(ss.server.DefaultGroup()))
	sy, err := NewSynth(ss.server, "sine", Args{"freq": 330}, WithTarget(g))
	requireT.NoError(err)
	inner := NewGroup(ss.server, WithTarget(g), WithAction(AddToTail))

	tree, err := g.QueryTree(ss.ctx, true)
	requireT.NoError(err)
	requireT.Equal(g.NodeID(), tree.ID)
	requireT.True(tree.Group)
	requireT.Len(tree.Children, 2)

	synth := tree.Children[0]
	requireT.Equal(sy.NodeID(), synth.ID)
	requireT.False(synth.Group)
	requireT.Equal("sine", synth.SynthDef)
	requireT.Equal(float32(330), synth.Controls["freq"])

	requireT.Equal(inner.NodeID(), tree.Children[1].ID)
	requireT.True(tree.Children[1].Group)
	requireT.Empty(tree.Children[1].Children)

	root, err := ss.server.QueryTree(ss.ctx, ss.server.RootGroup(), false)
	requireT.NoError(err)
	requireT.True(root.Contains(sy.NodeID()))
	requireT.True(root.Contains(1))
	requireT.Nil(root.Children[0].Children[0].Children[0].Controls)

	async, err := ss.server.QueryTreeAsync(nil, false).Await(ss.ctx)
	requireT.NoError(err)
	requireT.Equal(root, async)
}

func TestDecodeTreeRejectsTruncatedReply(t *testing.T) {
	requireT := require.New(t)

	_, err := decodeTree(router.Args{int32(0), int32(1000), int32(3), int32(1001), int32(-1)})
	requireT.ErrorIs(err, ErrDecode)

	_, err = decodeTree(router.Args{int32(1), int32(1001), int32(-1), "sine", int32(2), "freq", float32(1)})
	requireT.ErrorIs(err, ErrDecode)

	tree, err := decodeTree(router.Args{int32(1), int32(7), int32(-1), "sine", int32(1), "out", "c3"})
	requireT.NoError(err)
	requireT.Equal(&TreeNode{ID: 7, SynthDef: "sine", Controls: map[string]any{"out": "c3"}}, tree)
}
