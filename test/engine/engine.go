// Package engine runs a fake synthesis engine in process. It speaks enough
// of the scsynth command set over UDP to exercise a client end to end: it
// keeps a node tree, buffers and control buses, and answers queries the way
// scsynth does. Replies can be suppressed, delayed or shuffled.
package engine

import (
	"context"
	"math/rand/v2"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/chabad360/go-supercollider/osc"
	"github.com/chabad360/go-supercollider/router"
)

const (
	rootGroup    int32 = 0
	defaultGroup int32 = 1
	sampleRate         = 48000
)

type node struct {
	id       int32
	group    bool
	def      string
	parent   int32
	children []int32
	controls map[string]any
	running  bool
}

type buffer struct {
	frames     int32
	channels   int32
	sampleRate float32
	data       []float32
}

// Engine is the fake engine.
type Engine struct {
	server *osc.Server

	behaviourMu sync.Mutex
	silent      bool
	delay       time.Duration
	jitter      time.Duration

	mu       sync.Mutex
	defs     map[string]map[string]float32
	nodes    map[int32]*node
	buffers  map[int32]*buffer
	buses    map[int32]float32
	received []*osc.Message
	notified bool
	dumpMode int32
}

// New returns an engine listening on a free loopback port. Call Run to serve.
func New() (*Engine, error) {
	e := &Engine{
		defs: map[string]map[string]float32{
			"default": {"freq": 440, "amp": 0.1, "pan": 0, "out": 0, "gate": 1},
			"sine":    {"freq": 440, "amp": 0.1, "pan": 0, "out": 0},
		},
		nodes: map[int32]*node{
			rootGroup:    {id: rootGroup, group: true, parent: -1, children: []int32{defaultGroup}, running: true},
			defaultGroup: {id: defaultGroup, group: true, parent: rootGroup, running: true},
		},
		buffers: map[int32]*buffer{},
		buses:   map[int32]float32{},
	}

	d := &osc.Dispatcher{}
	for address, h := range map[string]handler{
		"/sync":        e.sync,
		"/status":      e.status,
		"/version":     e.version,
		"/notify":      e.notify,
		"/dumpOSC":     e.dumpOSC,
		"/s_new":       e.synthNew,
		"/s_get":       e.synthGet,
		"/g_new":       e.groupNew,
		"/g_freeAll":   e.groupFreeAll,
		"/g_deepFree":  e.groupDeepFree,
		"/g_queryTree": e.groupQueryTree,
		"/n_set":       e.nodeSet,
		"/n_free":      e.nodeFree,
		"/n_run":       e.nodeRun,
		"/b_alloc":     e.bufferAlloc,
		"/b_allocRead": e.bufferAllocRead,
		"/b_free":      e.bufferFree,
		"/b_setn":      e.bufferSetn,
		"/b_getn":      e.bufferGetn,
		"/b_fill":      e.bufferFill,
		"/b_zero":      e.bufferZero,
		"/b_query":     e.bufferQuery,
		"/b_write":     e.bufferWrite,
		"/c_set":       e.busSet,
		"/c_get":       e.busGet,
	} {
		if err := d.AddMethod(address, e.method(h)); err != nil {
			return nil, err
		}
	}

	e.server = &osc.Server{Addr: "127.0.0.1:0", Dispatcher: d}
	if err := e.server.Listen(); err != nil {
		return nil, err
	}
	return e, nil
}

// Run serves commands until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.server.Serve(ctx)
}

// Close stops listening. Run closes the socket by itself.
func (e *Engine) Close() error {
	return e.server.Close()
}

// Addr returns the address the engine listens on.
func (e *Engine) Addr() *net.UDPAddr {
	return e.server.LocalAddr().(*net.UDPAddr)
}

// SetSilent stops or resumes all replies. Commands are still executed.
func (e *Engine) SetSilent(silent bool) {
	e.behaviourMu.Lock()
	defer e.behaviourMu.Unlock()

	e.silent = silent
}

// SetDelay delays every reply by delay plus a random share of jitter. A
// jitter larger than the gap between two commands reorders their replies.
func (e *Engine) SetDelay(delay, jitter time.Duration) {
	e.behaviourMu.Lock()
	defer e.behaviourMu.Unlock()

	e.delay = delay
	e.jitter = jitter
}

// AddSynthDef registers a SynthDef with its control defaults.
func (e *Engine) AddSynthDef(name string, controls map[string]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.defs[name] = controls
}

// Received returns every command received so far, in order.
func (e *Engine) Received() []*osc.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*osc.Message(nil), e.received...)
}

// HasNode reports whether the node exists.
func (e *Engine) HasNode(id int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.nodes[id]
	return ok
}

// Running reports whether the node exists and is not paused.
func (e *Engine) Running(id int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[id]
	return ok && n.running
}

// Control returns the value of a synth control.
func (e *Engine) Control(id int32, name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[id]
	if !ok || n.group {
		return nil, false
	}
	v, ok := n.controls[name]
	return v, ok
}

// DumpMode returns the mode last set with /dumpOSC.
func (e *Engine) DumpMode() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.dumpMode
}

// HasBuffer reports whether the buffer is allocated.
func (e *Engine) HasBuffer(id int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.buffers[id]
	return ok
}

// Notified reports whether a client asked for notifications.
func (e *Engine) Notified() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.notified
}

type handler func(a router.Args, r *replier) error

// replier sends replies of one command back to its sender.
type replier struct {
	cmd  string
	msgs []*osc.Message
}

func (r *replier) send(address string, args ...any) {
	r.msgs = append(r.msgs, osc.NewMessage(address, args...))
}

func (r *replier) done(args ...any) {
	r.send("/done", append([]any{r.cmd}, args...)...)
}

func (e *Engine) method(h handler) osc.MethodFunc {
	return func(msg *osc.Message, from net.Addr) {
		r := &replier{cmd: msg.Address}

		e.mu.Lock()
		e.received = append(e.received, msg)
		err := h(router.Args(msg.Arguments), r)
		e.mu.Unlock()

		if err != nil {
			// scsynth sends /fail without the rest of the replies. Buffer
			// commands name the buffer too.
			fail := osc.NewMessage(router.FailAddress, msg.Address, err.Error())
			if id, ok := firstInt(msg); ok && strings.HasPrefix(msg.Address, "/b_") {
				fail.Arguments = append(fail.Arguments, id)
			}
			r.msgs = []*osc.Message{fail}
		}
		for _, m := range r.msgs {
			e.reply(m, from)
		}
	}
}

func firstInt(msg *osc.Message) (int32, bool) {
	if len(msg.Arguments) == 0 {
		return 0, false
	}
	id, ok := msg.Arguments[0].(int32)
	return id, ok
}

func (e *Engine) reply(msg *osc.Message, to net.Addr) {
	e.behaviourMu.Lock()
	silent, delay, jitter := e.silent, e.delay, e.jitter
	e.behaviourMu.Unlock()

	if silent {
		return
	}
	if jitter > 0 {
		delay += rand.N(jitter)
	}
	if delay <= 0 {
		_, _ = e.server.WriteTo(msg, to)
		return
	}
	time.AfterFunc(delay, func() {
		_, _ = e.server.WriteTo(msg, to)
	})
}

func (e *Engine) sync(a router.Args, r *replier) error {
	id, err := a.Int32(0)
	if err != nil {
		return err
	}
	r.send("/synced", id)
	return nil
}

func (e *Engine) status(_ router.Args, r *replier) error {
	var synths, groups int32
	for _, n := range e.nodes {
		if n.group {
			groups++
		} else {
			synths++
		}
	}
	r.send("/status.reply", int32(1), synths*4, synths, groups, int32(len(e.defs)),
		float32(1.5), float32(3.25), float64(sampleRate), float64(sampleRate)+0.02)
	return nil
}

func (e *Engine) version(_ router.Args, r *replier) error {
	r.send("/version.reply", "scsynth", int32(3), int32(13), ".0", "HEAD", "3188503")
	return nil
}

func (e *Engine) notify(a router.Args, r *replier) error {
	flag, err := a.Int32(0)
	if err != nil {
		return err
	}
	e.notified = flag != 0
	r.done(int32(0))
	return nil
}

func (e *Engine) dumpOSC(a router.Args, _ *replier) error {
	mode, err := a.Int32(0)
	if err != nil {
		return err
	}
	e.dumpMode = mode
	return nil
}

// place inserts n into the tree relative to target.
func (e *Engine) place(n *node, action, target int32) error {
	t, ok := e.nodes[target]
	if !ok {
		return errors.Errorf("target node %d not found", target)
	}

	switch action {
	case 0, 1:
		if !t.group {
			return errors.Errorf("target %d is not a group", target)
		}
		n.parent = target
		if action == 0 {
			t.children = append([]int32{n.id}, t.children...)
		} else {
			t.children = append(t.children, n.id)
		}
	case 2, 3, 4:
		if target == rootGroup {
			return errors.New("the root group has no siblings")
		}
		p := e.nodes[t.parent]
		i := indexOf(p.children, target)
		if action == 3 {
			i++
		}
		n.parent = p.id
		p.children = append(p.children[:i], append([]int32{n.id}, p.children[i:]...)...)
		if action == 4 {
			e.remove(target)
		}
	default:
		return errors.Errorf("invalid add action %d", action)
	}

	e.nodes[n.id] = n
	return nil
}

// remove deletes a node and everything below it.
func (e *Engine) remove(id int32) {
	n, ok := e.nodes[id]
	if !ok {
		return
	}
	for _, c := range append([]int32(nil), n.children...) {
		e.remove(c)
	}
	if p, ok := e.nodes[n.parent]; ok {
		if i := indexOf(p.children, id); i >= 0 {
			p.children = append(p.children[:i], p.children[i+1:]...)
		}
	}
	delete(e.nodes, id)
}

func indexOf(ids []int32, id int32) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func newNodeArgs(a router.Args, from int) (id, action, target int32, err error) {
	if id, err = a.Int32(from); err != nil {
		return
	}
	if action, err = a.Int32(from + 1); err != nil {
		return
	}
	target, err = a.Int32(from + 2)
	return
}

func (e *Engine) synthNew(a router.Args, _ *replier) error {
	def, err := a.String(0)
	if err != nil {
		return err
	}
	id, action, target, err := newNodeArgs(a, 1)
	if err != nil {
		return err
	}
	defaults, ok := e.defs[def]
	if !ok {
		return errors.Errorf("SynthDef %s not found", def)
	}
	if _, exists := e.nodes[id]; exists {
		return errors.Errorf("duplicate node ID %d", id)
	}

	n := &node{id: id, def: def, controls: map[string]any{}, running: true}
	for k, v := range defaults {
		n.controls[k] = v
	}
	if err := setControls(n, a[4:]); err != nil {
		return err
	}
	return e.place(n, action, target)
}

func setControls(n *node, pairs router.Args) error {
	if pairs.Len()%2 != 0 {
		return errors.New("odd number of control arguments")
	}
	for i := 0; i < pairs.Len(); i += 2 {
		name, err := pairs.String(i)
		if err != nil {
			return err
		}
		switch v := pairs[i+1].(type) {
		case int32:
			n.controls[name] = float32(v)
		case float32:
			n.controls[name] = v
		case string:
			// Bus mapping such as "c3".
			n.controls[name] = v
		default:
			return errors.Errorf("invalid value for control %s: %T", name, v)
		}
	}
	return nil
}

func (e *Engine) synthGet(a router.Args, r *replier) error {
	id, err := a.Int32(0)
	if err != nil {
		return err
	}
	n, ok := e.nodes[id]
	if !ok || n.group {
		return errors.Errorf("synth %d not found", id)
	}

	reply := []any{id}
	for i := 1; i < a.Len(); i++ {
		name, err := a.String(i)
		if err != nil {
			return err
		}
		v, ok := n.controls[name]
		if !ok {
			return errors.Errorf("control %s not found", name)
		}
		reply = append(reply, name, v)
	}
	r.send("/n_set", reply...)
	return nil
}

func (e *Engine) groupNew(a router.Args, _ *replier) error {
	id, action, target, err := newNodeArgs(a, 0)
	if err != nil {
		return err
	}
	if _, exists := e.nodes[id]; exists {
		return errors.Errorf("duplicate node ID %d", id)
	}
	return e.place(&node{id: id, group: true, running: true}, action, target)
}

func (e *Engine) group(a router.Args) (*node, error) {
	id, err := a.Int32(0)
	if err != nil {
		return nil, err
	}
	n, ok := e.nodes[id]
	if !ok || !n.group {
		return nil, errors.Errorf("group %d not found", id)
	}
	return n, nil
}

func (e *Engine) groupFreeAll(a router.Args, _ *replier) error {
	g, err := e.group(a)
	if err != nil {
		return err
	}
	for _, c := range append([]int32(nil), g.children...) {
		e.remove(c)
	}
	return nil
}

func (e *Engine) groupDeepFree(a router.Args, _ *replier) error {
	g, err := e.group(a)
	if err != nil {
		return err
	}
	e.deepFree(g)
	return nil
}

func (e *Engine) deepFree(g *node) {
	for _, c := range append([]int32(nil), g.children...) {
		if n := e.nodes[c]; n.group {
			e.deepFree(n)
		} else {
			e.remove(c)
		}
	}
}

func (e *Engine) groupQueryTree(a router.Args, r *replier) error {
	g, err := e.group(a)
	if err != nil {
		return err
	}
	flag, err := a.Int32(1)
	if err != nil {
		return err
	}

	reply := []any{flag}
	e.appendTree(&reply, g, flag != 0)
	r.send("/g_queryTree.reply", reply...)
	return nil
}

func (e *Engine) appendTree(out *[]any, n *node, controls bool) {
	if n.group {
		*out = append(*out, n.id, int32(len(n.children)))
		for _, c := range n.children {
			e.appendTree(out, e.nodes[c], controls)
		}
		return
	}

	*out = append(*out, n.id, int32(-1), n.def)
	if !controls {
		return
	}
	names := make([]string, 0, len(n.controls))
	for name := range n.controls {
		names = append(names, name)
	}
	sort.Strings(names)
	*out = append(*out, int32(len(names)))
	for _, name := range names {
		*out = append(*out, name, n.controls[name])
	}
}

func (e *Engine) nodeSet(a router.Args, _ *replier) error {
	id, err := a.Int32(0)
	if err != nil {
		return err
	}
	n, ok := e.nodes[id]
	if !ok {
		return errors.Errorf("node %d not found", id)
	}
	return e.setBelow(n, a[1:])
}

func (e *Engine) setBelow(n *node, pairs router.Args) error {
	if !n.group {
		return setControls(n, pairs)
	}
	for _, c := range n.children {
		if err := e.setBelow(e.nodes[c], pairs); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) nodeFree(a router.Args, _ *replier) error {
	for i := range a.Len() {
		id, err := a.Int32(i)
		if err != nil {
			return err
		}
		if id == rootGroup {
			return errors.New("the root group cannot be freed")
		}
		if _, ok := e.nodes[id]; !ok {
			return errors.Errorf("node %d not found", id)
		}
		e.remove(id)
	}
	return nil
}

func (e *Engine) nodeRun(a router.Args, _ *replier) error {
	for i := 0; i+1 < a.Len(); i += 2 {
		id, err := a.Int32(i)
		if err != nil {
			return err
		}
		flag, err := a.Int32(i + 1)
		if err != nil {
			return err
		}
		n, ok := e.nodes[id]
		if !ok {
			return errors.Errorf("node %d not found", id)
		}
		n.running = flag != 0
	}
	return nil
}
