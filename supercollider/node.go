package supercollider

import (
	"context"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/router"
)

// AddAction places a new node relative to its target.
type AddAction int32

// Add actions.
const (
	AddToHead AddAction = iota
	AddToTail
	AddBefore
	AddAfter
	AddReplace
)

// NodeRef is anything that names a node on the engine.
type NodeRef interface {
	NodeID() alloc.ID
}

type nodeRef alloc.ID

func (n nodeRef) NodeID() alloc.ID {
	return alloc.ID(n)
}

// NodeByID refers to a node created elsewhere.
func NodeByID(id alloc.ID) NodeRef {
	return nodeRef(id)
}

type placement struct {
	target NodeRef
	action AddAction
}

// Option configures where a node is created.
type Option func(*placement)

// WithTarget sets the node the add action is relative to. It defaults to the
// root group.
func WithTarget(target NodeRef) Option {
	return func(p *placement) {
		p.target = target
	}
}

// WithAction sets the add action. It defaults to AddToHead.
func WithAction(action AddAction) Option {
	return func(p *placement) {
		p.action = action
	}
}

func newPlacement(opts []Option) placement {
	p := placement{target: nodeRef(0), action: AddToHead}
	for _, o := range opts {
		o(&p)
	}
	if p.target == nil {
		p.target = nodeRef(0)
	}
	return p
}

// node holds what synths and groups have in common.
type node struct {
	server *Server
	id     alloc.ID
}

// NodeID returns the node ID.
func (n *node) NodeID() alloc.ID {
	return n.id
}

// Free removes the node.
func (n *node) Free() {
	n.server.send("/n_free", n.id)
}

// Run pauses or resumes the node.
func (n *node) Run(on bool) {
	flag := int32(0)
	if on {
		flag = 1
	}
	n.server.send("/n_run", n.id, flag)
}

// Set sets a control of the node, or of every node in a group.
func (n *node) Set(param string, value any) error {
	v, err := coerce(value)
	if err != nil {
		return err
	}
	n.server.send("/n_set", n.id, param, v)
	return nil
}

// SetMany sets several controls with one message.
func (n *node) SetMany(args Args) error {
	flat, err := args.flatten()
	if err != nil {
		return err
	}
	if len(flat) == 0 {
		return nil
	}
	n.server.send("/n_set", append([]any{n.id}, flat...)...)
	return nil
}

// TreeNode is one node of a tree returned by QueryTree.
type TreeNode struct {
	ID alloc.ID
	// Group is true for groups, which have Children, and false for synths,
	// which have a SynthDef and, when requested, Controls.
	Group    bool
	Children []*TreeNode
	SynthDef string
	Controls map[string]any
}

// QueryTree returns the tree below group. Controls are included when
// withControls is set.
func (s *Server) QueryTree(ctx context.Context, group NodeRef, withControls bool) (*TreeNode, error) {
	return router.Call(ctx, s.router, s.queryTreeRequest(group, withControls))
}

// QueryTreeAsync is the non-blocking form of QueryTree.
func (s *Server) QueryTreeAsync(group NodeRef, withControls bool) *router.Future[*TreeNode] {
	return startAsync(s.router, s.queryTreeRequest(group, withControls))
}

func (s *Server) queryTreeRequest(group NodeRef, withControls bool) router.Request[*TreeNode] {
	if group == nil {
		group = nodeRef(0)
	}
	flag := int32(0)
	if withControls {
		flag = 1
	}
	return router.Request[*TreeNode]{
		Address: "/g_queryTree.reply",
		Key:     router.Key{flag, group.NodeID()},
		Send:    s.sender("/g_queryTree", group.NodeID(), flag),
		Decode:  decodeTree,
	}
}

// decodeTree parses flag, then nodes depth first: ID and child count for
// groups, ID, -1 and SynthDef name for synths, followed by the control count
// and name/value pairs when the flag is set.
func decodeTree(a router.Args) (*TreeNode, error) {
	flag, err := a.Int32(0)
	if err != nil {
		return nil, err
	}
	t := &treeDecoder{args: a, pos: 1, controls: flag != 0}
	return t.node()
}

type treeDecoder struct {
	args     router.Args
	pos      int
	controls bool
}

func (t *treeDecoder) int32() (int32, error) {
	v, err := t.args.Int32(t.pos)
	t.pos++
	return v, err
}

func (t *treeDecoder) node() (*TreeNode, error) {
	id, err := t.int32()
	if err != nil {
		return nil, err
	}
	children, err := t.int32()
	if err != nil {
		return nil, err
	}

	n := &TreeNode{ID: id}
	if children >= 0 {
		n.Group = true
		// Every child takes at least two arguments.
		if err := t.args.Require(t.pos + 2*int(children)); err != nil {
			return nil, err
		}
		for range children {
			c, err := t.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		}
		return n, nil
	}

	if n.SynthDef, err = t.args.String(t.pos); err != nil {
		return nil, err
	}
	t.pos++
	if !t.controls {
		return n, nil
	}

	count, err := t.int32()
	if err != nil {
		return nil, err
	}
	if err := t.args.Require(t.pos + 2*int(count)); err != nil {
		return nil, err
	}
	n.Controls = make(map[string]any, count)
	for range count {
		name, err := t.args.String(t.pos)
		if err != nil {
			return nil, err
		}
		// Values are floats, or bus mapping symbols such as "c1".
		n.Controls[name] = t.args[t.pos+1]
		t.pos += 2
	}
	return n, nil
}

// Walk calls fn for n and every node below it, parents first.
func (n *TreeNode) Walk(fn func(*TreeNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Contains reports whether a node with the given ID is in the tree.
func (n *TreeNode) Contains(id alloc.ID) bool {
	found := false
	n.Walk(func(x *TreeNode) {
		if x.ID == id {
			found = true
		}
	})
	return found
}
