package supercollider

import (
	"context"
)

// Group is a node that holds other nodes.
type Group struct {
	node
}

// NewGroup creates an empty group. By default it is added to the head of the
// root group.
func NewGroup(s *Server, opts ...Option) *Group {
	p := newPlacement(opts)

	g := &Group{node: node{server: s, id: s.nodeIDs.Next()}}
	s.send("/g_new", g.id, int32(p.action), p.target.NodeID())
	return g
}

// FreeAll frees the nodes directly in the group. The group stays.
func (g *Group) FreeAll() {
	g.server.send("/g_freeAll", g.id)
}

// DeepFree frees every synth below the group. Groups stay.
func (g *Group) DeepFree() {
	g.server.send("/g_deepFree", g.id)
}

// Free frees everything below the group, then the group itself.
func (g *Group) Free() {
	g.server.send("/g_deepFree", g.id)
	g.server.send("/n_free", g.id)
}

// QueryTree returns the tree below the group.
func (g *Group) QueryTree(ctx context.Context, withControls bool) (*TreeNode, error) {
	return g.server.QueryTree(ctx, g, withControls)
}
