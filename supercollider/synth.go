package supercollider

import (
	"context"

	"github.com/chabad360/go-supercollider/router"
)

// Synth is a running instance of a SynthDef.
type Synth struct {
	node
	def  string
	args Args
}

// NewSynth creates a synth of def with the given controls. By default it is
// added to the head of the root group.
func NewSynth(s *Server, def string, args Args, opts ...Option) (*Synth, error) {
	flat, err := args.flatten()
	if err != nil {
		return nil, err
	}
	p := newPlacement(opts)

	sy := &Synth{node: node{server: s, id: s.nodeIDs.Next()}, def: def, args: args}
	s.send("/s_new", append([]any{def, sy.id, int32(p.action), p.target.NodeID()}, flat...)...)
	return sy, nil
}

// Def returns the SynthDef name.
func (sy *Synth) Def() string {
	return sy.def
}

// Args returns the controls the synth was created with.
func (sy *Synth) Args() Args {
	return sy.args
}

// Get queries the current value of a control.
func (sy *Synth) Get(ctx context.Context, param string) (float32, error) {
	return router.Call(ctx, sy.server.router, sy.getRequest(param))
}

// GetAsync is the non-blocking form of Get.
func (sy *Synth) GetAsync(param string) *router.Future[float32] {
	return startAsync(sy.server.router, sy.getRequest(param))
}

func (sy *Synth) getRequest(param string) router.Request[float32] {
	return router.Request[float32]{
		Address: "/n_set",
		Key:     router.Key{sy.id, param},
		Send:    sy.server.sender("/s_get", sy.id, param),
		Decode: func(a router.Args) (float32, error) {
			return a.Float32(2)
		},
	}
}
