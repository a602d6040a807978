package supercollider

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/router"
)

// Rate tells control buses from audio buses.
type Rate int

// Bus rates.
const (
	ControlRate Rate = iota
	AudioRate
)

func (r Rate) String() string {
	if r == AudioRate {
		return "audio"
	}
	return "control"
}

// Bus is a block of contiguous bus channels reserved in the session.
type Bus struct {
	server   *Server
	rate     Rate
	index    int32
	channels int32
}

// NewControlBus reserves channels control bus channels.
func NewControlBus(s *Server, channels int32) (*Bus, error) {
	return newBus(s, ControlRate, channels)
}

// NewAudioBus reserves channels audio bus channels.
func NewAudioBus(s *Server, channels int32) (*Bus, error) {
	return newBus(s, AudioRate, channels)
}

func newBus(s *Server, rate Rate, channels int32) (*Bus, error) {
	index, err := s.buses(rate).Allocate(channels)
	if err != nil {
		return nil, err
	}
	return &Bus{server: s, rate: rate, index: index, channels: channels}, nil
}

func (s *Server) buses(rate Rate) *alloc.Range {
	if rate == AudioRate {
		return s.audioBuses
	}
	return s.controlBuses
}

// Index returns the first channel.
func (b *Bus) Index() int32 {
	return b.index
}

// Channels returns the number of channels.
func (b *Bus) Channels() int32 {
	return b.channels
}

// Rate returns the bus rate.
func (b *Bus) Rate() Rate {
	return b.rate
}

// Free returns the channels to the session. Freeing twice is an error.
func (b *Bus) Free() error {
	return b.server.buses(b.rate).Free(b.index)
}

// Set writes one value per channel, starting at the first, of a control bus.
func (b *Bus) Set(values ...float32) error {
	if err := b.checkControl(len(values)); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	args := make([]any, 0, 2*len(values))
	for i, v := range values {
		args = append(args, b.index+int32(i), v)
	}
	b.server.send("/c_set", args...)
	return nil
}

// Get reads the value of every channel of a control bus.
func (b *Bus) Get(ctx context.Context) ([]float32, error) {
	if err := b.checkControl(0); err != nil {
		return nil, err
	}

	futures := lo.Times(int(b.channels), func(i int) *router.Future[float32] {
		return startAsync(b.server.router, b.getRequest(b.index+int32(i)))
	})
	out := make([]float32, 0, len(futures))
	for _, f := range futures {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *Bus) getRequest(channel int32) router.Request[float32] {
	return router.Request[float32]{
		Address: "/c_set",
		Key:     router.Key{channel},
		Send:    b.server.sender("/c_get", channel),
		Decode: func(a router.Args) (float32, error) {
			return a.Float32(1)
		},
	}
}

func (b *Bus) checkControl(values int) error {
	if b.rate != ControlRate {
		return errors.Errorf("bus %d is an %s bus, only control buses hold values", b.index, b.rate)
	}
	if int32(values) > b.channels {
		return errors.Errorf("%d values for a %d channel bus", values, b.channels)
	}
	return nil
}
