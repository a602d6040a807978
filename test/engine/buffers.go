package engine

import (
	"github.com/pkg/errors"

	"github.com/chabad360/go-supercollider/router"
	"github.com/chabad360/go-supercollider/soundfile"
)

var sampleDepths = map[string]int{
	"int16": 16,
	"int24": 24,
	"int32": 32,
}

func (e *Engine) buffer(a router.Args) (int32, *buffer, error) {
	id, err := a.Int32(0)
	if err != nil {
		return 0, nil, err
	}
	b, ok := e.buffers[id]
	if !ok {
		return id, nil, errors.Errorf("buffer %d not allocated", id)
	}
	return id, b, nil
}

// span validates count samples from start and returns the end index.
func (b *buffer) span(start, count int32) (int32, error) {
	if start < 0 || count < 0 || int(start+count) > len(b.data) {
		return 0, errors.Errorf("index out of range: %d+%d of %d samples", start, count, len(b.data))
	}
	return start + count, nil
}

func (e *Engine) bufferAlloc(a router.Args, r *replier) error {
	id, err := a.Int32(0)
	if err != nil {
		return err
	}
	frames, err := a.Int32(1)
	if err != nil {
		return err
	}
	channels := int32(1)
	if a.Len() > 2 {
		if channels, err = a.Int32(2); err != nil {
			return err
		}
	}
	if frames <= 0 || channels <= 0 {
		return errors.Errorf("invalid shape %d x %d", frames, channels)
	}

	e.buffers[id] = &buffer{
		frames:     frames,
		channels:   channels,
		sampleRate: sampleRate,
		data:       make([]float32, frames*channels),
	}
	r.done(id)
	return nil
}

func (e *Engine) bufferAllocRead(a router.Args, r *replier) error {
	id, err := a.Int32(0)
	if err != nil {
		return err
	}
	path, err := a.String(1)
	if err != nil {
		return err
	}
	var start, frames int32
	if a.Len() > 2 {
		if start, err = a.Int32(2); err != nil {
			return err
		}
	}
	if a.Len() > 3 {
		if frames, err = a.Int32(3); err != nil {
			return err
		}
	}

	info, samples, err := soundfile.Read(path)
	if err != nil {
		return errors.Wrapf(err, "File '%s' could not be opened", path)
	}
	if start < 0 || int(start) > info.Frames {
		return errors.Errorf("start frame %d beyond %d frames", start, info.Frames)
	}
	if frames <= 0 || int(start+frames) > info.Frames {
		frames = int32(info.Frames) - start
	}

	ch := int32(info.Channels)
	e.buffers[id] = &buffer{
		frames:     frames,
		channels:   ch,
		sampleRate: float32(info.SampleRate),
		data:       append([]float32(nil), samples[start*ch:(start+frames)*ch]...),
	}
	r.done(id)
	return nil
}

func (e *Engine) bufferFree(a router.Args, r *replier) error {
	id, _, err := e.buffer(a)
	if err != nil {
		return err
	}
	delete(e.buffers, id)
	r.done(id)
	return nil
}

func (e *Engine) bufferSetn(a router.Args, _ *replier) error {
	_, b, err := e.buffer(a)
	if err != nil {
		return err
	}
	// Runs of start, count, values.
	for i := 1; i < a.Len(); {
		start, err := a.Int32(i)
		if err != nil {
			return err
		}
		count, err := a.Int32(i + 1)
		if err != nil {
			return err
		}
		if _, err := b.span(start, count); err != nil {
			return err
		}
		values, err := a.Float32s(i+2, int(count))
		if err != nil {
			return err
		}
		copy(b.data[start:], values)
		i += 2 + int(count)
	}
	return nil
}

func (e *Engine) bufferGetn(a router.Args, r *replier) error {
	id, b, err := e.buffer(a)
	if err != nil {
		return err
	}

	reply := []any{id}
	for i := 1; i+1 < a.Len(); i += 2 {
		start, err := a.Int32(i)
		if err != nil {
			return err
		}
		count, err := a.Int32(i + 1)
		if err != nil {
			return err
		}
		end, err := b.span(start, count)
		if err != nil {
			return err
		}
		reply = append(reply, start, count)
		for _, v := range b.data[start:end] {
			reply = append(reply, v)
		}
	}
	r.send("/b_setn", reply...)
	return nil
}

func (e *Engine) bufferFill(a router.Args, _ *replier) error {
	_, b, err := e.buffer(a)
	if err != nil {
		return err
	}
	for i := 1; i+2 < a.Len(); i += 3 {
		start, err := a.Int32(i)
		if err != nil {
			return err
		}
		count, err := a.Int32(i + 1)
		if err != nil {
			return err
		}
		value, err := a.Float32(i + 2)
		if err != nil {
			return err
		}
		end, err := b.span(start, count)
		if err != nil {
			return err
		}
		for j := start; j < end; j++ {
			b.data[j] = value
		}
	}
	return nil
}

func (e *Engine) bufferZero(a router.Args, r *replier) error {
	id, b, err := e.buffer(a)
	if err != nil {
		return err
	}
	clear(b.data)
	r.done(id)
	return nil
}

func (e *Engine) bufferQuery(a router.Args, r *replier) error {
	for i := range a.Len() {
		id, err := a.Int32(i)
		if err != nil {
			return err
		}
		// Unknown buffers are reported empty.
		b, ok := e.buffers[id]
		if !ok {
			r.send("/b_info", id, int32(0), int32(0), float32(0))
			continue
		}
		r.send("/b_info", id, b.frames, b.channels, b.sampleRate)
	}
	return nil
}

func (e *Engine) bufferWrite(a router.Args, r *replier) error {
	id, b, err := e.buffer(a)
	if err != nil {
		return err
	}
	if err := a.Require(5); err != nil {
		return err
	}
	path, _ := a.String(1)
	header, err := a.String(2)
	if err != nil {
		return err
	}
	sample, err := a.String(3)
	if err != nil {
		return err
	}
	frames := int32(-1)
	if a.Len() > 4 {
		if frames, err = a.Int32(4); err != nil {
			return err
		}
	}
	var start int32
	if a.Len() > 5 {
		if start, err = a.Int32(5); err != nil {
			return err
		}
	}

	depth, ok := sampleDepths[sample]
	if header != "wav" || !ok {
		return errors.Errorf("unsupported format %s/%s", header, sample)
	}
	if start < 0 || start > b.frames {
		return errors.Errorf("start frame %d beyond %d frames", start, b.frames)
	}
	if frames < 0 || start+frames > b.frames {
		frames = b.frames - start
	}

	data := b.data[start*b.channels : (start+frames)*b.channels]
	if err := soundfile.Write(path, int(b.sampleRate), int(b.channels), depth, data); err != nil {
		return err
	}
	r.done(id)
	return nil
}

func (e *Engine) busSet(a router.Args, _ *replier) error {
	for i := 0; i+1 < a.Len(); i += 2 {
		index, err := a.Int32(i)
		if err != nil {
			return err
		}
		value, err := a.Float32(i + 1)
		if err != nil {
			return err
		}
		e.buses[index] = value
	}
	return nil
}

func (e *Engine) busGet(a router.Args, r *replier) error {
	reply := make([]any, 0, 2*a.Len())
	for i := range a.Len() {
		index, err := a.Int32(i)
		if err != nil {
			return err
		}
		reply = append(reply, index, e.buses[index])
	}
	r.send("/c_set", reply...)
	return nil
}
