package supercollider

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/router"
)

// maxSamplesPerMessage keeps /b_setn and /b_getn replies well inside one
// datagram.
const maxSamplesPerMessage = 1024

// HeaderFormat is a sound file container.
type HeaderFormat string

// Header formats.
const (
	HeaderWAV   HeaderFormat = "wav"
	HeaderAIFF  HeaderFormat = "aiff"
	HeaderNeXT  HeaderFormat = "next"
	HeaderIRCAM HeaderFormat = "ircam"
	HeaderRaw   HeaderFormat = "raw"
)

// SampleFormat is a sound file sample encoding.
type SampleFormat string

// Sample formats.
const (
	SampleInt8   SampleFormat = "int8"
	SampleInt16  SampleFormat = "int16"
	SampleInt24  SampleFormat = "int24"
	SampleInt32  SampleFormat = "int32"
	SampleFloat  SampleFormat = "float"
	SampleDouble SampleFormat = "double"
	SampleMulaw  SampleFormat = "mulaw"
	SampleAlaw   SampleFormat = "alaw"
)

// BufferInfo is the shape of a buffer as reported by /b_query.
type BufferInfo struct {
	Frames     int32
	Channels   int32
	SampleRate float32
}

// Buffer is a block of sample memory on the engine.
type Buffer struct {
	server *Server
	id     alloc.ID
	info   BufferInfo
}

// AllocBuffer allocates an empty buffer and waits until the engine has done
// so.
func AllocBuffer(ctx context.Context, s *Server, frames, channels int32) (*Buffer, error) {
	if frames <= 0 || channels <= 0 {
		return nil, errors.Errorf("invalid buffer shape %d frames x %d channels", frames, channels)
	}

	b := &Buffer{server: s, id: s.bufferIDs.Next(), info: BufferInfo{Frames: frames, Channels: channels}}
	_, err := router.Call(ctx, s.router, doneRequest(s.sender("/b_alloc", b.id, frames, channels), "/b_alloc", b.id))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ReadBuffer allocates a buffer holding frames frames of the sound file at
// path, starting at frame start. A frames value of zero or less reads the
// whole file. The path is resolved by the engine, but it must also exist
// locally.
func ReadBuffer(ctx context.Context, s *Server, path string, start, frames int32) (*Buffer, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.WithStack(err)
	}
	if frames < 0 {
		frames = 0
	}

	b := &Buffer{server: s, id: s.bufferIDs.Next()}
	_, err := router.Call(ctx, s.router,
		doneRequest(s.sender("/b_allocRead", b.id, path, start, frames), "/b_allocRead", b.id))
	if err != nil {
		return nil, err
	}
	if _, err := b.Info(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// ID returns the buffer number.
func (b *Buffer) ID() alloc.ID {
	return b.id
}

// Frames returns the frame count last reported for the buffer.
func (b *Buffer) Frames() int32 {
	return b.info.Frames
}

// Channels returns the channel count last reported for the buffer.
func (b *Buffer) Channels() int32 {
	return b.info.Channels
}

// Info queries the shape of the buffer.
func (b *Buffer) Info(ctx context.Context) (BufferInfo, error) {
	info, err := router.Call(ctx, b.server.router, b.infoRequest())
	if err != nil {
		return BufferInfo{}, err
	}
	b.info = info
	return info, nil
}

// InfoAsync is the non-blocking form of Info.
func (b *Buffer) InfoAsync() *router.Future[BufferInfo] {
	return startAsync(b.server.router, b.infoRequest())
}

func (b *Buffer) infoRequest() router.Request[BufferInfo] {
	return router.Request[BufferInfo]{
		Address: "/b_info",
		Key:     router.Key{b.id},
		Send:    b.server.sender("/b_query", b.id),
		Decode: func(a router.Args) (BufferInfo, error) {
			var info BufferInfo
			var err error
			if info.Frames, err = a.Int32(1); err != nil {
				return BufferInfo{}, err
			}
			if info.Channels, err = a.Int32(2); err != nil {
				return BufferInfo{}, err
			}
			if info.SampleRate, err = a.Float32(3); err != nil {
				return BufferInfo{}, err
			}
			return info, nil
		},
	}
}

// Set writes samples starting at sample index start and waits until the
// engine has applied them.
func (b *Buffer) Set(ctx context.Context, start int32, samples []float32) error {
	for i, chunk := range lo.Chunk(samples, maxSamplesPerMessage) {
		offset := start + int32(i*maxSamplesPerMessage)
		args := make([]any, 0, 3+len(chunk))
		args = append(args, b.id, offset, int32(len(chunk)))
		args = append(args, lo.ToAnySlice(chunk)...)
		b.server.send("/b_setn", args...)
	}
	return b.server.Sync(ctx)
}

// Get reads count samples starting at sample index start.
func (b *Buffer) Get(ctx context.Context, start, count int32) ([]float32, error) {
	if count <= 0 {
		return nil, errors.Errorf("invalid sample count %d", count)
	}

	// Every chunk is its own round trip, all in flight together.
	var futures []*router.Future[[]float32]
	for offset := start; offset < start+count; offset += maxSamplesPerMessage {
		n := min(maxSamplesPerMessage, start+count-offset)
		f, err := router.Start(b.server.router, b.getRequest(offset, n))
		if err != nil {
			return nil, err
		}
		futures = append(futures, f)
	}

	out := make([]float32, 0, count)
	for _, f := range futures {
		values, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}
	return out, nil
}

func (b *Buffer) getRequest(offset, n int32) router.Request[[]float32] {
	return router.Request[[]float32]{
		Address: "/b_setn",
		Key:     router.Key{b.id, offset, n},
		Send:    b.server.sender("/b_getn", b.id, offset, n),
		Decode: func(a router.Args) ([]float32, error) {
			return a.Float32s(3, int(n))
		},
	}
}

// Fill sets count samples starting at sample index start to value.
func (b *Buffer) Fill(start, count int32, value float32) {
	b.server.send("/b_fill", b.id, start, count, value)
}

// Zero sets every sample to zero and waits until the engine has done so.
func (b *Buffer) Zero(ctx context.Context) error {
	_, err := router.Call(ctx, b.server.router, doneRequest(b.server.sender("/b_zero", b.id), "/b_zero", b.id))
	return err
}

// Write saves frames frames starting at frame start to a sound file at path
// on the engine host. A frames value below zero writes to the end of the
// buffer. With leaveOpen the file stays open for streaming.
func (b *Buffer) Write(ctx context.Context, path string, header HeaderFormat, sample SampleFormat,
	frames, start int32, leaveOpen bool,
) error {
	_, err := router.Call(ctx, b.server.router, doneRequest(
		b.server.sender("/b_write", b.id, path, string(header), string(sample), frames, start,
			lo.Ternary[int32](leaveOpen, 1, 0)),
		"/b_write", b.id))
	return err
}

// Free releases the buffer memory. Its ID is not reused.
func (b *Buffer) Free() {
	b.server.send("/b_free", b.id)
}
