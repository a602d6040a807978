// Package soundfile reads and writes the sound files buffers are loaded from
// and saved to. Only integer PCM WAV files are supported.
package soundfile

import (
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

const wavFormatPCM = 1

var (
	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("sound file not found")
	// ErrUnsupported is returned for files or formats this package cannot handle.
	ErrUnsupported = errors.New("unsupported sound file")
)

// Info describes a sound file.
type Info struct {
	Frames     int
	Channels   int
	SampleRate int
	BitDepth   int
}

// Stat reads the header of the file at path.
func Stat(path string) (Info, error) {
	f, err := open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	return readInfo(path, d)
}

// Read returns the header and the interleaved samples of the file at path,
// scaled to [-1, 1).
func Read(path string) (Info, []float32, error) {
	f, err := open(path)
	if err != nil {
		return Info{}, nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	info, err := readInfo(path, d)
	if err != nil {
		return Info{}, nil, err
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Info{}, nil, errors.Wrapf(err, "reading samples of %s", path)
	}

	scale := fullScale(info.BitDepth)
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(float64(v) / scale)
	}
	return info, samples, nil
}

// Write stores interleaved samples in a WAV file at path. Samples outside
// [-1, 1] are clipped.
func Write(path string, sampleRate, channels, bitDepth int, samples []float32) (retErr error) {
	if err := checkBitDepth(bitDepth); err != nil {
		return err
	}
	if channels <= 0 {
		return errors.Errorf("invalid channel count %d", channels)
	}
	if len(samples)%channels != 0 {
		return errors.Errorf("%d samples do not divide into %d channels", len(samples), channels)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = errors.WithStack(err)
		}
	}()

	scale := fullScale(bitDepth)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * scale)
		data[i] = int(math.Max(-scale, math.Min(scale-1, v)))
	}

	e := wav.NewEncoder(f, sampleRate, bitDepth, channels, wavFormatPCM)
	if err := e.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.WithStack(e.Close())
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func readInfo(path string, d *wav.Decoder) (Info, error) {
	if !d.IsValidFile() {
		return Info{}, errors.Wrapf(ErrUnsupported, "%s is not a WAV file", path)
	}
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Info{}, errors.Wrapf(err, "reading header of %s", path)
	}
	if d.WavAudioFormat != wavFormatPCM {
		return Info{}, errors.Wrapf(ErrUnsupported, "%s: audio format %d", path, d.WavAudioFormat)
	}
	if err := checkBitDepth(int(d.BitDepth)); err != nil {
		return Info{}, errors.Wrap(err, path)
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, errors.Wrapf(err, "locating samples of %s", path)
	}

	info := Info{
		Channels:   int(d.NumChans),
		SampleRate: int(d.SampleRate),
		BitDepth:   int(d.BitDepth),
	}
	if frameSize := info.Channels * info.BitDepth / 8; frameSize > 0 {
		info.Frames = d.PCMSize / frameSize
	}
	return info, nil
}

func checkBitDepth(bitDepth int) error {
	switch bitDepth {
	case 16, 24, 32:
		return nil
	default:
		return errors.Wrapf(ErrUnsupported, "bit depth %d", bitDepth)
	}
}

func fullScale(bitDepth int) float64 {
	return math.Ldexp(1, bitDepth-1)
}
