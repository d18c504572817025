// Package replay runs recorded audio through a VAD engine frame by frame.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

// ErrFormat reports a WAV file the engine cannot take.
var ErrFormat = errors.New("replay: unsupported wav format")

// LoadWAV reads a mono 16-bit PCM WAV file sampled at engine.SampleRate.
func LoadWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()

	samples, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// DecodeWAV decodes a mono 16-bit PCM WAV stream sampled at engine.SampleRate.
func DecodeWAV(r io.ReadSeeker) ([]int16, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrFormat)
	}
	switch {
	case d.NumChans != 1:
		return nil, fmt.Errorf("%w: %d channels, only mono is supported", ErrFormat, d.NumChans)
	case d.BitDepth != 16:
		return nil, fmt.Errorf("%w: %d-bit samples, only 16-bit is supported", ErrFormat, d.BitDepth)
	case d.SampleRate != engine.SampleRate:
		return nil, fmt.Errorf("%w: sample rate %d Hz, engine requires %d Hz", ErrFormat, d.SampleRate, engine.SampleRate)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("replay: read pcm: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, nil
}

// FrameResult is the engine output for one frame of a recording.
type FrameResult struct {
	Index  int
	Offset time.Duration
	engine.Result
}

// Segment is a run of frames flagged as speech. End is exclusive.
type Segment struct {
	Start, End int
}

// Duration returns the segment length at the given frame length.
func (s Segment) Duration(frameLength int) time.Duration {
	return frameOffset(s.End-s.Start, frameLength)
}

// Run feeds samples to eng in frames of eng.FrameLength() samples and calls fn
// for each result. A trailing partial frame is not processed; Run returns the
// number of samples left over.
func Run(eng engine.Engine, samples []int16, fn func(FrameResult) error) (int, error) {
	n := eng.FrameLength()
	frames := len(samples) / n
	for i := range frames {
		res, err := eng.Process(samples[i*n : (i+1)*n])
		if err != nil {
			return 0, fmt.Errorf("replay: frame %d: %w", i, err)
		}
		if err := fn(FrameResult{Index: i, Offset: frameOffset(i, n), Result: res}); err != nil {
			return 0, err
		}
	}
	return len(samples) - frames*n, nil
}

// Segments groups consecutive speech frames. A segment still open at the end
// of the results is closed there.
func Segments(results []FrameResult) []Segment {
	var (
		segs []Segment
		open = -1
	)
	for _, r := range results {
		switch {
		case r.IsSpeech && open < 0:
			open = r.Index
		case !r.IsSpeech && open >= 0:
			segs = append(segs, Segment{Start: open, End: r.Index})
			open = -1
		}
	}
	if open >= 0 && len(results) > 0 {
		segs = append(segs, Segment{Start: open, End: results[len(results)-1].Index + 1})
	}
	return segs
}

func frameOffset(frames, frameLength int) time.Duration {
	return time.Duration(frames) * time.Duration(frameLength) * time.Second / engine.SampleRate
}
