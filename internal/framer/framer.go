// Package framer turns arbitrarily sized s16le PCM chunks into the exact
// frames a VAD engine expects.
package framer

import (
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

// ErrOverflow is returned when a chunk does not fit into the pending buffer.
var ErrOverflow = errors.New("framer: pending audio exceeds buffer capacity")

// Framer buffers PCM bytes and hands out complete frames in arrival order.
// It is not safe for concurrent use.
type Framer struct {
	rb         *ringbuffer.RingBuffer
	frameBytes int
	scratch    []byte
	frame      []int16
}

// New returns a Framer for frames of frameLength samples that can hold up to
// maxChunkBytes of input on top of one partial frame.
func New(frameLength, maxChunkBytes int) (*Framer, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("framer: frame length %d must be positive", frameLength)
	}
	if maxChunkBytes <= 0 {
		return nil, fmt.Errorf("framer: max chunk size %d must be positive", maxChunkBytes)
	}
	frameBytes := frameLength * 2
	return &Framer{
		rb:         ringbuffer.New(maxChunkBytes + frameBytes).SetBlocking(false),
		frameBytes: frameBytes,
		scratch:    make([]byte, frameBytes),
		frame:      make([]int16, frameLength),
	}, nil
}

// Write appends a PCM chunk. Odd-length chunks are rejected because s16le
// needs two bytes per sample.
func (f *Framer) Write(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("framer: PCM buffer has odd length %d (s16le requires 2 bytes per sample)", len(pcm))
	}
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm) > f.rb.Free() {
		return fmt.Errorf("%w: chunk %d bytes, free %d bytes", ErrOverflow, len(pcm), f.rb.Free())
	}
	if _, err := f.rb.Write(pcm); err != nil {
		return fmt.Errorf("framer: buffer write: %w", err)
	}
	return nil
}

// Next returns the next complete frame, or false if fewer than one frame of
// samples is pending. The returned slice is reused by the following call.
func (f *Framer) Next() ([]int16, bool) {
	if f.rb.Length() < f.frameBytes {
		return nil, false
	}
	n, err := f.rb.Read(f.scratch)
	if err != nil || n != f.frameBytes {
		return nil, false
	}
	engine.DecodeS16LE(f.frame, f.scratch)
	return f.frame, true
}

// Pending returns the number of buffered samples that do not yet form a frame.
func (f *Framer) Pending() int {
	return f.rb.Length() / 2
}

// Reset drops all buffered audio.
func (f *Framer) Reset() {
	f.rb.Reset()
}
