package engine

import "errors"

// SampleRate is the only input rate the engine accepts. Frame timing and the
// speech-band filter are derived from it.
const SampleRate = 16000

const (
	DefaultFrameLength = 256
	DefaultThreshold   = 0.5
	DefaultSmoothing   = 0.3
	DefaultHangover    = 6
)

var (
	// ErrConfig reports an invalid frame length, threshold or tunable at creation.
	ErrConfig = errors.New("engine: invalid configuration")
	// ErrFrameSize reports a frame whose length differs from the configured frame length.
	ErrFrameSize = errors.New("engine: frame size mismatch")
	// ErrInternal reports a non-finite score that cannot be clamped.
	ErrInternal = errors.New("engine: internal computation fault")
	// ErrUseAfterDestroy reports an operation on a closed handle.
	ErrUseAfterDestroy = errors.New("engine: handle already destroyed")
	// ErrConcurrentUse reports overlapping calls on one handle.
	ErrConcurrentUse = errors.New("engine: concurrent use of handle")
)

// Result holds the output of a single VAD frame.
type Result struct {
	Probability float64
	IsSpeech    bool
}

// Engine processes fixed-size frames of one audio stream and returns per-frame
// VAD results. Implementations are not safe for concurrent use.
type Engine interface {
	// Process consumes exactly FrameLength samples.
	Process(frame []int16) (Result, error)
	// FrameLength returns the number of samples required per call.
	FrameLength() int
	// Close releases resources.
	Close() error
}

// Scorer maps one frame to a raw speech score. Audio scorers carry no state
// between calls; anything cross-frame belongs to the Tracker. StubScorer is the
// exception: it counts frames and so must not be shared between handles.
type Scorer interface {
	Score(frame []int16) (float64, error)
	Close() error
}
