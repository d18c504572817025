package engine

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// version identifies the engine build. Release builds override it via
// -ldflags "-X github.com/nupi-ai/plugin-vad-local-ten/internal/engine.version=...".
var version = "1.0.0"

// Version returns the engine version string. It does not depend on any handle.
func Version() string {
	return version
}

// Config is fixed when a handle is created.
type Config struct {
	// FrameLength is the number of samples required per Process call.
	FrameLength int
	// Threshold is the decision boundary applied to the smoothed score.
	Threshold float64
	// Smoothing is the moving-average coefficient in (0, 1]; 1 disables smoothing.
	Smoothing float64
	// Hangover is the number of below-threshold frames tolerated before
	// speech ends.
	Hangover int
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		FrameLength: DefaultFrameLength,
		Threshold:   DefaultThreshold,
		Smoothing:   DefaultSmoothing,
		Hangover:    DefaultHangover,
	}
}

// Validate reports whether the configuration can back a handle.
func (c Config) Validate() error {
	if c.FrameLength <= 0 {
		return fmt.Errorf("%w: frame length %d must be positive", ErrConfig, c.FrameLength)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0, 1]", ErrConfig, c.Threshold)
	}
	if math.IsNaN(c.Smoothing) || c.Smoothing <= 0 || c.Smoothing > 1 {
		return fmt.Errorf("%w: smoothing %v outside (0, 1]", ErrConfig, c.Smoothing)
	}
	if c.Hangover < 0 {
		return fmt.Errorf("%w: hangover %d must not be negative", ErrConfig, c.Hangover)
	}
	return nil
}

// Option customizes a Handle.
type Option func(*Handle)

// WithScorer replaces the default EnergyScorer. The handle takes ownership and
// closes the scorer on Close.
func WithScorer(s Scorer) Option {
	return func(h *Handle) {
		if s != nil {
			h.scorer = s
		}
	}
}

const (
	handleIdle int32 = iota
	handleBusy
	handleClosed
)

// streamState is the mutable per-stream state. It is only touched while the
// handle guard is held.
type streamState struct {
	tracker Tracker
	policy  Policy
}

// Handle is one independent VAD instance bound to one audio stream. Calls must
// be sequential and in stream order; overlapping calls fail with
// ErrConcurrentUse instead of blocking.
type Handle struct {
	cfg    Config
	scorer Scorer
	guard  atomic.Int32
	state  streamState
}

var _ Engine = (*Handle)(nil)

// New creates a handle with the given configuration.
func New(cfg Config, opts ...Option) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handle{
		cfg:    cfg,
		scorer: NewEnergyScorer(),
		state: streamState{
			tracker: NewTracker(cfg.Smoothing, cfg.Hangover),
			policy:  NewPolicy(cfg.Threshold),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// NewDefault creates a handle with the default smoothing and hangover.
func NewDefault(frameLength int, threshold float64) (*Handle, error) {
	cfg := DefaultConfig()
	cfg.FrameLength = frameLength
	cfg.Threshold = threshold
	return New(cfg)
}

// Process scores one frame, updates the stream state and returns the smoothed
// probability together with the stabilized speech flag. A failed call leaves
// the state untouched.
func (h *Handle) Process(frame []int16) (Result, error) {
	if err := h.acquire(); err != nil {
		return Result{}, err
	}
	defer h.guard.Store(handleIdle)

	if len(frame) != h.cfg.FrameLength {
		return Result{}, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), h.cfg.FrameLength)
	}

	raw, err := h.scorer.Score(frame)
	if err != nil {
		if errors.Is(err, ErrInternal) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Result{}, fmt.Errorf("%w: raw score %v", ErrInternal, raw)
	}

	smoothed := h.state.tracker.Update(clamp01(raw))
	flag := h.state.policy.Step(smoothed, &h.state.tracker.Hangover)
	return Result{
		Probability: clamp01(smoothed),
		IsSpeech:    flag,
	}, nil
}

// FrameLength returns the configured samples per frame.
func (h *Handle) FrameLength() int {
	return h.cfg.FrameLength
}

// Config returns the immutable handle configuration.
func (h *Handle) Config() Config {
	return h.cfg
}

// Close destroys the handle and releases its scorer. Every later call,
// including a second Close, fails with ErrUseAfterDestroy.
func (h *Handle) Close() error {
	if !h.guard.CompareAndSwap(handleIdle, handleClosed) {
		if h.guard.Load() == handleClosed {
			return ErrUseAfterDestroy
		}
		return ErrConcurrentUse
	}
	scorer := h.scorer
	h.scorer = nil
	h.state = streamState{}
	if scorer != nil {
		return scorer.Close()
	}
	return nil
}

func (h *Handle) acquire() error {
	if h.guard.CompareAndSwap(handleIdle, handleBusy) {
		return nil
	}
	if h.guard.Load() == handleClosed {
		return ErrUseAfterDestroy
	}
	return ErrConcurrentUse
}
