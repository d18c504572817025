package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// StreamOptions are per-stream settings that do not shape the engine.
type StreamOptions struct {
	// EmitFrames adds one FRAME event per processed frame to the speech
	// boundary events.
	EmitFrames bool
	// Warnings name accepted keys that have no effect.
	Warnings []string
}

// streamDocument is the accepted shape of a per-stream configuration.
type streamDocument struct {
	FrameLength    *int     `yaml:"frame_length"`
	Threshold      *float64 `yaml:"threshold"`
	Smoothing      *float64 `yaml:"smoothing"`
	HangoverFrames *int     `yaml:"hangover_frames"`
	EmitFrames     bool     `yaml:"emit_frames"`

	MinSilenceDurationMs *int `yaml:"min_silence_duration_ms"`
	MinSpeechDurationMs  *int `yaml:"min_speech_duration_ms"`
	SpeechPadMs          *int `yaml:"speech_pad_ms"`
}

// ApplyStreamConfig parses the optional JSON or YAML stream configuration and
// overrides the engine fields of the per-stream config copy. It fails if the
// document is malformed or the resulting parameters are invalid.
func ApplyStreamConfig(raw string, cfg *Config) (StreamOptions, error) {
	if strings.TrimSpace(raw) == "" {
		return StreamOptions{}, nil
	}
	var sc streamDocument
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return StreamOptions{}, fmt.Errorf("invalid stream config: %w", err)
	}
	if sc.SpeechPadMs != nil {
		return StreamOptions{}, errors.New("speech_pad_ms is not supported; use hangover_frames instead")
	}

	if sc.FrameLength != nil {
		cfg.FrameLength = *sc.FrameLength
	}
	if sc.Threshold != nil {
		cfg.Threshold = *sc.Threshold
	}
	if sc.Smoothing != nil {
		cfg.Smoothing = *sc.Smoothing
	}
	switch {
	case sc.HangoverFrames != nil:
		cfg.HangoverFrames = *sc.HangoverFrames
	case sc.MinSilenceDurationMs != nil:
		cfg.HangoverFrames = silenceFrames(*sc.MinSilenceDurationMs, cfg.FrameLength)
	}

	if err := cfg.ValidateVADParams(); err != nil {
		return StreamOptions{}, err
	}
	opts := StreamOptions{EmitFrames: sc.EmitFrames}
	if sc.MinSpeechDurationMs != nil {
		opts.Warnings = append(opts.Warnings,
			"min_speech_duration_ms is not supported and was ignored; speech starts on the first frame above threshold")
	}
	return opts, nil
}
