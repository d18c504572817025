package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

// EnvConfigBlob names the variable holding a JSON or YAML configuration document.
const EnvConfigBlob = "VAD_ADAPTER_CONFIG"

// Loader loads configuration from environment variables. Tests can override
// Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// LoadResult carries the loaded configuration together with non-fatal
// warnings about deprecated or ignored settings.
type LoadResult struct {
	Config   Config
	Warnings []string
}

// Load applies defaults, then the VAD_ADAPTER_CONFIG document, then the
// individual environment variables, and validates the result.
func (l Loader) Load() (LoadResult, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Default()
	var warnings []string

	if raw, ok := l.Lookup(EnvConfigBlob); ok && strings.TrimSpace(raw) != "" {
		w, err := applyDocument(raw, &cfg)
		if err != nil {
			return LoadResult{}, fmt.Errorf("config: decode %s: %w", EnvConfigBlob, err)
		}
		warnings = append(warnings, w...)
	}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: trimmedLookuper(l.Lookup),
	}); err != nil {
		return LoadResult{}, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Config: cfg, Warnings: warnings}, nil
}

// trimmedLookuper treats blank values as unset and trims the rest.
type trimmedLookuper func(string) (string, bool)

func (f trimmedLookuper) Lookup(key string) (string, bool) {
	value, ok := f(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// document is the accepted shape of a configuration document. Legacy keys
// from the silence-duration based configuration are still recognized.
type document struct {
	Config `yaml:",inline"`

	MinSilenceDurationMs *int `yaml:"min_silence_duration_ms"`
	MinSpeechDurationMs  *int `yaml:"min_speech_duration_ms"`
	SpeechPadMs          *int `yaml:"speech_pad_ms"`
}

// applyDocument decodes raw (JSON is valid YAML) over cfg. Unknown keys are
// rejected.
func applyDocument(raw string, cfg *Config) ([]string, error) {
	doc := document{Config: *cfg}
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	// The inlined Config cannot tell an explicit hangover_frames from the
	// default, so presence is decoded separately.
	var explicit struct {
		HangoverFrames *int `yaml:"hangover_frames"`
	}
	if err := yaml.Unmarshal([]byte(raw), &explicit); err != nil {
		return nil, err
	}

	var warnings []string
	if doc.MinSilenceDurationMs != nil {
		if explicit.HangoverFrames == nil {
			doc.HangoverFrames = silenceFrames(*doc.MinSilenceDurationMs, doc.FrameLength)
			warnings = append(warnings, fmt.Sprintf(
				"min_silence_duration_ms is deprecated, converted to hangover_frames=%d", doc.HangoverFrames))
		} else {
			warnings = append(warnings, "min_silence_duration_ms ignored because hangover_frames is set")
		}
	}
	if doc.MinSpeechDurationMs != nil {
		warnings = append(warnings, "min_speech_duration_ms is not supported and was ignored; speech starts on the first frame above threshold")
	}
	if doc.SpeechPadMs != nil {
		warnings = append(warnings, "speech_pad_ms is not supported and was ignored")
	}

	*cfg = doc.Config
	return warnings, nil
}

// silenceFrames converts a silence duration into whole frames, rounding up.
func silenceFrames(ms, frameLength int) int {
	if ms <= 0 || frameLength <= 0 {
		return 0
	}
	samples := ms * engine.SampleRate / 1000
	return ceilDiv(samples, frameLength)
}

// ceilDiv returns the ceiling of a/b for positive integers.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
