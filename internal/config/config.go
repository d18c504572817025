package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

const (
	DefaultListenAddr = "localhost:0"
	DefaultLogFormat  = "console"
	DefaultEngine     = "auto"
)

// Config holds the adapter configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr" env:"VAD_ADAPTER_LISTEN_ADDR, overwrite" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" env:"VAD_METRICS_ADDR, overwrite"`
	LogLevel    string `yaml:"log_level" env:"VAD_LOG_LEVEL, overwrite" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat   string `yaml:"log_format" env:"VAD_LOG_FORMAT, overwrite" validate:"oneof=json console"`

	// Engine selects the scorer: auto, energy, onnx or stub.
	Engine    string `yaml:"engine" env:"VAD_ENGINE, overwrite" validate:"oneof=auto energy onnx stub"`
	ModelPath string `yaml:"model_path" env:"VAD_MODEL_PATH, overwrite" validate:"required_if=Engine onnx"`

	FrameLength    int     `yaml:"frame_length" env:"VAD_FRAME_LENGTH, overwrite" validate:"gt=0,lte=16000"`
	Threshold      float64 `yaml:"threshold" env:"VAD_THRESHOLD, overwrite" validate:"gte=0,lte=1"`
	Smoothing      float64 `yaml:"smoothing" env:"VAD_SMOOTHING, overwrite" validate:"gt=0,lte=1"`
	HangoverFrames int     `yaml:"hangover_frames" env:"VAD_HANGOVER_FRAMES, overwrite" validate:"gte=0"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		LogFormat:      DefaultLogFormat,
		Engine:         DefaultEngine,
		FrameLength:    engine.DefaultFrameLength,
		Threshold:      engine.DefaultThreshold,
		Smoothing:      engine.DefaultSmoothing,
		HangoverFrames: engine.DefaultHangover,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field of the configuration.
func (c Config) Validate() error {
	return validationError(validate.Struct(c))
}

// ValidateVADParams checks only the fields that shape the engine. It is used
// for per-stream overrides, which never touch the listener or logging.
func (c Config) ValidateVADParams() error {
	return validationError(validate.StructPartial(c, "FrameLength", "Threshold", "Smoothing", "HangoverFrames"))
}

// EngineConfig converts the adapter configuration into handle settings.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		FrameLength: c.FrameLength,
		Threshold:   c.Threshold,
		Smoothing:   c.Smoothing,
		Hangover:    c.HangoverFrames,
	}
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s=%v fails %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s=%v fails %s", fe.Field(), fe.Value(), fe.Tag()))
		}
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
}
