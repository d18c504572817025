package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyStreamConfig_Empty(t *testing.T) {
	cfg := Default()
	opts, err := ApplyStreamConfig("  ", &cfg)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, opts.EmitFrames)
}

func TestApplyStreamConfig_Overrides(t *testing.T) {
	cfg := Default()
	opts, err := ApplyStreamConfig(`{"threshold":0.65,"hangover_frames":2,"smoothing":1,"emit_frames":true}`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.Threshold)
	assert.Equal(t, 2, cfg.HangoverFrames)
	assert.Equal(t, 1.0, cfg.Smoothing)
	assert.True(t, opts.EmitFrames)
}

func TestApplyStreamConfig_YAML(t *testing.T) {
	cfg := Default()
	_, err := ApplyStreamConfig("frame_length: 512\nmin_silence_duration_ms: 64\n", &cfg)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.FrameLength)
	// 64 ms = 1024 samples = 2 frames of 512.
	assert.Equal(t, 2, cfg.HangoverFrames)
}

func TestApplyStreamConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"malformed":         `{"threshold":`,
		"unknown key":       `{"listen_addr":"localhost:1"}`,
		"speech pad":        `{"speech_pad_ms":30}`,
		"threshold range":   `{"threshold":2}`,
		"zero frame length": `{"frame_length":0}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			_, err := ApplyStreamConfig(raw, &cfg)
			assert.Error(t, err)
		})
	}
}

func TestApplyStreamConfig_MinSpeechDurationIgnored(t *testing.T) {
	cfg := Default()
	opts, err := ApplyStreamConfig(`{"min_speech_duration_ms":250,"threshold":0.4}`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Threshold)
	assert.Equal(t, Default().HangoverFrames, cfg.HangoverFrames)
	require.Len(t, opts.Warnings, 1)
	assert.Contains(t, opts.Warnings[0], "min_speech_duration_ms")
}

func TestApplyStreamConfig_UnknownKeyMessage(t *testing.T) {
	cfg := Default()
	_, err := ApplyStreamConfig(`{"volume":3}`, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volume")
	assert.NotContains(t, err.Error(), "struct {")
}
