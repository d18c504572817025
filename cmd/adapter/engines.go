package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/config"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/server"
)

// selectEngine resolves the configured scorer kind and returns the per-stream
// engine factory. The ONNX scorer is probed once before traffic is accepted;
// in auto mode a failed probe falls back to the energy scorer.
func selectEngine(cfg config.Config, logger *zap.Logger) (string, server.EngineFactory, error) {
	isAutoMode := cfg.Engine == engine.KindAuto
	kind := engine.ResolveKind(cfg.Engine, cfg.ModelPath)

	switch kind {
	case engine.KindONNX:
		if !engine.ModelAvailable() {
			return "", nil, errors.New(`engine "onnx" requested but the ONNX scorer is not compiled in (build with -tags onnx)`)
		}
		probe, err := engine.NewScorer(kind, cfg.ModelPath, cfg.FrameLength)
		if err != nil {
			if !isAutoMode {
				return "", nil, fmt.Errorf("onnx scorer probe: %w", err)
			}
			logger.Warn("onnx scorer probe failed, falling back to energy scorer", zap.Error(err))
			kind = engine.KindEnergy
			break
		}
		if err := probe.Close(); err != nil {
			logger.Warn("onnx probe close failed", zap.Error(err))
		}
		logger.Info("engine ready", zap.String("type", kind), zap.String("model_path", cfg.ModelPath))
	case engine.KindStub:
		logger.Warn("using stub scorer: VAD results are deterministic and NOT based on audio content")
	case engine.KindEnergy:
		if isAutoMode && cfg.ModelPath != "" {
			logger.Warn("model_path is set but the ONNX scorer is not compiled in, using energy scorer")
		}
	}

	return kind, newEngineFactory(kind, cfg.ModelPath), nil
}

func newEngineFactory(kind, modelPath string) server.EngineFactory {
	return func(cfg config.Config) (engine.Engine, error) {
		scorer, err := engine.NewScorer(kind, modelPath, cfg.FrameLength)
		if err != nil {
			return nil, err
		}
		h, err := engine.New(cfg.EngineConfig(), engine.WithScorer(scorer))
		if err != nil {
			_ = scorer.Close()
			return nil, err
		}
		return h, nil
	}
}
