package engine

import "fmt"

// Scorer kinds accepted by NewScorer.
const (
	KindAuto   = "auto"
	KindEnergy = "energy"
	KindONNX   = "onnx"
	KindStub   = "stub"
)

// ResolveKind turns "auto" into a concrete scorer kind: onnx when the binary
// carries the ONNX scorer and a model path is configured, energy otherwise.
// Other kinds are returned unchanged.
func ResolveKind(kind, modelPath string) string {
	if kind != KindAuto && kind != "" {
		return kind
	}
	if ModelAvailable() && modelPath != "" {
		return KindONNX
	}
	return KindEnergy
}

// NewScorer creates a scorer of the given kind for frames of frameLength
// samples.
func NewScorer(kind, modelPath string, frameLength int) (Scorer, error) {
	switch ResolveKind(kind, modelPath) {
	case KindEnergy:
		return NewEnergyScorer(), nil
	case KindStub:
		return NewStubScorer(), nil
	case KindONNX:
		return NewNativeScorer(modelPath, frameLength)
	default:
		return nil, fmt.Errorf("%w: unknown scorer kind %q", ErrConfig, kind)
	}
}
