//go:build onnx

package engine

// ModelAvailable reports that the ONNX scorer is compiled in.
func ModelAvailable() bool { return true }

// NewNativeScorer creates a ModelScorer for the model at path.
func NewNativeScorer(path string, frameLength int) (Scorer, error) {
	return NewModelScorer(path, frameLength)
}
