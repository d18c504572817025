//go:build !onnx

package engine

import "errors"

// ErrModelUnavailable indicates the ONNX scorer is not compiled in.
var ErrModelUnavailable = errors.New("engine: onnx scorer not available (build with -tags onnx)")

// ModelAvailable reports that no ONNX scorer is compiled in.
func ModelAvailable() bool { return false }

// NewNativeScorer returns an error when built without the onnx tag.
func NewNativeScorer(_ string, _ int) (Scorer, error) {
	return nil, ErrModelUnavailable
}
