//go:build onnx

package engine

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names expected in the scoring model. The model maps one normalized
// frame [1, frameLength] to a speech probability [1, 1] and must not carry
// recurrent state.
const (
	modelInputName  = "input"
	modelOutputName = "output"
)

// ortInitOnce ensures the ONNX Runtime environment is initialized exactly once
// per process; ortInitErr is kept so later scorers surface the failure.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ModelScorer scores frames with a learned ONNX model. Tensors are allocated
// once and reused, so Score does not allocate.
type ModelScorer struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	frameLength  int
}

// NewModelScorer loads the model at path and binds it to frames of
// frameLength samples.
func NewModelScorer(path string, frameLength int) (*ModelScorer, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("%w: frame length %d must be positive", ErrConfig, frameLength)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: model file %q is empty", path)
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(frameLength)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		data,
		[]string{modelInputName},
		[]string{modelOutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &ModelScorer{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		frameLength:  frameLength,
	}, nil
}

// Score runs one inference. The handle clamps the result and rejects
// non-finite model output.
func (m *ModelScorer) Score(frame []int16) (float64, error) {
	if len(frame) != m.frameLength {
		return 0, fmt.Errorf("%w: got %d samples, model expects %d", ErrFrameSize, len(frame), m.frameLength)
	}
	pcmToFloat32(m.inputTensor.GetData(), frame)
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx: inference: %w", err)
	}
	return float64(m.outputTensor.GetData()[0]), nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (m *ModelScorer) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	return nil
}
