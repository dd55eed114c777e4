package onnx

import (
	"context"
	"errors"
	"fmt"
)

// Recognizer wraps the asr_ctc graph, scoring a waveform against transcript
// labels with a CTC loss.
type Recognizer struct {
	hostOnly

	engine *Engine
}

func NewRecognizer(engine *Engine) (*Recognizer, error) {
	if engine == nil {
		return nil, errors.New("recognizer: engine is required")
	}
	if !engine.Has(GraphRecognizer) {
		return nil, errors.New("asr_ctc graph not found in manifest")
	}

	return &Recognizer{engine: engine}, nil
}

// Loss runs the asr_ctc graph.
//
// Inputs: audio [1, N] at the recognizer's rate, labels [1, L]
// Output: scalar CTC loss.
func (r *Recognizer) Loss(input []float32, labels []int64) (float64, error) {
	if len(input) == 0 {
		return 0, errors.New("asr_ctc: empty waveform")
	}

	audio, err := NewTensor(input, []int64{1, int64(len(input))})
	if err != nil {
		return 0, fmt.Errorf("asr_ctc: audio: %w", err)
	}

	labelsT, err := wireCodes(labels)
	if err != nil {
		return 0, fmt.Errorf("asr_ctc: labels: %w", err)
	}

	outputs, err := r.engine.run(context.Background(), GraphRecognizer, map[string]*Tensor{
		"audio":  audio,
		"labels": labelsT,
	})
	if err != nil {
		return 0, err
	}

	lossT, err := graphOutput(outputs, GraphRecognizer, "loss")
	if err != nil {
		return 0, err
	}

	loss, err := ExtractFloat32(lossT)
	if err != nil {
		return 0, fmt.Errorf("asr_ctc: extract loss: %w", err)
	}

	if len(loss) == 0 {
		return 0, errors.New("asr_ctc: empty loss tensor")
	}

	return float64(loss[0]), nil
}
