package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Vocoder wraps the vocoder graph, rendering mel spectrograms to waveforms.
type Vocoder struct {
	hostOnly

	engine *Engine
}

func NewVocoder(engine *Engine) (*Vocoder, error) {
	if engine == nil {
		return nil, errors.New("vocoder: engine is required")
	}
	if !engine.Has(GraphVocoder) {
		return nil, errors.New("vocoder graph not found in manifest")
	}

	return &Vocoder{engine: engine}, nil
}

// Inference runs the vocoder graph.
//
// Input: mel [1, C, T_frames]
// Output: []float32 PCM samples.
func (v *Vocoder) Inference(mel *tensor.Tensor) ([]float32, error) {
	in, err := wireTensor(mel)
	if err != nil {
		return nil, fmt.Errorf("vocoder: mel: %w", err)
	}

	outputs, err := v.engine.run(context.Background(), GraphVocoder, map[string]*Tensor{"mel": in})
	if err != nil {
		return nil, err
	}

	audioT, err := graphOutput(outputs, GraphVocoder, "audio")
	if err != nil {
		return nil, err
	}

	pcm, err := ExtractFloat32(audioT)
	if err != nil {
		return nil, fmt.Errorf("vocoder: extract audio: %w", err)
	}

	if len(pcm) == 0 {
		return nil, errors.New("vocoder: empty waveform")
	}

	return pcm, nil
}
