package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Projector wraps the projector graph, embedding mel spectrograms into the
// latent space the distributional metric compares in.
type Projector struct {
	hostOnly

	engine *Engine
}

func NewProjector(engine *Engine) (*Projector, error) {
	if engine == nil {
		return nil, errors.New("projector: engine is required")
	}
	if !engine.Has(GraphProjector) {
		return nil, errors.New("projector graph not found in manifest")
	}

	return &Projector{engine: engine}, nil
}

// SpeechProjection runs the projector graph.
//
// Input: mel [1, 80, T_frames]
// Output: flat embedding vector.
func (p *Projector) SpeechProjection(mel *tensor.Tensor) ([]float32, error) {
	in, err := wireTensor(mel)
	if err != nil {
		return nil, fmt.Errorf("projector: mel: %w", err)
	}

	outputs, err := p.engine.run(context.Background(), GraphProjector, map[string]*Tensor{"mel": in})
	if err != nil {
		return nil, err
	}

	embT, err := graphOutput(outputs, GraphProjector, "embedding")
	if err != nil {
		return nil, err
	}

	emb, err := ExtractFloat32(embT)
	if err != nil {
		return nil, fmt.Errorf("projector: extract embedding: %w", err)
	}

	if len(emb) == 0 {
		return nil, errors.New("projector: empty embedding")
	}

	return emb, nil
}
