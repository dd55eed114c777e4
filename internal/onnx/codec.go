package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Codec wraps the dvae_encoder and dvae_decoder graphs, mapping mel
// spectrograms to discrete speech codes and back.
type Codec struct {
	hostOnly

	engine *Engine
}

func NewCodec(engine *Engine) (*Codec, error) {
	if engine == nil {
		return nil, errors.New("codec: engine is required")
	}
	if !engine.Has(GraphCodecEncoder) {
		return nil, errors.New("dvae_encoder graph not found in manifest")
	}
	if !engine.Has(GraphCodecDecoder) {
		return nil, errors.New("dvae_decoder graph not found in manifest")
	}

	return &Codec{engine: engine}, nil
}

// Encode runs the dvae_encoder graph.
//
// Input: mel [1, 80, T_frames]
// Output: flat code sequence.
func (c *Codec) Encode(mel *tensor.Tensor) ([]int64, error) {
	in, err := wireTensor(mel)
	if err != nil {
		return nil, fmt.Errorf("dvae_encoder: mel: %w", err)
	}

	outputs, err := c.engine.run(context.Background(), GraphCodecEncoder, map[string]*Tensor{"mel": in})
	if err != nil {
		return nil, err
	}

	codesT, err := graphOutput(outputs, GraphCodecEncoder, "codes")
	if err != nil {
		return nil, err
	}

	codes, err := ExtractInt64(codesT)
	if err != nil {
		return nil, fmt.Errorf("dvae_encoder: extract codes: %w", err)
	}

	if len(codes) == 0 {
		return nil, errors.New("dvae_encoder: empty code sequence")
	}

	return codes, nil
}

// Decode runs the dvae_decoder graph.
//
// Input: codes [1, K]
// Output: mel [1, 80, T_frames].
func (c *Codec) Decode(codes []int64) (*tensor.Tensor, error) {
	in, err := wireCodes(codes)
	if err != nil {
		return nil, fmt.Errorf("dvae_decoder: codes: %w", err)
	}

	outputs, err := c.engine.run(context.Background(), GraphCodecDecoder, map[string]*Tensor{"codes": in})
	if err != nil {
		return nil, err
	}

	melT, err := graphOutput(outputs, GraphCodecDecoder, "mel")
	if err != nil {
		return nil, err
	}

	mel, err := hostTensor(melT)
	if err != nil {
		return nil, fmt.Errorf("dvae_decoder: extract mel: %w", err)
	}

	return mel, nil
}
