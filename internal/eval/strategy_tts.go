package eval

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-diffusion-eval/internal/align"
	"github.com/example/go-diffusion-eval/internal/audio"
)

// ttsCompareRate is the rate generated and reference audio are compared at
// for the tts variant.
const ttsCompareRate = 5500

// ttsStrategy conditions the sampler directly on the dataset's aligned code
// sequence and synthesizes raw audio at a reduced rate.
type ttsStrategy struct {
	model   DiffusionModel
	sampler Sampler
}

func (s *ttsStrategy) Name() string { return DiffusionTTS }

func (s *ttsStrategy) Sample(ctx context.Context, wave []float32, codes []int64, transcript string, rng *rand.Rand) (SampleResult, error) {
	ref, err := audio.Resample(wave, DatasetSampleRate, ttsCompareRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: resample reference: %w", err)
	}

	// The dataset aligns codes to audio at 221 codes per 11025 samples;
	// scale that to the comparison rate.
	factor := int64(ttsCompareRate) * 221 / 11025
	outputSize := int64(len(codes)) * factor

	paddedSize, codesPad := align.Padding(outputSize, samplerAlignment, factor)
	codes = align.PadCodes(codes, codesPad)

	condInput, err := waveTensor(ref)
	if err != nil {
		return SampleResult{}, err
	}

	shape := OutputShape{Batch: 1, Channels: 1, Length: paddedSize}

	gen, err := s.sampler.PSampleLoop(ctx, s.model, shape, Conditioning{Tokens: codes, ConditioningInput: condInput}, rng)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: tts sampling: %w", err)
	}

	if err := requireShape(gen, shape); err != nil {
		return SampleResult{}, err
	}

	return SampleResult{Generated: gen.Data(), Reference: ref, SampleRate: ttsCompareRate}, nil
}
