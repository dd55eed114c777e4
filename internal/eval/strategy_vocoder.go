package eval

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-diffusion-eval/internal/align"
	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/mel"
	"github.com/example/go-diffusion-eval/internal/text"
)

// originalVocoderModelRate is the rate the original vocoder variant samples
// at before dropping to the common comparison rate.
const originalVocoderModelRate = 11025

// vocoderCompareRate is the shared comparison rate of the vocoder variants.
const vocoderCompareRate = 5500

// originalVocoderStrategy round-trips the reference through the discrete
// codec and conditions the sampler on the reconstructed spectrogram. Both
// waveforms are downsampled post-hoc so scores stay comparable with the
// other variants.
type originalVocoderStrategy struct {
	model   DiffusionModel
	sampler Sampler
	codec   SpeechCodec
	mel     *mel.Converter
}

func (s *originalVocoderStrategy) Name() string { return DiffusionOriginalVocoder }

func (s *originalVocoderStrategy) Sample(ctx context.Context, wave []float32, codes []int64, transcript string, rng *rand.Rand) (SampleResult, error) {
	spec, err := s.mel.Spectrogram(wave)
	if err != nil {
		return SampleResult{}, err
	}

	melCodes, err := s.codec.Encode(spec)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: encode mel codes: %w", err)
	}

	backToMel, err := s.codec.Decode(melCodes)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: decode mel codes: %w", err)
	}

	ref, err := audio.Resample(wave, DatasetSampleRate, originalVocoderModelRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: resample reference: %w", err)
	}

	melLen, err := backToMel.Dim(-1)
	if err != nil {
		return SampleResult{}, err
	}

	outputSize := int64(len(ref))

	factor, err := dynamicFactor(outputSize, melLen)
	if err != nil {
		return SampleResult{}, err
	}

	paddedSize, melPad := align.Padding(outputSize, samplerAlignment, factor)
	if melPad > 0 {
		backToMel, err = backToMel.PadEnd(-1, melPad)
		if err != nil {
			return SampleResult{}, err
		}
	}

	condInput, err := waveTensor(wave)
	if err != nil {
		return SampleResult{}, err
	}

	shape := OutputShape{Batch: 1, Channels: 1, Length: paddedSize}

	gen, err := s.sampler.PSampleLoop(ctx, s.model, shape, Conditioning{Spectrogram: backToMel, ConditioningInput: condInput}, rng)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: original_vocoder sampling: %w", err)
	}

	if err := requireShape(gen, shape); err != nil {
		return SampleResult{}, err
	}

	genDown, err := audio.Resample(gen.Data(), originalVocoderModelRate, vocoderCompareRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: downsample generated: %w", err)
	}

	refDown, err := audio.Resample(ref, originalVocoderModelRate, vocoderCompareRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: downsample reference: %w", err)
	}

	return SampleResult{Generated: genDown, Reference: refDown, SampleRate: vocoderCompareRate}, nil
}

// vocoderStrategy re-encodes the reference into codec tokens and conditions
// the sampler on those plus the raw transcript sequence.
type vocoderStrategy struct {
	model   DiffusionModel
	sampler Sampler
	codec   SpeechCodec
	mel     *mel.Converter
}

func (s *vocoderStrategy) Name() string { return DiffusionVocoder }

func (s *vocoderStrategy) Sample(ctx context.Context, wave []float32, codes []int64, transcript string, rng *rand.Rand) (SampleResult, error) {
	spec, err := s.mel.Spectrogram(wave)
	if err != nil {
		return SampleResult{}, err
	}

	melCodes, err := s.codec.Encode(spec)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: encode mel codes: %w", err)
	}

	textCodes, err := text.ToSequence(transcript)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: transcript codes: %w", err)
	}

	ref, err := audio.Resample(wave, DatasetSampleRate, vocoderCompareRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: resample reference: %w", err)
	}

	outputSize := int64(len(ref))

	factor, err := dynamicFactor(outputSize, int64(len(melCodes)))
	if err != nil {
		return SampleResult{}, err
	}

	paddedSize, codesPad := align.Padding(outputSize, samplerAlignment, factor)
	melCodes = align.PadCodes(melCodes, codesPad)

	condInput, err := waveTensor(wave)
	if err != nil {
		return SampleResult{}, err
	}

	shape := OutputShape{Batch: 1, Channels: 1, Length: paddedSize}
	cond := Conditioning{Tokens: melCodes, ConditioningInput: condInput, UnalignedInput: textCodes}

	gen, err := s.sampler.PSampleLoop(ctx, s.model, shape, cond, rng)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: vocoder sampling: %w", err)
	}

	if err := requireShape(gen, shape); err != nil {
		return SampleResult{}, err
	}

	return SampleResult{Generated: gen.Data(), Reference: ref, SampleRate: vocoderCompareRate}, nil
}
