package eval

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-diffusion-eval/internal/align"
	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/mel"
)

// tts9SampleRate is the vocoder's native rate; the tts9_mel variant compares
// waveforms at full vocoder bandwidth.
const tts9SampleRate = 24000

// tts9MelStrategy samples in mel space: the model generates a normalized
// spectrogram conditioned on codec tokens, which is denormalized and vocoded
// back to audio. The reference is the vocoded spectrogram of the real
// recording, so both sides share the vocoder's character.
type tts9MelStrategy struct {
	model   DiffusionModel
	sampler Sampler
	codec   SpeechCodec
	vocoder Vocoder
	mel     *mel.Converter
	univnet *mel.Converter
	norms   *mel.Stats
}

func (s *tts9MelStrategy) Name() string { return DiffusionTTS9Mel }

func (s *tts9MelStrategy) Sample(ctx context.Context, wave []float32, codes []int64, transcript string, rng *rand.Rand) (SampleResult, error) {
	spec, err := s.mel.Spectrogram(wave)
	if err != nil {
		return SampleResult{}, err
	}

	melCodes, err := s.codec.Encode(spec)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: encode mel codes: %w", err)
	}

	ref, err := audio.Resample(wave, DatasetSampleRate, tts9SampleRate)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: resample reference: %w", err)
	}

	// The reference spectrogram doubles as conditioning input and as the
	// template for the output shape.
	univnetMel, err := s.univnet.Spectrogram(ref)
	if err != nil {
		return SampleResult{}, err
	}

	channels, err := univnetMel.Dim(1)
	if err != nil {
		return SampleResult{}, err
	}

	outputSize, err := univnetMel.Dim(-1)
	if err != nil {
		return SampleResult{}, err
	}

	factor, err := dynamicFactor(outputSize, int64(len(melCodes)))
	if err != nil {
		return SampleResult{}, err
	}

	shape := OutputShape{Batch: 1, Channels: channels, Length: outputSize}
	if alignTo, ok := s.model.AlignmentSize(); ok {
		paddedSize, codesPad := align.Padding(outputSize, alignTo, factor)
		melCodes = align.PadCodes(melCodes, codesPad)
		shape.Length = paddedSize
	}

	condInput := univnetMel
	if s.norms != nil {
		condInput, err = s.norms.Normalize(univnetMel)
		if err != nil {
			return SampleResult{}, err
		}
	}

	cond := Conditioning{AlignedConditioning: melCodes, ConditioningInput: condInput}

	genMel, err := s.sampler.PSampleLoop(ctx, s.model, shape, cond, rng)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: tts9_mel sampling: %w", err)
	}

	if err := requireShape(genMel, shape); err != nil {
		return SampleResult{}, err
	}

	gen, err := s.vocoder.Inference(mel.DenormalizeTacotron(genMel))
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: vocode generated mel: %w", err)
	}

	// The vocoder expects raw log-mels, so the reference path always feeds
	// the unnormalized spectrogram.
	refDec, err := s.vocoder.Inference(univnetMel)
	if err != nil {
		return SampleResult{}, fmt.Errorf("eval: vocode reference mel: %w", err)
	}

	return SampleResult{Generated: gen, Reference: refDec, SampleRate: tts9SampleRate}, nil
}
