package eval

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/example/go-diffusion-eval/internal/mel"
	"github.com/example/go-diffusion-eval/internal/tensor"
)

// DatasetSampleRate is the native rate of the evaluation corpus. Reference
// audio is loaded at this rate before any variant-specific resampling.
const DatasetSampleRate = 22050

// samplerAlignment is the default output stride of the diffusion sampler,
// used when the model does not declare its own alignment size.
const samplerAlignment = 2048

// Diffusion type names accepted in configuration. Each selects one sampling
// strategy.
const (
	DiffusionTTS             = "tts"
	DiffusionOriginalVocoder = "original_vocoder"
	DiffusionVocoder         = "vocoder"
	DiffusionTTS9Mel         = "tts9_mel"
)

// DiffusionTypes lists the recognized diffusion_type values.
func DiffusionTypes() []string {
	return []string{DiffusionTTS, DiffusionOriginalVocoder, DiffusionVocoder, DiffusionTTS9Mel}
}

// Strategy drives one sampling call per dataset entry. Implementations
// differ in which conditioning signals feed the sampler and which
// intermediate representation the comparison runs on.
type Strategy interface {
	Name() string
	Sample(ctx context.Context, wave []float32, codes []int64, transcript string, rng *rand.Rand) (SampleResult, error)
}

// newStrategy selects the strategy for diffusionType and validates that the
// auxiliary models it needs are present. Unknown types fail here, before any
// model is invoked.
func newStrategy(diffusionType string, deps Deps, norms *mel.Stats) (Strategy, error) {
	switch diffusionType {
	case DiffusionTTS:
		return &ttsStrategy{model: deps.Model, sampler: deps.Sampler}, nil

	case DiffusionOriginalVocoder:
		if deps.Codec == nil {
			return nil, errors.New("eval: original_vocoder strategy requires a speech codec")
		}

		tacotron, err := mel.NewConverter(mel.TacotronConfig(nil))
		if err != nil {
			return nil, err
		}

		return &originalVocoderStrategy{model: deps.Model, sampler: deps.Sampler, codec: deps.Codec, mel: tacotron}, nil

	case DiffusionVocoder:
		if deps.Codec == nil {
			return nil, errors.New("eval: vocoder strategy requires a speech codec")
		}

		tacotron, err := mel.NewConverter(mel.TacotronConfig(nil))
		if err != nil {
			return nil, err
		}

		return &vocoderStrategy{model: deps.Model, sampler: deps.Sampler, codec: deps.Codec, mel: tacotron}, nil

	case DiffusionTTS9Mel:
		if deps.Codec == nil {
			return nil, errors.New("eval: tts9_mel strategy requires a speech codec")
		}

		if deps.Vocoder == nil {
			return nil, errors.New("eval: tts9_mel strategy requires a vocoder")
		}

		tacotron, err := mel.NewConverter(mel.TacotronConfig(nil))
		if err != nil {
			return nil, err
		}

		univnet, err := mel.NewConverter(mel.UnivnetConfig())
		if err != nil {
			return nil, err
		}

		return &tts9MelStrategy{
			model:   deps.Model,
			sampler: deps.Sampler,
			codec:   deps.Codec,
			vocoder: deps.Vocoder,
			mel:     tacotron,
			univnet: univnet,
			norms:   norms,
		}, nil

	default:
		return nil, fmt.Errorf("eval: unknown diffusion type %q (want one of %v)", diffusionType, DiffusionTypes())
	}
}

// waveTensor shapes a mono waveform as the [1, 1, N] layout conditioning
// inputs use.
func waveTensor(wave []float32) (*tensor.Tensor, error) {
	return tensor.New(wave, []int64{1, 1, int64(len(wave))})
}

// requireShape rejects sampler output that does not match the requested
// shape. No coercion happens beyond the documented padding step.
func requireShape(t *tensor.Tensor, want OutputShape) error {
	if !slices.Equal(t.Shape(), want.Dims()) {
		return fmt.Errorf("eval: sampler returned shape %v, want %v", t.Shape(), want.Dims())
	}

	return nil
}

// dynamicFactor relates the output time axis to a conditioning time axis
// measured from model-produced shapes.
func dynamicFactor(outputSize, condSize int64) (int64, error) {
	if condSize <= 0 {
		return 0, fmt.Errorf("eval: conditioning sequence is empty")
	}

	factor := outputSize / condSize
	if factor < 1 {
		return 0, fmt.Errorf("eval: conditioning length %d exceeds output length %d", condSize, outputSize)
	}

	return factor, nil
}
