package eval

import (
	"fmt"

	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/mel"
)

// ProjectEmbedding maps a waveform into the projector's latent space:
// resample to the converter's canonical rate, convert to a spectrogram,
// project. Deterministic given model weights and input.
func ProjectEmbedding(p Projector, conv *mel.Converter, wave []float32, rate int) ([]float32, error) {
	resampled := wave

	if rate != conv.SampleRate() {
		var err error

		resampled, err = audio.Resample(wave, rate, conv.SampleRate())
		if err != nil {
			return nil, fmt.Errorf("eval: resample for projection: %w", err)
		}
	}

	spec, err := conv.Spectrogram(resampled)
	if err != nil {
		return nil, err
	}

	vec, err := p.SpeechProjection(spec)
	if err != nil {
		return nil, fmt.Errorf("eval: speech projection: %w", err)
	}

	return vec, nil
}
