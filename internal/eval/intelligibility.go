package eval

import (
	"fmt"
	"math"

	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/text"
)

// asrSampleRate is the input rate the recognition model was trained on.
const asrSampleRate = 16000

// varianceEpsilon stabilizes per-sample normalization against near-silent
// input.
const varianceEpsilon = 1e-7

// IntelligibilityGap scores how much harder the generated sample is to
// recognize than the real one: both are normalized, scored with a
// teacher-forced recognition loss against the transcript, and the reference
// loss is subtracted to cancel transcript-dependent difficulty.
func IntelligibilityGap(m CTCModel, gen, ref []float32, rate int, transcript string) (float64, error) {
	labels, err := text.ToSequence(transcript)
	if err != nil {
		return 0, fmt.Errorf("eval: transcript labels: %w", err)
	}

	losses := make([]float64, 0, 2)

	for _, wave := range [][]float32{gen, ref} {
		resampled, err := audio.Resample(wave, rate, asrSampleRate)
		if err != nil {
			return 0, fmt.Errorf("eval: resample for recognition: %w", err)
		}

		normalized, err := normalizeWave(resampled)
		if err != nil {
			return 0, err
		}

		loss, err := m.Loss(normalized, labels)
		if err != nil {
			return 0, fmt.Errorf("eval: recognition loss: %w", err)
		}

		losses = append(losses, loss)
	}

	return losses[0] - losses[1], nil
}

// normalizeWave centers a waveform and scales it to unit variance. Variance
// uses the n-1 estimator.
func normalizeWave(wave []float32) ([]float32, error) {
	if len(wave) < 2 {
		return nil, fmt.Errorf("eval: waveform too short to normalize (%d samples)", len(wave))
	}

	var mean float64
	for _, v := range wave {
		mean += float64(v)
	}
	mean /= float64(len(wave))

	var variance float64
	for _, v := range wave {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(wave) - 1)

	scale := 1 / math.Sqrt(variance+varianceEpsilon)

	out := make([]float32, len(wave))
	for i, v := range wave {
		out[i] = float32((float64(v) - mean) * scale)
	}

	return out, nil
}
