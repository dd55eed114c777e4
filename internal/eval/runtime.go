// Package eval orchestrates the evaluation of a speech diffusion model: it
// drives a sampling strategy once per dataset entry, projects generated and
// reference audio into embedding space, and reduces Fréchet distance and an
// intelligibility gap across data-parallel workers.
package eval

import (
	"context"
	"math/rand/v2"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// OutputShape is the target shape for one sampling call. Batch is always 1.
type OutputShape struct {
	Batch    int64
	Channels int64
	Length   int64
}

func (s OutputShape) Dims() []int64 {
	return []int64{s.Batch, s.Channels, s.Length}
}

// Conditioning carries the variant-specific inputs steering one sampling
// call. Unused fields stay zero. Code sequences are single-batch; adapters
// add the batch dimension on the wire.
type Conditioning struct {
	Tokens              []int64
	AlignedConditioning []int64
	UnalignedInput      []int64
	Spectrogram         *tensor.Tensor
	ConditioningInput   *tensor.Tensor
}

// Relocatable moves model weights between host memory and the compute
// device. Implementations must tolerate repeated calls.
type Relocatable interface {
	ToDevice(device string) error
	ToHost() error
}

// DiffusionModel is the model under evaluation.
type DiffusionModel interface {
	Relocatable

	// AlignmentSize reports the output stride the model requires, when it
	// declares one. ok is false for models without a stride constraint.
	AlignmentSize() (size int64, ok bool)

	SetTraining(train bool)
}

// Sampler runs the full reverse-diffusion iteration and returns one tensor
// of exactly the requested shape. Deterministic given the rng state.
type Sampler interface {
	PSampleLoop(ctx context.Context, model DiffusionModel, shape OutputShape, cond Conditioning, rng *rand.Rand) (*tensor.Tensor, error)
}

// SpeechCodec maps mel spectrograms to discrete codes and back.
type SpeechCodec interface {
	Relocatable

	Encode(mel *tensor.Tensor) ([]int64, error)
	Decode(codes []int64) (*tensor.Tensor, error)
}

// Vocoder renders a mel spectrogram to a raw waveform.
type Vocoder interface {
	Relocatable

	Inference(mel *tensor.Tensor) ([]float32, error)
}

// Projector embeds a mel spectrogram into a fixed-size latent vector.
type Projector interface {
	Relocatable

	SpeechProjection(mel *tensor.Tensor) ([]float32, error)
}

// CTCModel scores a normalized waveform against transcript labels and
// returns the recognition loss.
type CTCModel interface {
	Relocatable

	Loss(input []float32, labels []int64) (float64, error)
}

// SampleResult pairs one generated waveform with its comparably-resampled
// reference. Both are mono at SampleRate.
type SampleResult struct {
	Generated  []float32
	Reference  []float32
	SampleRate int
}

// Result is the outcome of one evaluation run, averaged across workers.
type Result struct {
	FrechetDistance     float64 `json:"frechet_distance"`
	IntelligibilityLoss float64 `json:"intelligibility_loss"`
}
