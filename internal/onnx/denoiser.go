package onnx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"

	"github.com/example/go-diffusion-eval/internal/eval"
	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Noise schedule names a bundle can be exported with.
const (
	ScheduleLinear = "linear"
	ScheduleCosine = "cosine"
)

// DiffusionGraph is the denoiser under evaluation. The exported graph
// performs a single reverse-diffusion step; DenoisingSampler drives the loop.
type DiffusionGraph struct {
	hostOnly

	engine    *Engine
	alignment int64
	training  bool
}

// NewDiffusionGraph wraps the denoiser graph of an opened engine. alignment
// is the output stride the model requires, 0 when it declares none.
func NewDiffusionGraph(engine *Engine, alignment int64) (*DiffusionGraph, error) {
	if engine == nil {
		return nil, errors.New("denoiser: engine is required")
	}
	if !engine.Has(GraphDenoiser) {
		return nil, errors.New("denoiser graph not found in manifest")
	}
	if alignment < 0 {
		return nil, fmt.Errorf("denoiser: alignment size %d is negative", alignment)
	}

	return &DiffusionGraph{engine: engine, alignment: alignment}, nil
}

func (g *DiffusionGraph) AlignmentSize() (int64, bool) {
	return g.alignment, g.alignment > 0
}

// SetTraining records the requested mode. Exported graphs are inference-only,
// so the flag never changes how the graph executes.
func (g *DiffusionGraph) SetTraining(train bool) {
	g.training = train
}

// Training reports the last recorded mode.
func (g *DiffusionGraph) Training() bool {
	return g.training
}

// SamplerConfig holds the reverse-diffusion loop parameters. Steps must
// match the schedule length the bundle's denoiser graph was exported with;
// Schedule names that exported noise schedule. When ConditioningFree is set,
// the guidance weight is passed to the graph as conditioning_free_k.
type SamplerConfig struct {
	Steps             int
	Schedule          string
	ConditioningFree  bool
	ConditioningFreeK float64
}

// DenoisingSampler drives the reverse-diffusion loop against a denoiser
// graph. Per step the graph receives the current sample "x", the schedule
// index "timestep" and the conditioning inputs, and returns the posterior
// "mean" and "log_variance". Noise is drawn host-side from the evaluation
// generator, so a run is reproducible for a fixed seed.
type DenoisingSampler struct {
	cfg SamplerConfig
}

func NewDenoisingSampler(cfg SamplerConfig) (*DenoisingSampler, error) {
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("sampler: %d steps, want >= 1", cfg.Steps)
	}

	switch cfg.Schedule {
	case ScheduleLinear, ScheduleCosine:
	default:
		return nil, fmt.Errorf("sampler: unknown noise schedule %q (want %s or %s)", cfg.Schedule, ScheduleLinear, ScheduleCosine)
	}

	if cfg.ConditioningFree && cfg.ConditioningFreeK <= 0 {
		return nil, fmt.Errorf("sampler: conditioning-free guidance weight %v, want > 0", cfg.ConditioningFreeK)
	}

	return &DenoisingSampler{cfg: cfg}, nil
}

// PSampleLoop samples one output of the requested shape, starting from pure
// Gaussian noise and walking the schedule from the last step down to zero.
// The final step takes the posterior mean without added noise.
func (s *DenoisingSampler) PSampleLoop(ctx context.Context, model eval.DiffusionModel, shape eval.OutputShape, cond eval.Conditioning, rng *rand.Rand) (*tensor.Tensor, error) {
	g, ok := model.(*DiffusionGraph)
	if !ok {
		return nil, fmt.Errorf("sampler: model %T is not an ONNX diffusion graph", model)
	}

	dims := shape.Dims()
	count, err := elementCount(dims)
	if err != nil {
		return nil, fmt.Errorf("sampler: output shape: %w", err)
	}

	base, err := conditioningInputs(cond)
	if err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}

	if s.cfg.ConditioningFree {
		k, err := NewTensor([]float32{float32(s.cfg.ConditioningFreeK)}, []int64{1})
		if err != nil {
			return nil, fmt.Errorf("sampler: guidance weight: %w", err)
		}

		base["conditioning_free_k"] = k
	}

	x := make([]float32, count)
	for i := range x {
		x[i] = float32(rng.NormFloat64())
	}

	for step := s.cfg.Steps - 1; step >= 0; step-- {
		inputs := make(map[string]*Tensor, len(base)+2)
		maps.Copy(inputs, base)

		xT, err := NewTensor(x, dims)
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: %w", step, err)
		}

		tT, err := NewTensor([]int64{int64(step)}, []int64{1})
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: %w", step, err)
		}

		inputs["x"] = xT
		inputs["timestep"] = tT

		outputs, err := g.engine.run(ctx, GraphDenoiser, inputs)
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: %w", step, err)
		}

		meanT, err := graphOutput(outputs, GraphDenoiser, "mean")
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: %w", step, err)
		}

		mean, err := ExtractFloat32(meanT)
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: mean: %w", step, err)
		}

		if len(mean) != count {
			return nil, fmt.Errorf("sampler: step %d: mean has %d values, want %d", step, len(mean), count)
		}

		if step == 0 {
			x = mean
			break
		}

		logVarT, err := graphOutput(outputs, GraphDenoiser, "log_variance")
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: %w", step, err)
		}

		logVar, err := ExtractFloat32(logVarT)
		if err != nil {
			return nil, fmt.Errorf("sampler: step %d: log_variance: %w", step, err)
		}

		if len(logVar) != count {
			return nil, fmt.Errorf("sampler: step %d: log_variance has %d values, want %d", step, len(logVar), count)
		}

		for i := range x {
			sigma := float32(math.Exp(0.5 * float64(logVar[i])))
			x[i] = mean[i] + sigma*float32(rng.NormFloat64())
		}
	}

	return tensor.New(x, dims)
}

// conditioningInputs maps the set Conditioning fields to graph input names.
// The exported denoiser of each diffusion variant declares exactly the
// inputs its strategy fills in.
func conditioningInputs(cond eval.Conditioning) (map[string]*Tensor, error) {
	inputs := make(map[string]*Tensor)

	if len(cond.Tokens) > 0 {
		t, err := wireCodes(cond.Tokens)
		if err != nil {
			return nil, fmt.Errorf("tokens: %w", err)
		}

		inputs["tokens"] = t
	}

	if len(cond.AlignedConditioning) > 0 {
		t, err := wireCodes(cond.AlignedConditioning)
		if err != nil {
			return nil, fmt.Errorf("aligned_conditioning: %w", err)
		}

		inputs["aligned_conditioning"] = t
	}

	if len(cond.UnalignedInput) > 0 {
		t, err := wireCodes(cond.UnalignedInput)
		if err != nil {
			return nil, fmt.Errorf("unaligned_input: %w", err)
		}

		inputs["unaligned_input"] = t
	}

	if cond.Spectrogram != nil {
		t, err := wireTensor(cond.Spectrogram)
		if err != nil {
			return nil, fmt.Errorf("spectrogram: %w", err)
		}

		inputs["spectrogram"] = t
	}

	if cond.ConditioningInput != nil {
		t, err := wireTensor(cond.ConditioningInput)
		if err != nil {
			return nil, fmt.Errorf("conditioning_input: %w", err)
		}

		inputs["conditioning_input"] = t
	}

	if len(inputs) == 0 {
		return nil, errors.New("conditioning is empty")
	}

	return inputs, nil
}
