package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/dataset"
	"github.com/example/go-diffusion-eval/internal/dist"
	"github.com/example/go-diffusion-eval/internal/mel"
	"github.com/example/go-diffusion-eval/internal/metrics"
)

// univnetChannels is the mel band count of univnet-style norm stats files.
const univnetChannels = 100

// Options configures one evaluation run.
type Options struct {
	// ManifestPath locates the TSV of (transcript, audio path, codes).
	ManifestPath string

	// DiffusionType selects the sampling strategy.
	DiffusionType string

	// Device is the compute device auxiliary models are staged on.
	Device string

	// OutputBase anchors the audio output directory. Waveforms land under
	// OutputBase/../audio_eval/<Step>/.
	OutputBase string

	// Step namespaces the output directory, typically the training step of
	// the checkpoint under evaluation.
	Step int

	// MelNormsPath optionally locates univnet mel norm stats (safetensors).
	// Only the tts9_mel strategy consumes them.
	MelNormsPath string
}

// Deps bundles the external collaborators of a run. Model, Sampler,
// Projector and CTC are always required; Codec and Vocoder only for the
// strategies that use them.
type Deps struct {
	Model     DiffusionModel
	Sampler   Sampler
	Codec     SpeechCodec
	Vocoder   Vocoder
	Projector Projector
	CTC       CTCModel

	Topology dist.Topology
	Reducer  dist.Reducer

	// Source is the generator whose state is scoped around the run. A
	// private source is created when nil.
	Source *rand.PCG
}

// Evaluator runs the full evaluation loop over one dataset manifest.
type Evaluator struct {
	opts     Options
	deps     Deps
	data     []dataset.Entry
	strategy Strategy
	tacotron *mel.Converter
	reducer  dist.Reducer
	source   *rand.PCG
	skip     int
}

// New validates the configuration and dependencies and prepares a run.
// Misconfiguration, an unreadable manifest, and an unrecognized diffusion
// type all fail here, before any model is invoked.
func New(opts Options, deps Deps) (*Evaluator, error) {
	if opts.ManifestPath == "" {
		return nil, errors.New("eval: manifest path is required")
	}

	if opts.OutputBase == "" {
		return nil, errors.New("eval: output base path is required")
	}

	if opts.Step < 0 {
		return nil, fmt.Errorf("eval: step %d must be >= 0", opts.Step)
	}

	if deps.Model == nil {
		return nil, errors.New("eval: diffusion model is required")
	}

	if deps.Sampler == nil {
		return nil, errors.New("eval: sampler is required")
	}

	if deps.Projector == nil {
		return nil, errors.New("eval: projector is required")
	}

	if deps.CTC == nil {
		return nil, errors.New("eval: recognition model is required")
	}

	if err := deps.Topology.Validate(); err != nil {
		return nil, err
	}

	if deps.Reducer == nil {
		if deps.Topology.WorldSize > 1 {
			return nil, errors.New("eval: multi-worker topology requires a reducer")
		}

		deps.Reducer = dist.NoopReducer{}
	}

	data, err := dataset.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	var norms *mel.Stats
	if opts.MelNormsPath != "" && opts.DiffusionType == DiffusionTTS9Mel {
		norms, err = mel.LoadStats(opts.MelNormsPath, univnetChannels)
		if err != nil {
			return nil, err
		}
	}

	strategy, err := newStrategy(opts.DiffusionType, deps, norms)
	if err != nil {
		return nil, err
	}

	tacotron, err := mel.NewConverter(mel.TacotronConfig(nil))
	if err != nil {
		return nil, err
	}

	if opts.Device == "" {
		opts.Device = "cpu"
	}

	source := deps.Source
	if source == nil {
		source = rand.NewPCG(0, 0)
	}

	return &Evaluator{
		opts:     opts,
		deps:     deps,
		data:     data,
		strategy: strategy,
		tacotron: tacotron,
		reducer:  deps.Reducer,
		source:   source,
		skip:     deps.Topology.WorldSize,
	}, nil
}

// EntriesPerWorker reports how many dataset entries each worker evaluates.
func (e *Evaluator) EntriesPerWorker() int {
	return len(e.data) / e.skip
}

// OutputDir is the directory generated and reference waveforms are written
// to.
func (e *Evaluator) OutputDir() string {
	return filepath.Join(e.opts.OutputBase, "..", "audio_eval", strconv.Itoa(e.opts.Step))
}

// Run executes the evaluation loop and returns the cross-worker metrics.
// Any stage failure aborts the run; waveforms already written stay on disk.
// The generator state, the model's training mode, and auxiliary model
// placement are restored on every exit path.
func (e *Evaluator) Run(ctx context.Context) (Result, error) {
	outDir := e.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("eval: create output dir: %w", err)
	}

	staged, err := e.stageAuxiliaries()
	if err != nil {
		return Result{}, err
	}
	defer unstageAuxiliaries(staged)

	scope, err := seedScoped(e.source, evalSeed)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := scope.Restore(); err != nil {
			slog.Warn("rng state not restored", "error", err)
		}
	}()

	e.deps.Model.SetTraining(false)
	defer e.deps.Model.SetTraining(true)

	rng := rand.New(e.source)

	count := e.EntriesPerWorker()
	if dropped := len(e.data) % e.skip; dropped != 0 {
		slog.Warn("dropping ragged dataset tail so workers run equal iteration counts",
			"dropped", dropped, "workers", e.skip)
	}

	rank := e.deps.Topology.Rank
	genProj := make([][]float32, 0, count)
	realProj := make([][]float32, 0, count)
	gaps := make([]float64, 0, count)

	slog.Info("evaluation started",
		"strategy", e.strategy.Name(), "entries", count, "rank", rank, "world_size", e.skip)

	for n := 0; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		i := n * e.skip
		entry := e.data[i+rank]

		wave, err := audio.Load(entry.AudioPath, DatasetSampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("eval: entry %d: %w", i+rank, err)
		}

		sampled, err := e.strategy.Sample(ctx, wave, entry.Codes, entry.Text, rng)
		if err != nil {
			return Result{}, fmt.Errorf("eval: entry %d: %w", i+rank, err)
		}

		gen, err := ProjectEmbedding(e.deps.Projector, e.tacotron, sampled.Generated, sampled.SampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("eval: entry %d: %w", i+rank, err)
		}

		ref, err := ProjectEmbedding(e.deps.Projector, e.tacotron, sampled.Reference, sampled.SampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("eval: entry %d: %w", i+rank, err)
		}

		gap, err := IntelligibilityGap(e.deps.CTC, sampled.Generated, sampled.Reference, sampled.SampleRate, entry.Text)
		if err != nil {
			return Result{}, fmt.Errorf("eval: entry %d: %w", i+rank, err)
		}

		genProj = append(genProj, gen)
		realProj = append(realProj, ref)
		gaps = append(gaps, gap)

		if err := e.persistPair(outDir, i, sampled); err != nil {
			return Result{}, err
		}

		slog.Debug("entry evaluated", "index", i+rank, "sample_rate", sampled.SampleRate, "gap", gap)
	}

	if len(genProj) < 2 {
		return Result{}, fmt.Errorf("eval: %d entries per worker, need at least 2 for covariance statistics", len(genProj))
	}

	frechet, err := metrics.FrechetDistance(genProj, realProj)
	if err != nil {
		return Result{}, err
	}

	reduced, err := e.reducer.AllReduceSum([]float64{frechet, metrics.Mean(gaps)})
	if err != nil {
		return Result{}, err
	}

	world := float64(e.deps.Topology.WorldSize)
	result := Result{
		FrechetDistance:     reduced[0] / world,
		IntelligibilityLoss: reduced[1] / world,
	}

	slog.Info("evaluation complete",
		"frechet_distance", result.FrechetDistance,
		"intelligibility_loss", result.IntelligibilityLoss,
		"entries", count)

	return result, nil
}

// persistPair writes the generated and reference waveforms of one entry,
// keyed by worker rank and dataset index.
func (e *Evaluator) persistPair(dir string, index int, s SampleResult) error {
	rank := e.deps.Topology.Rank

	gen, err := audio.EncodeWAV(s.Generated, s.SampleRate)
	if err != nil {
		return fmt.Errorf("eval: encode generated wav: %w", err)
	}

	genPath := filepath.Join(dir, fmt.Sprintf("%d_%d_gen.wav", rank, index))
	if err := os.WriteFile(genPath, gen, 0o644); err != nil {
		return fmt.Errorf("eval: write %s: %w", genPath, err)
	}

	ref, err := audio.EncodeWAV(s.Reference, s.SampleRate)
	if err != nil {
		return fmt.Errorf("eval: encode reference wav: %w", err)
	}

	refPath := filepath.Join(dir, fmt.Sprintf("%d_%d_real.wav", rank, index))
	if err := os.WriteFile(refPath, ref, 0o644); err != nil {
		return fmt.Errorf("eval: write %s: %w", refPath, err)
	}

	return nil
}

type stagedModel struct {
	name  string
	model Relocatable
}

// auxiliaries lists the helper models the run stages on the compute device.
// The model under evaluation is assumed to be placed by the caller.
func (e *Evaluator) auxiliaries() []stagedModel {
	aux := []stagedModel{
		{name: "projector", model: e.deps.Projector},
		{name: "recognition", model: e.deps.CTC},
	}

	if e.deps.Codec != nil {
		aux = append(aux, stagedModel{name: "codec", model: e.deps.Codec})
	}

	if e.deps.Vocoder != nil {
		aux = append(aux, stagedModel{name: "vocoder", model: e.deps.Vocoder})
	}

	return aux
}

func (e *Evaluator) stageAuxiliaries() ([]stagedModel, error) {
	aux := e.auxiliaries()

	for i, a := range aux {
		if err := a.model.ToDevice(e.opts.Device); err != nil {
			unstageAuxiliaries(aux[:i])
			return nil, fmt.Errorf("eval: stage %s on %s: %w", a.name, e.opts.Device, err)
		}
	}

	return aux, nil
}

func unstageAuxiliaries(staged []stagedModel) {
	for _, a := range staged {
		if err := a.model.ToHost(); err != nil {
			slog.Warn("auxiliary model not moved back to host", "model", a.name, "error", err)
		}
	}
}
