package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/example/go-diffusion-eval/internal/config"
	"github.com/example/go-diffusion-eval/internal/dist"
	"github.com/example/go-diffusion-eval/internal/eval"
	"github.com/example/go-diffusion-eval/internal/history"
	"github.com/example/go-diffusion-eval/internal/model"
	"github.com/example/go-diffusion-eval/internal/onnx"
	"github.com/example/go-diffusion-eval/internal/report"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		format           string
		frechetThreshold float64
		intelThreshold   float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the exported diffusion model against a dataset manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}
			if strings.TrimSpace(cfg.Eval.TSV) == "" {
				return fmt.Errorf("--eval-tsv is required for run")
			}

			diffusionType, err := config.NormalizeDiffusionType(cfg.Eval.DiffusionType)
			if err != nil {
				return err
			}

			start := time.Now()
			outcome, err := runEval(cmd.Context(), cfg, diffusionType)
			if err != nil {
				return err
			}

			row := report.Row{
				Step:                cfg.Eval.Step,
				DiffusionType:       diffusionType,
				Samples:             outcome.Samples,
				FrechetDistance:     outcome.Result.FrechetDistance,
				IntelligibilityLoss: outcome.Result.IntelligibilityLoss,
				Elapsed:             time.Since(start),
				CreatedAt:           start,
			}

			switch format {
			case "json":
				report.FormatJSON([]report.Row{row}, os.Stdout)
			default:
				report.FormatTable([]report.Row{row}, os.Stdout)
			}

			if cfg.Paths.HistoryPath != "" {
				if err := appendHistory(cfg.Paths.HistoryPath, cfg.Eval.WorldSize, row); err != nil {
					return err
				}
			}

			if err := report.CheckThreshold("frechet distance", row.FrechetDistance, frechetThreshold); err != nil {
				return err
			}
			return report.CheckThreshold("intelligibility loss", row.IntelligibilityLoss, intelThreshold)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&frechetThreshold, "frechet-threshold", 0, "Exit non-zero if the Frechet distance exceeds this value (0 = disabled)")
	cmd.Flags().Float64Var(&intelThreshold, "intelligibility-threshold", 0, "Exit non-zero if the intelligibility loss exceeds this value (0 = disabled)")

	return cmd
}

type evalOutcome struct {
	Result  eval.Result
	Samples int
}

// runEval opens the exported bundle once and drives one evaluator per worker
// over it. Sessions are shared; each worker gets its own adapter instances so
// per-run model state never crosses ranks.
func runEval(ctx context.Context, cfg config.Config, diffusionType string) (evalOutcome, error) {
	if cfg.Eval.WorldSize < 1 {
		return evalOutcome{}, fmt.Errorf("--eval-world-size must be at least 1")
	}

	info, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return evalOutcome{}, err
	}

	manifest, err := model.LoadManifest(cfg.Paths.BundlePath)
	if err != nil {
		return evalOutcome{}, err
	}
	if err := manifest.Validate(); err != nil {
		return evalOutcome{}, err
	}

	engine, err := onnx.NewEngine(cfg.Paths.BundlePath, onnx.RunnerConfig{LibraryPath: info.LibraryPath})
	if err != nil {
		return evalOutcome{}, err
	}
	defer engine.Close()

	opts := eval.Options{
		ManifestPath:  cfg.Eval.TSV,
		DiffusionType: diffusionType,
		Device:        cfg.Eval.Device,
		OutputBase:    cfg.Paths.OutputBase,
		Step:          cfg.Eval.Step,
		MelNormsPath:  cfg.Paths.MelNormsPath,
	}

	if cfg.Eval.WorldSize == 1 {
		worker, err := newWorker(engine, manifest.Alignment, cfg, opts, dist.Single(), nil)
		if err != nil {
			return evalOutcome{}, err
		}

		result, err := worker.Run(ctx)
		if err != nil {
			return evalOutcome{}, err
		}

		return evalOutcome{Result: result, Samples: worker.EntriesPerWorker()}, nil
	}

	return runWorkerGroup(ctx, engine, manifest.Alignment, cfg, opts)
}

// runWorkerGroup evaluates all ranks as goroutines of this process, combined
// through an in-process collective. A failing rank cancels the rest instead
// of leaving them blocked in the reduction.
func runWorkerGroup(ctx context.Context, engine *onnx.Engine, alignment int64, cfg config.Config, opts eval.Options) (evalOutcome, error) {
	world := cfg.Eval.WorldSize

	group, err := dist.NewLocalGroup(world)
	if err != nil {
		return evalOutcome{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := make([]*eval.Evaluator, world)
	for rank := range workers {
		top := dist.Topology{Rank: rank, WorldSize: world}

		workers[rank], err = newWorker(engine, alignment, cfg, opts, top, dist.WithContext(ctx, group))
		if err != nil {
			return evalOutcome{}, err
		}
	}

	results := make([]eval.Result, world)
	errs := make([]error, world)

	var wg sync.WaitGroup
	for rank := range workers {
		wg.Add(1)

		go func(rank int) {
			defer wg.Done()

			results[rank], errs[rank] = workers[rank].Run(ctx)
			if errs[rank] != nil {
				cancel()
			}
		}(rank)
	}
	wg.Wait()

	if err := firstWorkerError(errs); err != nil {
		return evalOutcome{}, err
	}

	// Every rank holds the same reduced metrics; report rank 0 with the
	// total entry count evaluated across the group.
	return evalOutcome{
		Result:  results[0],
		Samples: workers[0].EntriesPerWorker() * world,
	}, nil
}

// firstWorkerError surfaces the failure that started a group abort, skipping
// the cancellations it caused in sibling workers.
func firstWorkerError(errs []error) error {
	for rank, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("worker %d: %w", rank, err)
		}
	}

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("worker %d: %w", rank, err)
		}
	}

	return nil
}

// newWorker wires one rank's evaluator from the shared engine.
func newWorker(engine *onnx.Engine, alignment int64, cfg config.Config, opts eval.Options, top dist.Topology, reducer dist.Reducer) (*eval.Evaluator, error) {
	diffusion, err := onnx.NewDiffusionGraph(engine, alignment)
	if err != nil {
		return nil, err
	}

	sampler, err := onnx.NewDenoisingSampler(onnx.SamplerConfig{
		Steps:             cfg.Eval.DiffusionSteps,
		Schedule:          cfg.Eval.DiffusionSchedule,
		ConditioningFree:  cfg.Eval.ConditioningFree,
		ConditioningFreeK: cfg.Eval.ConditioningFreeK,
	})
	if err != nil {
		return nil, err
	}

	codec, err := onnx.NewCodec(engine)
	if err != nil {
		return nil, err
	}

	vocoder, err := onnx.NewVocoder(engine)
	if err != nil {
		return nil, err
	}

	projector, err := onnx.NewProjector(engine)
	if err != nil {
		return nil, err
	}

	recognizer, err := onnx.NewRecognizer(engine)
	if err != nil {
		return nil, err
	}

	return eval.New(opts, eval.Deps{
		Model:     diffusion,
		Sampler:   sampler,
		Codec:     codec,
		Vocoder:   vocoder,
		Projector: projector,
		CTC:       recognizer,
		Topology:  top,
		Reducer:   reducer,
	})
}

func appendHistory(path string, worldSize int, row report.Row) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return store.Append(history.Record{
		Step:                row.Step,
		DiffusionType:       row.DiffusionType,
		Samples:             row.Samples,
		WorldSize:           worldSize,
		FrechetDistance:     row.FrechetDistance,
		IntelligibilityLoss: row.IntelligibilityLoss,
		ElapsedMS:           row.Elapsed.Milliseconds(),
		CreatedAt:           row.CreatedAt,
	})
}
