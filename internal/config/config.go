package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Eval     EvalConfig    `mapstructure:"eval"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	BundlePath   string `mapstructure:"bundle_path"`
	OutputBase   string `mapstructure:"output_base"`
	MelNormsPath string `mapstructure:"mel_norms_path"`
	HistoryPath  string `mapstructure:"history_path"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type EvalConfig struct {
	TSV               string  `mapstructure:"tsv"`
	DiffusionType     string  `mapstructure:"diffusion_type"`
	DiffusionSteps    int     `mapstructure:"diffusion_steps"`
	DiffusionSchedule string  `mapstructure:"diffusion_schedule"`
	ConditioningFree  bool    `mapstructure:"conditioning_free"`
	ConditioningFreeK float64 `mapstructure:"conditioning_free_k"`
	Step              int     `mapstructure:"step"`
	WorldSize         int     `mapstructure:"world_size"`
	Device            string  `mapstructure:"device"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			BundlePath:   "models/eval_bundle.json",
			OutputBase:   "results/run",
			MelNormsPath: "",
			HistoryPath:  "",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
		},
		Eval: EvalConfig{
			TSV:               "",
			DiffusionType:     DiffusionTTS,
			DiffusionSteps:    50,
			DiffusionSchedule: "cosine",
			ConditioningFree:  false,
			ConditioningFreeK: 1,
			Step:              0,
			WorldSize:         1,
			Device:            "cpu",
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-bundle-path", defaults.Paths.BundlePath, "Path to ONNX eval bundle manifest")
	fs.String("paths-output-base", defaults.Paths.OutputBase, "Base path anchoring the audio_eval output directory")
	fs.String("paths-mel-norms-path", defaults.Paths.MelNormsPath, "Path to univnet mel norm stats (safetensors)")
	fs.String("paths-history-path", defaults.Paths.HistoryPath, "Path to the sqlite run history (empty disables recording)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("eval-tsv", defaults.Eval.TSV, "Path to the evaluation TSV manifest")
	fs.String("eval-diffusion-type", defaults.Eval.DiffusionType, "Sampling strategy (tts|original_vocoder|vocoder|tts9_mel)")
	fs.Int("eval-diffusion-steps", defaults.Eval.DiffusionSteps, "Reverse diffusion step count (must match the exported schedule)")
	fs.String("eval-diffusion-schedule", defaults.Eval.DiffusionSchedule, "Noise schedule of the exported denoiser (linear|cosine)")
	fs.Bool("eval-conditioning-free", defaults.Eval.ConditioningFree, "Enable conditioning-free guidance")
	fs.Float64("eval-conditioning-free-k", defaults.Eval.ConditioningFreeK, "Conditioning-free guidance strength")
	fs.Int("eval-step", defaults.Eval.Step, "Training step namespacing the output directory")
	fs.Int("eval-world-size", defaults.Eval.WorldSize, "Data-parallel evaluation worker count")
	fs.String("eval-device", defaults.Eval.Device, "Compute device auxiliary models are staged on")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("DIFFEVAL")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "DIFFEVAL_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("diffeval")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.bundle_path", c.Paths.BundlePath)
	v.SetDefault("paths.output_base", c.Paths.OutputBase)
	v.SetDefault("paths.mel_norms_path", c.Paths.MelNormsPath)
	v.SetDefault("paths.history_path", c.Paths.HistoryPath)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("eval.tsv", c.Eval.TSV)
	v.SetDefault("eval.diffusion_type", c.Eval.DiffusionType)
	v.SetDefault("eval.diffusion_steps", c.Eval.DiffusionSteps)
	v.SetDefault("eval.diffusion_schedule", c.Eval.DiffusionSchedule)
	v.SetDefault("eval.conditioning_free", c.Eval.ConditioningFree)
	v.SetDefault("eval.conditioning_free_k", c.Eval.ConditioningFreeK)
	v.SetDefault("eval.step", c.Eval.Step)
	v.SetDefault("eval.world_size", c.Eval.WorldSize)
	v.SetDefault("eval.device", c.Eval.Device)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.bundle_path", "paths-bundle-path")
	v.RegisterAlias("paths.output_base", "paths-output-base")
	v.RegisterAlias("paths.mel_norms_path", "paths-mel-norms-path")
	v.RegisterAlias("paths.history_path", "paths-history-path")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("eval.tsv", "eval-tsv")
	v.RegisterAlias("eval.diffusion_type", "eval-diffusion-type")
	v.RegisterAlias("eval.diffusion_steps", "eval-diffusion-steps")
	v.RegisterAlias("eval.diffusion_schedule", "eval-diffusion-schedule")
	v.RegisterAlias("eval.conditioning_free", "eval-conditioning-free")
	v.RegisterAlias("eval.conditioning_free_k", "eval-conditioning-free-k")
	v.RegisterAlias("eval.step", "eval-step")
	v.RegisterAlias("eval.world_size", "eval-world-size")
	v.RegisterAlias("eval.device", "eval-device")
	v.RegisterAlias("log_level", "log-level")
}
