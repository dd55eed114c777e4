package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Engine holds one runner per manifest graph and dispatches named inference
// calls. Build it with NewEngine for native ORT execution, or with
// NewEngineWithRunners to supply alternate runner implementations.
type Engine struct {
	runners map[string]GraphRunner
}

// NewEngine loads the bundle manifest and opens an ORT session for every
// graph it names. On failure the already-opened sessions are closed.
func NewEngine(manifestPath string, cfg RunnerConfig) (*Engine, error) {
	sm, err := NewSessionManager(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	sessions := sm.Sessions()
	runners := make(map[string]GraphRunner, len(sessions))

	for _, meta := range sessions {
		r, err := NewRunner(meta, cfg)
		if err != nil {
			for _, opened := range runners {
				opened.Close()
			}

			return nil, fmt.Errorf("open engine: graph %q: %w", meta.Name, err)
		}

		runners[meta.Name] = r
	}

	return &Engine{runners: runners}, nil
}

// Has reports whether the engine holds a runner for the named graph.
func (e *Engine) Has(name string) bool {
	_, ok := e.runners[name]

	return ok
}

// Runner returns the named graph runner.
func (e *Engine) Runner(name string) (GraphRunner, bool) {
	r, ok := e.runners[name]

	return r, ok
}

// Close releases every runner. Safe to call multiple times.
func (e *Engine) Close() {
	for _, r := range e.runners {
		r.Close()
	}

	e.runners = nil
}

// run executes the named graph, erroring when the manifest never declared it.
func (e *Engine) run(ctx context.Context, graph string, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	r, ok := e.runners[graph]
	if !ok {
		return nil, fmt.Errorf("%s graph not found in manifest", graph)
	}

	outputs, err := r.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: run: %w", graph, err)
	}

	return outputs, nil
}

func graphOutput(outputs map[string]*Tensor, graph, name string) (*Tensor, error) {
	t, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("%s: missing %q in output", graph, name)
	}

	return t, nil
}

// hostOnly implements the weight relocation contract for a runtime whose
// sessions always execute on the CPU. Embedding it keeps the evaluation's
// device staging protocol intact without pretending to move weights.
type hostOnly struct{}

func (hostOnly) ToDevice(device string) error {
	switch device {
	case "", "cpu":
		return nil
	default:
		return fmt.Errorf("device %q not supported by this runtime", device)
	}
}

func (hostOnly) ToHost() error {
	return nil
}

// wireTensor converts a compute tensor into a float32 wire tensor.
func wireTensor(t *tensor.Tensor) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}

	return NewTensor(t.RawData(), t.Shape())
}

// wireCodes converts a code sequence into a single-batch int64 wire tensor.
func wireCodes(codes []int64) (*Tensor, error) {
	if len(codes) == 0 {
		return nil, errors.New("empty code sequence")
	}

	return NewTensor(codes, []int64{1, int64(len(codes))})
}

// hostTensor converts a float32 wire tensor back into a compute tensor.
func hostTensor(t *Tensor) (*tensor.Tensor, error) {
	data, err := ExtractFloat32(t)
	if err != nil {
		return nil, err
	}

	return tensor.New(data, t.Shape())
}
