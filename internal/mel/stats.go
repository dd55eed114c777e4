package mel

import (
	"fmt"
	"math"

	"github.com/example/go-diffusion-eval/internal/safetensors"
	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Stats tensor names inside a mel statistics file.
const (
	statsMeansName = "means"
	statsStdsName  = "stds"
	statsVarsName  = "vars"
	statsMaxName   = "max"
	statsMinName   = "min"
)

// Stats holds corpus-level mel statistics: per-channel mean, standard
// deviation and variance plus the global value range.
type Stats struct {
	Means []float32
	Stds  []float32
	Vars  []float32
	Max   float32
	Min   float32
}

// LoadStats reads mel statistics for the given channel count from a
// safetensors file.
func LoadStats(path string, channels int) (*Stats, error) {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	shape := []int64{int64(channels)}

	means, err := store.TensorWithShape(statsMeansName, shape)
	if err != nil {
		return nil, err
	}

	stds, err := store.TensorWithShape(statsStdsName, shape)
	if err != nil {
		return nil, err
	}

	vars, err := store.TensorWithShape(statsVarsName, shape)
	if err != nil {
		return nil, err
	}

	maxT, err := store.TensorWithShape(statsMaxName, []int64{1})
	if err != nil {
		return nil, err
	}

	minT, err := store.TensorWithShape(statsMinName, []int64{1})
	if err != nil {
		return nil, err
	}

	for i, s := range stds.Data {
		if s <= 0 || math.IsNaN(float64(s)) {
			return nil, fmt.Errorf("mel: stats channel %d has invalid std %v", i, s)
		}
	}

	return &Stats{
		Means: means.Data,
		Stds:  stds.Data,
		Vars:  vars.Data,
		Max:   maxT.Data[0],
		Min:   minT.Data[0],
	}, nil
}

// Normalize standardizes a [1, channels, frames] mel against the corpus
// statistics.
func (s *Stats) Normalize(m *tensor.Tensor) (*tensor.Tensor, error) {
	shape := m.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("mel: normalize expects shape [1, channels, frames], got %v", shape)
	}

	channels := int(shape[1])
	if channels != len(s.Means) {
		return nil, fmt.Errorf("mel: normalize got %d channels, stats have %d", channels, len(s.Means))
	}

	frames := int(shape[2])

	data := m.Data()
	for c := range channels {
		mean := s.Means[c]
		inv := 1 / s.Stds[c]

		row := data[c*frames : (c+1)*frames]
		for i, v := range row {
			row[i] = (v - mean) * inv
		}
	}

	return tensor.New(data, shape)
}

// LoadChannelNorms reads the per-channel mel norm divisors used by the
// tacotron pipeline. The file holds a single [channels] tensor.
func LoadChannelNorms(path string, channels int) ([]float32, error) {
	t, err := safetensors.LoadFirstTensor(path)
	if err != nil {
		return nil, err
	}

	if len(t.Data) != channels {
		return nil, fmt.Errorf("mel: channel norms file holds %d values, want %d", len(t.Data), channels)
	}

	for i, v := range t.Data {
		if v == 0 {
			return nil, fmt.Errorf("mel: channel norm %d is zero", i)
		}
	}

	return t.Data, nil
}
