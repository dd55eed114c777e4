package audio

import (
	"fmt"
	"os"
)

// Load reads a WAV file, reduces it to mono, resamples it to targetRate and
// clamps it to [-1, 1]. Samples far outside that range indicate a broken
// file and fail the load.
func Load(path string, targetRate int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if rate != targetRate {
		samples, err = Resample(samples, rate, targetRate)
		if err != nil {
			return nil, fmt.Errorf("resampling %s: %w", path, err)
		}
	}

	for i, s := range samples {
		if s > 2 || s < -2 {
			return nil, fmt.Errorf("loading %s: sample %d out of range (%f)", path, i, s)
		}

		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}

	return samples, nil
}
