package audio

import (
	"fmt"
	"math"
)

// Polyphase windowed-sinc resampling parameters. Six zero crossings per side
// with a squared-cosine window and a 0.99 rolloff keep aliasing below the
// 16-bit noise floor for the rate pairs this package converts between.
const (
	lowpassFilterWidth = 6
	resampleRolloff    = 0.99
)

// Resample converts samples from fromRate to toRate with polyphase
// windowed-sinc interpolation. Equal rates return a copy.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate < 1 || toRate < 1 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", fromRate, toRate)
	}

	if fromRate == toRate {
		return append([]float32(nil), samples...), nil
	}

	g := gcd(fromRate, toRate)
	orig := fromRate / g
	next := toRate / g

	kernels, width := sincKernels(orig, next)

	inLen := len(samples)
	outLen := int((int64(inLen)*int64(next) + int64(orig) - 1) / int64(orig))
	out := make([]float32, outLen)

	for i := range outLen {
		block := i / next
		kernel := kernels[i%next]

		var acc float64

		for j, kv := range kernel {
			src := block*orig + j - width
			if src < 0 || src >= inLen {
				continue
			}

			acc += kv * float64(samples[src])
		}

		out[i] = float32(acc)
	}

	return out, nil
}

// sincKernels builds one filter per output phase. Phase p of output block b
// samples the input at position b*orig + taps offset by width.
func sincKernels(orig, next int) (kernels [][]float64, width int) {
	base := float64(min(orig, next)) * resampleRolloff
	width = int(math.Ceil(lowpassFilterWidth * float64(orig) / base))
	taps := 2*width + orig

	kernels = make([][]float64, next)

	for phase := range next {
		k := make([]float64, taps)

		for j := range taps {
			idx := float64(j - width)

			t := (-float64(phase)/float64(next) + idx/float64(orig)) * base
			if t < -lowpassFilterWidth {
				t = -lowpassFilterWidth
			}
			if t > lowpassFilterWidth {
				t = lowpassFilterWidth
			}

			w := math.Cos(t * math.Pi / lowpassFilterWidth / 2)
			w *= w

			s := 1.0
			if t != 0 {
				x := math.Pi * t
				s = math.Sin(x) / x
			}

			k[j] = s * w * base / float64(orig)
		}

		kernels[phase] = k
	}

	return kernels, width
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
