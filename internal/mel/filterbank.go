package mel

import (
	"fmt"
	"math"
)

// Slaney mel scale: linear below the 1 kHz break frequency, logarithmic
// above it.
const (
	melBreakHz   = 1000.0
	melLinearSp  = 200.0 / 3.0
	melBreakMels = melBreakHz / melLinearSp
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(f float64) float64 {
	if f < melBreakHz {
		return f / melLinearSp
	}

	return melBreakMels + math.Log(f/melBreakHz)/melLogStep
}

func melToHz(m float64) float64 {
	if m < melBreakMels {
		return m * melLinearSp
	}

	return melBreakHz * math.Exp(melLogStep*(m-melBreakMels))
}

// melFilterbank builds channels triangular filters over nfft/2+1 linear
// frequency bins with Slaney area normalization. Filters are returned as
// [channel][bin] weights.
func melFilterbank(sampleRate, nfft, channels int, fMin, fMax float64) ([][]float64, error) {
	bins := nfft/2 + 1

	fftFreqs := make([]float64, bins)
	for i := range bins {
		fftFreqs[i] = float64(i) * float64(sampleRate) / float64(nfft)
	}

	melMin := hzToMel(fMin)
	melMax := hzToMel(fMax)

	edges := make([]float64, channels+2)
	for i := range edges {
		m := melMin + (melMax-melMin)*float64(i)/float64(channels+1)
		edges[i] = melToHz(m)
	}

	banks := make([][]float64, channels)

	for m := range channels {
		lower, center, upper := edges[m], edges[m+1], edges[m+2]
		if center <= lower || upper <= center {
			return nil, fmt.Errorf("mel: degenerate filter %d with edges [%g, %g, %g]", m, lower, center, upper)
		}

		enorm := 2.0 / (upper - lower)

		bank := make([]float64, bins)
		for k, f := range fftFreqs {
			rising := (f - lower) / (center - lower)
			falling := (upper - f) / (upper - center)

			w := math.Min(rising, falling)
			if w > 0 {
				bank[k] = w * enorm
			}
		}

		banks[m] = bank
	}

	return banks, nil
}
