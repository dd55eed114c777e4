package mel

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range n {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}

	return w
}

// stftMagnitudes computes centered short-time magnitude spectra. The input is
// reflect-padded by half the filter length on both sides, so the result holds
// len(samples)/hop + 1 frames of nfft/2+1 bins each.
func stftMagnitudes(samples []float32, nfft, hop int, window []float64) ([][]float64, error) {
	pad := nfft / 2
	if len(samples) <= pad {
		return nil, fmt.Errorf("mel: input of %d samples is too short for filter length %d", len(samples), nfft)
	}

	padded := reflectPad(samples, pad)
	bins := nfft/2 + 1

	frames := make([][]float64, 0, (len(padded)-nfft)/hop+1)

	for start := 0; start+nfft <= len(padded); start += hop {
		frame := make([]float64, nfft)
		for i := range nfft {
			frame[i] = padded[start+i] * window[i]
		}

		spec := fft.FFTReal(frame)

		mags := make([]float64, bins)
		for i := range bins {
			mags[i] = cmplx.Abs(spec[i])
		}

		frames = append(frames, mags)
	}

	return frames, nil
}

// reflectPad mirrors pad samples around each edge without repeating the edge
// sample itself. len(samples) must exceed pad.
func reflectPad(samples []float32, pad int) []float64 {
	n := len(samples)
	out := make([]float64, n+2*pad)

	for i := range pad {
		out[i] = float64(samples[pad-i])
	}

	for i, s := range samples {
		out[pad+i] = float64(s)
	}

	for i := range pad {
		out[pad+n+i] = float64(samples[n-2-i])
	}

	return out
}
