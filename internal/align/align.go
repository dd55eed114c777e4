// Package align implements the length arithmetic used to reconcile discrete
// code sequences with the waveform (or spectrogram) lengths the denoiser is
// asked to produce. Denoiser output lengths must land on a fixed block
// multiple, and every extra output sample implies a proportional share of
// trailing code padding.
package align

// CeilMultiple rounds n up to the next multiple of m. n that is already a
// multiple of m is returned unchanged. m must be positive.
func CeilMultiple(n, m int64) int64 {
	rem := n % m
	if rem == 0 {
		return n
	}

	return n + (m - rem)
}

// Padding computes the padded denoiser output size and the matching number of
// trailing code elements to append. outputSize is the unpadded target length,
// multiple the block size the denoiser requires, and factor the number of
// output samples represented by one code element.
//
// The code padding uses floor division, so when the growth is not an exact
// multiple of factor the padded codes describe slightly less signal than the
// padded output contains. That residual misalignment is intentional and
// callers must not compensate for it.
func Padding(outputSize, multiple, factor int64) (paddedSize, codesPadding int64) {
	paddedSize = CeilMultiple(outputSize, multiple)
	codesPadding = (paddedSize - outputSize) / factor

	return paddedSize, codesPadding
}

// PadCodes returns codes extended with pad trailing zero elements. The input
// slice is never modified. Non-positive pad returns a copy of codes.
func PadCodes(codes []int64, pad int64) []int64 {
	if pad < 0 {
		pad = 0
	}

	out := make([]int64, len(codes)+int(pad))
	copy(out, codes)

	return out
}
