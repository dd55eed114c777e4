// Package metrics scores generated speech against reference recordings. The
// distributional similarity between the two embedding sets is the Fréchet
// distance of the Gaussians fitted to each set.
package metrics

import (
	"errors"
	"fmt"
	"math"
)

// covarianceEps is added to both covariance diagonals when the matrix square
// root of the product fails to produce a finite trace.
const covarianceEps = 1e-6

// Mean returns the arithmetic mean of xs. An empty slice yields zero.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	var sum float64
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

// GaussianStats fits a Gaussian to the sample rows: the per-column mean and
// the unbiased covariance matrix (columns are variables, rows observations).
// At least two samples are required.
func GaussianStats(samples [][]float64) (mu []float64, cov [][]float64, err error) {
	n := len(samples)
	if n < 2 {
		return nil, nil, fmt.Errorf("metrics: covariance needs at least 2 samples, got %d", n)
	}

	dim := len(samples[0])
	if dim == 0 {
		return nil, nil, errors.New("metrics: samples have zero dimension")
	}

	for i, row := range samples {
		if len(row) != dim {
			return nil, nil, fmt.Errorf("metrics: sample %d has dimension %d, want %d", i, len(row), dim)
		}
	}

	mu = make([]float64, dim)

	for _, row := range samples {
		for j, v := range row {
			mu[j] += v
		}
	}

	for j := range mu {
		mu[j] /= float64(n)
	}

	cov = make([][]float64, dim)
	for j := range cov {
		cov[j] = make([]float64, dim)
	}

	centered := make([]float64, dim)

	for _, row := range samples {
		for j := range centered {
			centered[j] = row[j] - mu[j]
		}

		for j := range dim {
			cj := centered[j]
			for k := j; k < dim; k++ {
				cov[j][k] += cj * centered[k]
			}
		}
	}

	norm := 1.0 / float64(n-1)

	for j := range dim {
		for k := j; k < dim; k++ {
			cov[j][k] *= norm
			cov[k][j] = cov[j][k]
		}
	}

	return mu, cov, nil
}

// FrechetDistance computes the Fréchet distance between the Gaussians fitted
// to the two embedding sets:
//
//	||mu_a - mu_b||^2 + tr(S_a + S_b - 2 sqrtm(S_a S_b))
//
// Both sets need at least two embeddings of the same dimension.
func FrechetDistance(a, b [][]float32) (float64, error) {
	muA, covA, err := GaussianStats(toFloat64(a))
	if err != nil {
		return 0, fmt.Errorf("metrics: first set: %w", err)
	}

	muB, covB, err := GaussianStats(toFloat64(b))
	if err != nil {
		return 0, fmt.Errorf("metrics: second set: %w", err)
	}

	if len(muA) != len(muB) {
		return 0, fmt.Errorf("metrics: embedding dimensions differ: %d vs %d", len(muA), len(muB))
	}

	var meanDist float64

	for i := range muA {
		d := muA[i] - muB[i]
		meanDist += d * d
	}

	trSqrt, err := traceSqrtProduct(covA, covB)
	if err != nil || !isFinite(trSqrt) {
		// Singular covariances: retry on slightly regularized matrices.
		addDiag(covA, covarianceEps)
		addDiag(covB, covarianceEps)

		trSqrt, err = traceSqrtProduct(covA, covB)
		if err != nil {
			return 0, err
		}
	}

	if !isFinite(trSqrt) {
		return 0, errors.New("metrics: matrix square root did not produce a finite trace")
	}

	return meanDist + trace(covA) + trace(covB) - 2*trSqrt, nil
}

// traceSqrtProduct returns tr(sqrtm(s1 s2)). The product of two symmetric
// PSD matrices is not symmetric, so the trace is taken over the similar
// symmetric matrix sqrtm(s2)^T s1 sqrtm(s2), which shares its eigenvalues.
func traceSqrtProduct(s1, s2 [][]float64) (float64, error) {
	rootB, err := symmetricSqrt(s2)
	if err != nil {
		return 0, err
	}

	inner := matMul(matMul(rootB, s1), rootB)

	vals, _, err := jacobiEigen(inner)
	if err != nil {
		return 0, err
	}

	var tr float64

	for _, v := range vals {
		if v > 0 {
			tr += math.Sqrt(v)
		}
	}

	return tr, nil
}

func toFloat64(rows [][]float32) [][]float64 {
	out := make([][]float64, len(rows))

	for i, row := range rows {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = float64(v)
		}
	}

	return out
}

func trace(m [][]float64) float64 {
	var tr float64
	for i := range m {
		tr += m[i][i]
	}

	return tr
}

func addDiag(m [][]float64, eps float64) {
	for i := range m {
		m[i][i] += eps
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
