package metrics

import (
	"errors"
	"fmt"
	"math"
)

const (
	jacobiMaxSweeps = 100
	jacobiTolerance = 1e-12
)

// jacobiEigen decomposes a symmetric matrix with the cyclic Jacobi rotation
// method. It returns the eigenvalues and the matching eigenvectors as matrix
// columns. The input is not modified.
func jacobiEigen(sym [][]float64) (vals []float64, vecs [][]float64, err error) {
	n := len(sym)
	if n == 0 {
		return nil, nil, errors.New("metrics: eigen decomposition of empty matrix")
	}

	a := make([][]float64, n)

	for i, row := range sym {
		if len(row) != n {
			return nil, nil, fmt.Errorf("metrics: matrix row %d has %d columns, want %d", i, len(row), n)
		}

		a[i] = append([]float64(nil), row...)
	}

	vecs = identity(n)

	for sweep := 0; sweep < jacobiMaxSweeps; sweep++ {
		if offDiagonalNorm(a) <= jacobiTolerance*frobeniusNorm(a) {
			break
		}

		for p := range n - 1 {
			for q := p + 1; q < n; q++ {
				rotate(a, vecs, p, q)
			}
		}
	}

	if offDiagonalNorm(a) > math.Sqrt(jacobiTolerance)*frobeniusNorm(a) {
		return nil, nil, errors.New("metrics: eigen decomposition did not converge")
	}

	vals = make([]float64, n)
	for i := range n {
		vals[i] = a[i][i]
	}

	return vals, vecs, nil
}

// rotate zeroes a[p][q] with a Givens rotation, updating a symmetrically and
// accumulating the rotation into v.
func rotate(a, v [][]float64, p, q int) {
	apq := a[p][q]
	if apq == 0 {
		return
	}

	theta := (a[q][q] - a[p][p]) / (2 * apq)

	t := 1.0 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
	if theta < 0 {
		t = -t
	}

	c := 1.0 / math.Sqrt(t*t+1)
	s := t * c

	n := len(a)

	for i := range n {
		aip := a[i][p]
		aiq := a[i][q]
		a[i][p] = c*aip - s*aiq
		a[i][q] = s*aip + c*aiq
	}

	for i := range n {
		api := a[p][i]
		aqi := a[q][i]
		a[p][i] = c*api - s*aqi
		a[q][i] = s*api + c*aqi
	}

	for i := range n {
		vip := v[i][p]
		viq := v[i][q]
		v[i][p] = c*vip - s*viq
		v[i][q] = s*vip + c*viq
	}
}

// symmetricSqrt returns the principal square root of a symmetric PSD matrix.
// Small negative eigenvalues from numerical noise are clamped to zero.
func symmetricSqrt(sym [][]float64) ([][]float64, error) {
	vals, vecs, err := jacobiEigen(sym)
	if err != nil {
		return nil, err
	}

	n := len(vals)

	roots := make([]float64, n)
	for i, v := range vals {
		if v > 0 {
			roots[i] = math.Sqrt(v)
		}
	}

	// V diag(sqrt(vals)) V^T
	out := make([][]float64, n)

	for i := range n {
		out[i] = make([]float64, n)
		for j := range n {
			var sum float64
			for k := range n {
				sum += vecs[i][k] * roots[k] * vecs[j][k]
			}

			out[i][j] = sum
		}
	}

	return out, nil
}

func matMul(a, b [][]float64) [][]float64 {
	n := len(a)
	m := len(b[0])
	inner := len(b)

	out := make([][]float64, n)

	for i := range n {
		out[i] = make([]float64, m)
		for k := range inner {
			aik := a[i][k]
			if aik == 0 {
				continue
			}

			row := b[k]
			for j := range m {
				out[i][j] += aik * row[j]
			}
		}
	}

	return out
}

func identity(n int) [][]float64 {
	m := make([][]float64, n)

	for i := range n {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}

	return m
}

func offDiagonalNorm(a [][]float64) float64 {
	var sum float64

	for i := range a {
		for j := range a[i] {
			if i == j {
				continue
			}

			sum += a[i][j] * a[i][j]
		}
	}

	return math.Sqrt(sum)
}

func frobeniusNorm(a [][]float64) float64 {
	var sum float64

	for i := range a {
		for _, v := range a[i] {
			sum += v * v
		}
	}

	if sum == 0 {
		return 1
	}

	return math.Sqrt(sum)
}
