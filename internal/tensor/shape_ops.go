package tensor

import (
	"errors"
	"fmt"
)

// Transpose swaps dim1 and dim2.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]

	out, err := Zeros(outShape)
	if err != nil {
		return nil, err
	}

	srcStrides := computeStrides(t.shape)
	outStrides := computeStrides(outShape)
	outCoord := make([]int64, rank)
	srcCoord := make([]int64, rank)

	for i := range out.data {
		linearToCoord(int64(i), outShape, outStrides, outCoord)
		copy(srcCoord, outCoord)
		srcCoord[d1], srcCoord[d2] = outCoord[d2], outCoord[d1]
		srcOff := coordToLinear(srcCoord, srcStrides)
		out.data[i] = t.data[srcOff]
	}

	return out, nil
}

// PadEnd appends count zero-valued entries along dim. count of zero returns
// a clone.
func (t *Tensor) PadEnd(dim int, count int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: pad on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: pad: %w", err)
	}

	if count < 0 {
		return nil, fmt.Errorf("tensor: pad count %d must be >= 0", count)
	}

	if count == 0 {
		return t.Clone(), nil
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[dim] += count

	out, err := Zeros(outShape)
	if err != nil {
		return nil, err
	}

	inner := int64(1)
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := int64(1)
	for i := range dim {
		outer *= t.shape[i]
	}

	srcSpan := t.shape[dim] * inner
	dstSpan := outShape[dim] * inner

	for o := range outer {
		copy(out.data[o*dstSpan:o*dstSpan+srcSpan], t.data[o*srcSpan:(o+1)*srcSpan])
	}

	return out, nil
}
