package onnx

import (
	"fmt"
	"math"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is the wire value passed to and from ORT sessions. Unlike the
// compute tensor in internal/tensor it carries a dtype, because graph inputs
// mix float32 activations with int64 code sequences.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	dtype, err := dtypeFromSlice(data)
	if err != nil {
		return nil, err
	}
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
	}
	switch dtype {
	case DTypeFloat32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case DTypeInt64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
	return t, nil
}

// NewZeroTensor builds a zero-filled tensor from a manifest node declaration.
// Symbolic dimensions resolve to 1.
func NewZeroTensor(dtype string, shape []any) (*Tensor, error) {
	canonical, err := canonicalDType(dtype)
	if err != nil {
		return nil, err
	}
	resolvedShape, err := resolveShape(shape)
	if err != nil {
		return nil, err
	}
	count, err := elementCount(resolvedShape)
	if err != nil {
		return nil, err
	}

	switch canonical {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), resolvedShape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), resolvedShape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", canonical)
	}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

func (t *Tensor) Data() any {
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

// ExtractFloat32 returns a copy of the tensor's float32 data.
func ExtractFloat32(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("expected float32 tensor, got nil")
	}
	if t.dtype != DTypeFloat32 {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("float32 tensor has unexpected backing type %T", t.data)
	}
	return append([]float32(nil), data...), nil
}

// ExtractInt64 returns a copy of the tensor's int64 data.
func ExtractInt64(t *Tensor) ([]int64, error) {
	if t == nil {
		return nil, fmt.Errorf("expected int64 tensor, got nil")
	}
	if t.dtype != DTypeInt64 {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("int64 tensor has unexpected backing type %T", t.data)
	}
	return append([]int64(nil), data...), nil
}

func dtypeFromSlice[T ~int64 | ~float32](data []T) (TensorDType, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		return DTypeInt64, nil
	case float32:
		return DTypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported tensor data type %T", zero)
	}
}

func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func resolveShape(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v < 1 || v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not a positive integer", i, v)
			}
			out[i] = int64(v)
		case int:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = int64(v)
		case int64:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = v
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = 1
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}
	return out, nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
