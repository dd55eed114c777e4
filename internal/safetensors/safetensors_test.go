package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeOpenRoundTrip(t *testing.T) {
	data, err := EncodeTensors([]Tensor{
		{Name: "means", Shape: []int64{4}, Data: []float32{1, 2, 3, 4}},
		{Name: "max", Shape: []int64{1}, Data: []float32{2.5}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	store, err := OpenStoreFromBytes(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if !store.Has("means") || !store.Has("max") {
		t.Fatalf("missing tensors, names = %v", store.Names())
	}

	means, err := store.TensorWithShape("means", []int64{4})
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	for i, want := range []float32{1, 2, 3, 4} {
		if means.Data[i] != want {
			t.Fatalf("means[%d] = %v, want %v", i, means.Data[i], want)
		}
	}

	if _, err := store.TensorWithShape("max", []int64{2}); err == nil {
		t.Fatalf("expected shape mismatch error")
	}

	if _, err := store.Tensor("absent"); err == nil {
		t.Fatalf("expected missing tensor error")
	}
}

func TestWriteFileAndLoadFirstTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.safetensors")

	err := WriteFile(path, []Tensor{
		{Name: "b_second", Shape: []int64{2}, Data: []float32{5, 6}},
		{Name: "a_first", Shape: []int64{1}, Data: []float32{9}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadFirstTensor(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Names are ordered, so the first tensor is a_first.
	if got.Name != "a_first" || got.Data[0] != 9 {
		t.Fatalf("first tensor = %q %v, want a_first [9]", got.Name, got.Data)
	}
}

func TestOpenStoreRejectsTruncatedData(t *testing.T) {
	data, err := EncodeTensors([]Tensor{
		{Name: "x", Shape: []int64{4}, Data: []float32{1, 2, 3, 4}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := OpenStoreFromBytes(data[:len(data)-8]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}

	if _, err := OpenStoreFromBytes(data[:4]); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestDecodeHalfPrecision(t *testing.T) {
	// Hand-built file holding one F16 tensor with the values {1.0, -2.0}.
	header := map[string]storeHeaderEntry{
		"h": {DType: "F16", Shape: []int64{2}, Offsets: [2]int{0, 4}},
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	payload := make([]byte, 0, 8+len(headerJSON)+4)
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, uint64(len(headerJSON)))
	payload = append(payload, lenPrefix...)
	payload = append(payload, headerJSON...)

	const (
		f16One    = 0x3c00
		f16NegTwo = 0xc000
	)

	h := make([]byte, 4)
	binary.LittleEndian.PutUint16(h[0:], f16One)
	binary.LittleEndian.PutUint16(h[2:], f16NegTwo)
	payload = append(payload, h...)

	got, err := LoadFirstTensorFromBytes(payload)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.Data[0] != 1 || got.Data[1] != -2 {
		t.Fatalf("data = %v, want [1 -2]", got.Data)
	}
}

func TestFloat16Conversion(t *testing.T) {
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x0001, float32(math.Pow(2, -24))}, // smallest subnormal
	}

	for _, tc := range cases {
		if got := float16ToFloat32(tc.bits); got != tc.want {
			t.Fatalf("float16ToFloat32(%#x) = %v, want %v", tc.bits, got, tc.want)
		}
	}
}

func TestOpenStoreFromFileErrors(t *testing.T) {
	if _, err := OpenStore(filepath.Join(t.TempDir(), "missing.safetensors")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.safetensors")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := OpenStore(empty); err == nil {
		t.Fatalf("expected error for empty file")
	}
}
