package safetensors

import (
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// LoadFirstTensor reads a safetensors file and returns its first tensor in
// name order. Statistics files holding a single tensor are read this way.
// The safetensors format is: 8-byte LE header length → JSON header → raw
// tensor data.
func LoadFirstTensor(path string) (*Tensor, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	names := store.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors found")
	}
	return store.Tensor(names[0])
}

// LoadFirstTensorFromBytes decodes a safetensors payload and returns its
// first tensor in name order.
func LoadFirstTensorFromBytes(data []byte) (*Tensor, error) {
	store, err := OpenStoreFromBytes(data)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	names := store.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors found")
	}
	return store.Tensor(names[0])
}
