package eval

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/mel"
	"github.com/example/go-diffusion-eval/internal/tensor"
)

type fakeModel struct {
	alignment int64
	hasAlign  bool
	training  bool
	device    string
}

func newFakeModel() *fakeModel {
	return &fakeModel{training: true, device: "host"}
}

func (m *fakeModel) ToDevice(device string) error { m.device = device; return nil }
func (m *fakeModel) ToHost() error                { m.device = "host"; return nil }
func (m *fakeModel) AlignmentSize() (int64, bool) { return m.alignment, m.hasAlign }
func (m *fakeModel) SetTraining(train bool)       { m.training = train }

// fakeSampler fills the requested shape with low-amplitude noise drawn from
// the run's generator, so output is deterministic given the seed.
type fakeSampler struct {
	calls     int
	lastShape OutputShape
	lastCond  Conditioning
	fixed     *tensor.Tensor
}

func (s *fakeSampler) PSampleLoop(ctx context.Context, model DiffusionModel, shape OutputShape, cond Conditioning, rng *rand.Rand) (*tensor.Tensor, error) {
	s.calls++
	s.lastShape = shape
	s.lastCond = cond

	if s.fixed != nil {
		return s.fixed, nil
	}

	data := make([]float32, shape.Batch*shape.Channels*shape.Length)
	for i := range data {
		data[i] = float32(rng.Float64()*2-1) * 0.1
	}

	return tensor.New(data, shape.Dims())
}

// fakeCodec compresses a mel four frames per code and reconstructs an
// 80-channel spectrogram one frame per code.
type fakeCodec struct {
	device string
}

func (c *fakeCodec) ToDevice(device string) error { c.device = device; return nil }
func (c *fakeCodec) ToHost() error                { c.device = "host"; return nil }

func (c *fakeCodec) Encode(mel *tensor.Tensor) ([]int64, error) {
	frames, err := mel.Dim(-1)
	if err != nil {
		return nil, err
	}

	codes := make([]int64, (frames+3)/4)
	for i := range codes {
		codes[i] = int64(i % 7)
	}

	return codes, nil
}

func (c *fakeCodec) Decode(codes []int64) (*tensor.Tensor, error) {
	frames := int64(len(codes))
	data := make([]float32, 80*frames)

	for i, code := range codes {
		for ch := 0; ch < 80; ch++ {
			data[ch*int(frames)+i] = float32(code) * 0.01
		}
	}

	return tensor.New(data, []int64{1, 80, frames})
}

// fakeVocoder renders 256 samples per mel frame and records every mel it
// receives.
type fakeVocoder struct {
	device   string
	received []*tensor.Tensor
}

func (v *fakeVocoder) ToDevice(device string) error { v.device = device; return nil }
func (v *fakeVocoder) ToHost() error                { v.device = "host"; return nil }

func (v *fakeVocoder) Inference(mel *tensor.Tensor) ([]float32, error) {
	v.received = append(v.received, mel)

	shape := mel.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("vocoder expects rank 3, got %v", shape)
	}

	channels := int(shape[1])
	frames := int(shape[2])
	data := mel.RawData()

	wave := make([]float32, frames*256)
	for f := 0; f < frames; f++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(data[ch*frames+f])
		}

		value := float32(math.Tanh(sum/float64(channels)) * 0.5)
		for j := 0; j < 256; j++ {
			wave[f*256+j] = value
		}
	}

	return wave, nil
}

// fakeProjector embeds a spectrogram as its mean and RMS.
type fakeProjector struct {
	device string
}

func (p *fakeProjector) ToDevice(device string) error { p.device = device; return nil }
func (p *fakeProjector) ToHost() error                { p.device = "host"; return nil }

func (p *fakeProjector) SpeechProjection(mel *tensor.Tensor) ([]float32, error) {
	data := mel.RawData()
	if len(data) == 0 {
		return nil, fmt.Errorf("empty spectrogram")
	}

	var sum, sumSq float64
	for _, v := range data {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}

	n := float64(len(data))

	return []float32{float32(sum / n), float32(math.Sqrt(sumSq / n))}, nil
}

// fakeCTC scores a waveform by its mean magnitude plus a label-dependent
// offset, so identical inputs score identically.
type fakeCTC struct {
	device string
}

func (c *fakeCTC) ToDevice(device string) error { c.device = device; return nil }
func (c *fakeCTC) ToHost() error                { c.device = "host"; return nil }

func (c *fakeCTC) Loss(input []float32, labels []int64) (float64, error) {
	if len(input) == 0 {
		return 0, fmt.Errorf("empty input")
	}

	var sum float64
	for _, v := range input {
		sum += math.Abs(float64(v))
	}

	return sum/float64(len(input)) + 0.001*float64(len(labels)), nil
}

func newTacotronConverter(t *testing.T) *mel.Converter {
	t.Helper()

	conv, err := mel.NewConverter(mel.TacotronConfig(nil))
	if err != nil {
		t.Fatalf("tacotron converter: %v", err)
	}

	return conv
}

// tone synthesizes a sine at the given frequency, 22050 Hz, fixed length.
func tone(freq float64, length int) []float32 {
	wave := make([]float32, length)
	for i := range wave {
		wave[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/22050))
	}

	return wave
}

// writeEvalFixture writes n tone recordings plus a TSV manifest referencing
// them and returns the manifest path.
func writeEvalFixture(t *testing.T, dir string, n int) string {
	t.Helper()

	var sb strings.Builder

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("clip_%d.wav", i)

		data, err := audio.EncodeWAV(tone(220*float64(i+1), 4410), 22050)
		if err != nil {
			t.Fatalf("encode fixture wav: %v", err)
		}

		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write fixture wav: %v", err)
		}

		fmt.Fprintf(&sb, "sample clip %c\t%s\t1 2 3 4 5 6 7 8 9 10 11 12\n", 'a'+rune(i), name)
	}

	manifest := filepath.Join(dir, "eval.tsv")
	if err := os.WriteFile(manifest, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	return manifest
}
