package mel

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/example/go-diffusion-eval/internal/safetensors"
	"github.com/example/go-diffusion-eval/internal/tensor"
)

func TestNewConverterValidation(t *testing.T) {
	cases := []Config{
		{SampleRate: 0, FilterLength: 1024, HopLength: 256, WinLength: 1024, Channels: 80, FMax: 8000},
		{SampleRate: 22050, FilterLength: 1024, HopLength: 0, WinLength: 1024, Channels: 80, FMax: 8000},
		{SampleRate: 22050, FilterLength: 1024, HopLength: 256, WinLength: 512, Channels: 80, FMax: 8000},
		{SampleRate: 22050, FilterLength: 1024, HopLength: 256, WinLength: 1024, Channels: 80, FMax: 20000},
		{SampleRate: 22050, FilterLength: 1024, HopLength: 256, WinLength: 1024, Channels: 80, FMax: 8000, ChannelNorms: []float32{1}},
	}

	for i, cfg := range cases {
		if _, err := NewConverter(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}

	if _, err := NewConverter(TacotronConfig(nil)); err != nil {
		t.Fatalf("tacotron config: %v", err)
	}

	if _, err := NewConverter(UnivnetConfig()); err != nil {
		t.Fatalf("univnet config: %v", err)
	}
}

func TestSpectrogramShape(t *testing.T) {
	c, err := NewConverter(TacotronConfig(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m, err := c.Spectrogram(make([]float32, 2560))
	if err != nil {
		t.Fatalf("spectrogram: %v", err)
	}

	shape := m.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 80 || shape[2] != 11 {
		t.Fatalf("shape = %v, want [1 80 11]", shape)
	}
}

func TestSpectrogramSilenceHitsFloor(t *testing.T) {
	c, err := NewConverter(TacotronConfig(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m, err := c.Spectrogram(make([]float32, 2048))
	if err != nil {
		t.Fatalf("spectrogram: %v", err)
	}

	for i, v := range m.RawData() {
		if math.Abs(float64(v)-TacotronMelMin) > 1e-5 {
			t.Fatalf("value %d = %v, want dynamic range floor %v", i, v, TacotronMelMin)
		}
	}
}

func TestSpectrogramLocalizesTone(t *testing.T) {
	c, err := NewConverter(TacotronConfig(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	samples := make([]float32, 22050)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/22050))
	}

	m, err := c.Spectrogram(samples)
	if err != nil {
		t.Fatalf("spectrogram: %v", err)
	}

	shape := m.Shape()
	frames := int(shape[2])
	data := m.RawData()

	best, bestSum := 0, math.Inf(-1)

	for ch := range int(shape[1]) {
		var sum float64
		for f := range frames {
			sum += float64(data[ch*frames+f])
		}

		if sum > bestSum {
			best, bestSum = ch, sum
		}
	}

	// 440 Hz lands around the 11th of 80 Slaney-scale channels.
	if best < 8 || best > 14 {
		t.Fatalf("tone peaked in channel %d, want near 11", best)
	}
}

func TestSpectrogramChannelNorms(t *testing.T) {
	plain, err := NewConverter(TacotronConfig(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	norms := make([]float32, 80)
	for i := range norms {
		norms[i] = 2
	}

	halved, err := NewConverter(TacotronConfig(norms))
	if err != nil {
		t.Fatalf("new with norms: %v", err)
	}

	samples := make([]float32, 2048)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 220 * float64(i) / 22050))
	}

	a, err := plain.Spectrogram(samples)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}

	b, err := halved.Spectrogram(samples)
	if err != nil {
		t.Fatalf("halved: %v", err)
	}

	ad, bd := a.RawData(), b.RawData()
	for i := range ad {
		if math.Abs(float64(ad[i]/2-bd[i])) > 1e-6 {
			t.Fatalf("value %d: %v / 2 != %v", i, ad[i], bd[i])
		}
	}
}

func TestSpectrogramRejectsShortInput(t *testing.T) {
	c, err := NewConverter(TacotronConfig(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := c.Spectrogram(make([]float32, 512)); err == nil {
		t.Fatalf("expected error for input shorter than half the filter length")
	}
}

func TestReflectPad(t *testing.T) {
	got := reflectPad([]float32{1, 2, 3, 4}, 2)
	want := []float64{3, 2, 1, 2, 3, 4, 3, 2}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHannWindow(t *testing.T) {
	w := hannWindow(8)

	if w[0] != 0 {
		t.Fatalf("w[0] = %v, want 0", w[0])
	}

	if math.Abs(w[4]-1) > 1e-12 {
		t.Fatalf("w[4] = %v, want 1", w[4])
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 200, 999, 1000, 4000, 8000, 12000} {
		if got := melToHz(hzToMel(f)); math.Abs(got-f) > 1e-6 {
			t.Fatalf("round trip of %v Hz = %v", f, got)
		}
	}
}

func TestFilterbankShapeAndPositivity(t *testing.T) {
	banks, err := melFilterbank(22050, 1024, 80, 0, 8000)
	if err != nil {
		t.Fatalf("filterbank: %v", err)
	}

	if len(banks) != 80 || len(banks[0]) != 513 {
		t.Fatalf("filterbank dims = %dx%d, want 80x513", len(banks), len(banks[0]))
	}

	for m, bank := range banks {
		var peak float64

		for _, w := range bank {
			if w < 0 {
				t.Fatalf("filter %d has negative weight", m)
			}

			if w > peak {
				peak = w
			}
		}

		if peak == 0 {
			t.Fatalf("filter %d is all zero", m)
		}
	}
}

func TestTacotronNormalizationRoundTrip(t *testing.T) {
	src, err := tensor.New([]float32{TacotronMelMin, -4, 0, TacotronMelMax}, []int64{1, 1, 4})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	norm := NormalizeTacotron(src)

	nd := norm.RawData()
	if math.Abs(float64(nd[0])+1) > 1e-6 || math.Abs(float64(nd[3])-1) > 1e-6 {
		t.Fatalf("normalized range endpoints = [%v, %v], want [-1, 1]", nd[0], nd[3])
	}

	back := DenormalizeTacotron(norm)

	sd, bd := src.RawData(), back.RawData()
	for i := range sd {
		if math.Abs(float64(sd[i]-bd[i])) > 1e-5 {
			t.Fatalf("round trip value %d: %v != %v", i, bd[i], sd[i])
		}
	}
}

func TestLoadStatsAndNormalize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "univnet_mel_norms.safetensors")

	err := safetensors.WriteFile(path, []safetensors.Tensor{
		{Name: "means", Shape: []int64{2}, Data: []float32{1, -1}},
		{Name: "stds", Shape: []int64{2}, Data: []float32{2, 0.5}},
		{Name: "vars", Shape: []int64{2}, Data: []float32{4, 0.25}},
		{Name: "max", Shape: []int64{1}, Data: []float32{3}},
		{Name: "min", Shape: []int64{1}, Data: []float32{-12}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	stats, err := LoadStats(path, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if stats.Max != 3 || stats.Min != -12 {
		t.Fatalf("range = [%v, %v], want [-12, 3]", stats.Min, stats.Max)
	}

	m, err := tensor.New([]float32{3, 5, -2, 0}, []int64{1, 2, 2})
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}

	got, err := stats.Normalize(m)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := []float32{1, 2, -2, 2}
	for i, v := range got.RawData() {
		if math.Abs(float64(v-want[i])) > 1e-6 {
			t.Fatalf("normalized[%d] = %v, want %v", i, v, want[i])
		}
	}

	if _, err := LoadStats(path, 3); err == nil {
		t.Fatalf("expected channel count mismatch error")
	}
}

func TestLoadChannelNorms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clips_mel_norms.safetensors")

	err := safetensors.WriteFile(path, []safetensors.Tensor{
		{Name: "norms", Shape: []int64{3}, Data: []float32{1, 2, 4}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	norms, err := LoadChannelNorms(path, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if norms[2] != 4 {
		t.Fatalf("norms[2] = %v, want 4", norms[2])
	}

	if _, err := LoadChannelNorms(path, 80); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}
