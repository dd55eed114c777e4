// Package mel converts waveforms into the log mel spectrograms the speech
// models consume. The transform mirrors the tacotron STFT pipeline: centered
// frames with reflect padding, a periodic Hann window, a Slaney-scale mel
// filterbank and log compression with a fixed dynamic range floor.
package mel

import (
	"fmt"
	"math"

	"github.com/example/go-diffusion-eval/internal/tensor"
)

// Spectrogram value range produced by tacotron-style training pipelines.
// The lower bound is the log of the dynamic range floor.
const (
	TacotronMelMin = -11.512925148010254
	TacotronMelMax = 2.3143386840820312

	dynamicRangeFloor = 1e-5
)

// Config specifies a mel transform.
type Config struct {
	SampleRate   int
	FilterLength int
	HopLength    int
	WinLength    int
	Channels     int
	FMin         float64
	FMax         float64

	// ChannelNorms optionally divides each mel channel by a trained norm
	// after log compression.
	ChannelNorms []float32
}

// TacotronConfig is the 80-channel transform shared by the speech codec and
// the embedding projector. Norms come from the model bundle.
func TacotronConfig(channelNorms []float32) Config {
	return Config{
		SampleRate:   22050,
		FilterLength: 1024,
		HopLength:    256,
		WinLength:    1024,
		Channels:     80,
		FMin:         0,
		FMax:         8000,
		ChannelNorms: channelNorms,
	}
}

// UnivnetConfig is the 100-channel transform consumed by the univnet
// vocoder.
func UnivnetConfig() Config {
	return Config{
		SampleRate:   24000,
		FilterLength: 1024,
		HopLength:    256,
		WinLength:    1024,
		Channels:     100,
		FMin:         0,
		FMax:         12000,
	}
}

// Converter computes log mel spectrograms for a fixed Config.
type Converter struct {
	cfg    Config
	window []float64
	banks  [][]float64
}

func NewConverter(cfg Config) (*Converter, error) {
	if cfg.SampleRate < 1 {
		return nil, fmt.Errorf("mel: invalid sample rate %d", cfg.SampleRate)
	}

	if cfg.FilterLength < 2 || cfg.HopLength < 1 || cfg.Channels < 1 {
		return nil, fmt.Errorf("mel: invalid transform sizes (filter %d, hop %d, channels %d)", cfg.FilterLength, cfg.HopLength, cfg.Channels)
	}

	if cfg.WinLength != cfg.FilterLength {
		return nil, fmt.Errorf("mel: window length %d must equal filter length %d", cfg.WinLength, cfg.FilterLength)
	}

	if cfg.FMax <= cfg.FMin || cfg.FMax > float64(cfg.SampleRate)/2 {
		return nil, fmt.Errorf("mel: invalid frequency range [%g, %g] at rate %d", cfg.FMin, cfg.FMax, cfg.SampleRate)
	}

	if cfg.ChannelNorms != nil && len(cfg.ChannelNorms) != cfg.Channels {
		return nil, fmt.Errorf("mel: %d channel norms for %d channels", len(cfg.ChannelNorms), cfg.Channels)
	}

	banks, err := melFilterbank(cfg.SampleRate, cfg.FilterLength, cfg.Channels, cfg.FMin, cfg.FMax)
	if err != nil {
		return nil, err
	}

	return &Converter{
		cfg:    cfg,
		window: hannWindow(cfg.WinLength),
		banks:  banks,
	}, nil
}

// SampleRate returns the waveform rate the converter expects.
func (c *Converter) SampleRate() int {
	return c.cfg.SampleRate
}

// Spectrogram converts a mono waveform at the configured sample rate into a
// [1, channels, frames] log mel tensor.
func (c *Converter) Spectrogram(samples []float32) (*tensor.Tensor, error) {
	frames, err := stftMagnitudes(samples, c.cfg.FilterLength, c.cfg.HopLength, c.window)
	if err != nil {
		return nil, err
	}

	channels := c.cfg.Channels

	data := make([]float32, len(frames)*channels)
	for t, mags := range frames {
		for m := range channels {
			var acc float64

			bank := c.banks[m]
			for k, w := range bank {
				if w == 0 {
					continue
				}

				acc += w * mags[k]
			}

			if acc < dynamicRangeFloor {
				acc = dynamicRangeFloor
			}

			v := float32(math.Log(acc))
			if c.cfg.ChannelNorms != nil {
				v /= c.cfg.ChannelNorms[m]
			}

			data[t*channels+m] = v
		}
	}

	byTime, err := tensor.New(data, []int64{int64(len(frames)), int64(channels)})
	if err != nil {
		return nil, err
	}

	byChannel, err := byTime.Transpose(0, 1)
	if err != nil {
		return nil, err
	}

	return byChannel.Unsqueeze(0)
}

// DenormalizeTacotron maps a [-1, 1] normalized mel back into the tacotron
// value range.
func DenormalizeTacotron(m *tensor.Tensor) *tensor.Tensor {
	if m == nil {
		return nil
	}

	data := m.Data()
	for i, v := range data {
		data[i] = (v+1)/2*(TacotronMelMax-TacotronMelMin) + TacotronMelMin
	}

	out, _ := tensor.New(data, m.Shape())

	return out
}

// NormalizeTacotron maps a tacotron-range mel into [-1, 1].
func NormalizeTacotron(m *tensor.Tensor) *tensor.Tensor {
	if m == nil {
		return nil
	}

	data := m.Data()
	for i, v := range data {
		data[i] = (v-TacotronMelMin)/(TacotronMelMax-TacotronMelMin)*2 - 1
	}

	out, _ := tensor.New(data, m.Shape())

	return out
}
