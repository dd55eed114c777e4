package config

import (
	"fmt"
	"strings"
)

const (
	DiffusionTTS             = "tts"
	DiffusionOriginalVocoder = "original_vocoder"
	DiffusionVocoder         = "vocoder"
	DiffusionTTS9Mel         = "tts9_mel"
)

func NormalizeDiffusionType(raw string) (string, error) {
	diffusionType := strings.ToLower(strings.TrimSpace(raw))
	if diffusionType == "" {
		diffusionType = DiffusionTTS
	}
	switch diffusionType {
	case DiffusionTTS, DiffusionOriginalVocoder, DiffusionVocoder, DiffusionTTS9Mel:
		return diffusionType, nil
	default:
		return "", fmt.Errorf(
			"invalid diffusion type %q (expected %s|%s|%s|%s)",
			raw,
			DiffusionTTS,
			DiffusionOriginalVocoder,
			DiffusionVocoder,
			DiffusionTTS9Mel,
		)
	}
}
