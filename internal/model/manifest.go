package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/example/go-diffusion-eval/internal/onnx"
)

// Manifest describes an eval bundle: the exported ONNX graphs the harness
// runs, with optional per-file checksums. The same manifest.json also carries
// the node declarations internal/onnx reads; this package only cares about
// file identity and the denoiser's declared alignment.
type Manifest struct {
	Version   int         `json:"version"`
	Alignment int64       `json:"alignment,omitempty"`
	Graphs    []GraphFile `json:"graphs"`
}

type GraphFile struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256,omitempty"`
}

// RequiredGraphs lists the graph names a complete eval bundle carries.
func RequiredGraphs() []string {
	return []string{
		onnx.GraphDenoiser,
		onnx.GraphCodecEncoder,
		onnx.GraphCodecDecoder,
		onnx.GraphVocoder,
		onnx.GraphProjector,
		onnx.GraphRecognizer,
	}
}

func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read bundle manifest: %w", err)
	}

	var m Manifest

	err = json.Unmarshal(data, &m)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode bundle manifest: %w", err)
	}

	return m, nil
}

// Validate checks structural integrity: every graph named and backed by a
// file, checksums well-formed, and all required graphs present.
func (m Manifest) Validate() error {
	if len(m.Graphs) == 0 {
		return errors.New("bundle manifest has no graphs")
	}

	if m.Alignment < 0 {
		return fmt.Errorf("manifest alignment %d is negative", m.Alignment)
	}

	required := make(map[string]bool, len(RequiredGraphs()))
	for _, name := range RequiredGraphs() {
		required[name] = false
	}

	for _, g := range m.Graphs {
		if g.Name == "" {
			return errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if g.SHA256 != "" && !isSHA256Hex(g.SHA256) {
			return fmt.Errorf("manifest graph %q has malformed sha256 %q", g.Name, g.SHA256)
		}

		if _, ok := required[g.Name]; ok {
			required[g.Name] = true
		}
	}

	for _, name := range RequiredGraphs() {
		if !required[name] {
			return fmt.Errorf("manifest missing required graph %q", name)
		}
	}

	return nil
}

// VerifyFiles checks that every graph file exists under dir and, where the
// manifest pins a checksum, that the file content matches it.
func (m Manifest) VerifyFiles(dir string) error {
	for _, g := range m.Graphs {
		path := filepath.Join(dir, g.Filename)

		if g.SHA256 == "" {
			_, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("manifest graph file %q: %w", g.Filename, err)
			}

			continue
		}

		actual, err := fileSHA256(path)
		if err != nil {
			return fmt.Errorf("manifest graph file %q: %w", g.Filename, err)
		}

		expected := strings.ToLower(g.SHA256)
		if actual != expected {
			return fmt.Errorf("graph %q checksum mismatch: expected %s got %s", g.Name, expected, actual)
		}
	}

	return nil
}

func fileSHA256(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer func() { _ = fh.Close() }()

	h := sha256.New()

	_, err = io.Copy(h, fh)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}
