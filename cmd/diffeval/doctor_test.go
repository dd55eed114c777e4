package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeBundleFixture writes a bundle manifest naming every required graph,
// with the graph files beside it, and returns the manifest path.
func writeBundleFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	graphs := []string{"denoiser", "dvae_encoder", "dvae_decoder", "vocoder", "projector", "asr_ctc"}

	var b strings.Builder
	b.WriteString(`{"version":1,"graphs":[`)
	for i, name := range graphs {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"name":%q,"filename":"%s.onnx"}`, name, name)

		file := filepath.Join(dir, name+".onnx")
		if err := os.WriteFile(file, []byte("graph "+name), 0o644); err != nil {
			t.Fatalf("write graph file: %v", err)
		}
	}
	b.WriteString(`]}`)

	manifest := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	return manifest
}

func TestProbeBundle_Valid(t *testing.T) {
	manifest := writeBundleFixture(t)

	sum, err := probeBundle(manifest)
	if err != nil {
		t.Fatalf("probeBundle: %v", err)
	}

	if sum != "6 graphs verified" {
		t.Errorf("unexpected summary: %q", sum)
	}
}

func TestProbeBundle_MissingManifest(t *testing.T) {
	_, err := probeBundle(filepath.Join(t.TempDir(), "manifest.json"))
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestProbeBundle_MissingGraphFile(t *testing.T) {
	manifest := writeBundleFixture(t)

	if err := os.Remove(filepath.Join(filepath.Dir(manifest), "vocoder.onnx")); err != nil {
		t.Fatalf("remove graph file: %v", err)
	}

	_, err := probeBundle(manifest)
	if err == nil || !strings.Contains(err.Error(), "vocoder.onnx") {
		t.Fatalf("expected missing graph file error, got: %v", err)
	}
}

func TestProbeDataset_CountsEntries(t *testing.T) {
	dir := t.TempDir()
	tsv := filepath.Join(dir, "eval.tsv")

	lines := "first transcript\ta.wav\t1 2 3\nsecond transcript\tb.wav\t4 5\n"
	if err := os.WriteFile(tsv, []byte(lines), 0o644); err != nil {
		t.Fatalf("write tsv: %v", err)
	}

	sum, err := probeDataset(tsv)
	if err != nil {
		t.Fatalf("probeDataset: %v", err)
	}

	if sum != "2 entries" {
		t.Errorf("unexpected summary: %q", sum)
	}
}

func TestProbeDataset_MissingFile(t *testing.T) {
	_, err := probeDataset(filepath.Join(t.TempDir(), "eval.tsv"))
	if err == nil {
		t.Fatal("expected error for missing dataset manifest")
	}
}
