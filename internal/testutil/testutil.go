// Package testutil provides shared skip helpers and fixtures for
// integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    testutil.RequireEvalBundle(t, "models/eval_bundle")
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-diffusion-eval/internal/audio"
	"github.com/example/go-diffusion-eval/internal/dataset"
	"github.com/example/go-diffusion-eval/internal/model"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the DIFFEVAL_ORT_LIB env var, then the
// ORT_LIBRARY_PATH env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"DIFFEVAL_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set DIFFEVAL_ORT_LIB or ORT_LIBRARY_PATH")
}

// RequireEvalBundle skips the test if dir does not hold a valid eval bundle
// (a manifest.json naming all required graphs, every graph file present).
func RequireEvalBundle(tb testing.TB, dir string) {
	tb.Helper()

	if err := model.VerifyBundleDir(dir); err != nil {
		tb.Skipf("eval bundle not available at %q: %v", dir, err)
	}
}

// RequireDatasetManifest skips the test if the TSV at path cannot be loaded
// or holds no entries.
func RequireDatasetManifest(tb testing.TB, path string) {
	tb.Helper()

	entries, err := dataset.Load(path)
	if err != nil {
		tb.Skipf("dataset manifest not available at %q: %v", path, err)
	}

	if len(entries) == 0 {
		tb.Skipf("dataset manifest %q has no entries", path)
	}
}

// WriteSilenceWAV writes a mono 16-bit silence fixture of the given duration
// to path and returns the path. Parent directories are created.
func WriteSilenceWAV(tb testing.TB, path string, seconds float64, sampleRate int) string {
	tb.Helper()

	n := int(seconds * float64(sampleRate))

	data, err := audio.EncodeWAV(make([]float32, n), sampleRate)
	if err != nil {
		tb.Fatalf("encode silence fixture: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create fixture dir: %v", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write silence fixture: %v", err)
	}

	return path
}
