package model

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- helpers ---

// buildEvalBundleZip assembles an in-memory archive holding a complete
// manifest plus every graph file it names, checksums pinned.
func buildEvalBundleZip(t *testing.T) []byte {
	t.Helper()

	m := evalManifest()
	contents := make([][]byte, len(m.Graphs))
	for i, g := range m.Graphs {
		contents[i] = []byte("graph " + g.Name)
		sum := sha256.Sum256(contents[i])
		m.Graphs[i].SHA256 = hex.EncodeToString(sum[:])
	}

	manifestData, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	writeEntry := func(name string, content []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}

	writeEntry("manifest.json", manifestData)
	for i, g := range m.Graphs {
		writeEntry(g.Filename, contents[i])
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	return buf.Bytes()
}

func buildTarGz(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("write tar entry %s: %v", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}

	return buf.Bytes()
}

func writeLockFile(t *testing.T, dir string, lock BundleLock) string {
	t.Helper()

	data, err := json.Marshal(lock)
	if err != nil {
		t.Fatalf("marshal lock: %v", err)
	}

	path := filepath.Join(dir, "eval-bundles.lock.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	return path
}

func twoBundleLock() BundleLock {
	return BundleLock{
		Version: 1,
		Bundles: []BundleRef{
			{ID: "eval-cpu", Variant: "base", URL: "https://example.com/base.zip"},
			{ID: "eval-gpu", Variant: "cuda", URL: "https://example.com/cuda.zip"},
		},
	}
}

// --- resolveBundleFromLock ---

func TestResolveBundleFromLock_ByID(t *testing.T) {
	path := writeLockFile(t, t.TempDir(), twoBundleLock())

	got, err := resolveBundleFromLock(path, "eval-gpu", "base")
	if err != nil {
		t.Fatalf("resolveBundleFromLock: %v", err)
	}
	if got.URL != "https://example.com/cuda.zip" {
		t.Fatalf("unexpected URL: %s", got.URL)
	}
}

func TestResolveBundleFromLock_ByVariant(t *testing.T) {
	path := writeLockFile(t, t.TempDir(), twoBundleLock())

	got, err := resolveBundleFromLock(path, "", "cuda")
	if err != nil {
		t.Fatalf("resolveBundleFromLock: %v", err)
	}
	if got.ID != "eval-gpu" {
		t.Fatalf("unexpected bundle id: %s", got.ID)
	}
}

func TestResolveBundleFromLock_UnknownID(t *testing.T) {
	path := writeLockFile(t, t.TempDir(), twoBundleLock())

	_, err := resolveBundleFromLock(path, "eval-tpu", "base")
	if err == nil {
		t.Fatal("expected error for unknown bundle id")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveBundleFromLock_UnknownVariant(t *testing.T) {
	path := writeLockFile(t, t.TempDir(), twoBundleLock())

	_, err := resolveBundleFromLock(path, "", "rocm")
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
	if !strings.Contains(err.Error(), `no bundle found for variant "rocm"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveBundleFromLock_MissingFile(t *testing.T) {
	_, err := resolveBundleFromLock(filepath.Join(t.TempDir(), "absent.lock.json"), "", "base")
	if err == nil {
		t.Fatal("expected error for missing lock file")
	}
	if !strings.Contains(err.Error(), "read bundle lock file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveBundleFromLock_EmptyLock(t *testing.T) {
	path := writeLockFile(t, t.TempDir(), BundleLock{Version: 1})

	_, err := resolveBundleFromLock(path, "", "base")
	if err == nil {
		t.Fatal("expected error for empty lock")
	}
	if !strings.Contains(err.Error(), "has no bundles") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- extractBundle ---

func TestExtractBundle_Zip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(archivePath, buildEvalBundleZip(t), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	if err := extractBundle(archivePath, outDir); err != nil {
		t.Fatalf("extractBundle: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "manifest.json")); err != nil {
		t.Fatalf("manifest not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "denoiser.onnx")); err != nil {
		t.Fatalf("graph not extracted: %v", err)
	}
}

func TestExtractBundle_TarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.tar.gz")
	archive := buildTarGz(t, map[string][]byte{
		"models/denoiser.onnx": []byte("graph denoiser"),
	})
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	if err := extractBundle(archivePath, outDir); err != nil {
		t.Fatalf("extractBundle: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "models", "denoiser.onnx")); err != nil {
		t.Fatalf("nested graph not extracted: %v", err)
	}
}

// Downloaded archives land in extensionless temp files, so format detection
// must fall back to content sniffing.
func TestExtractBundle_NoExtension(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle-download")
	if err := os.WriteFile(archivePath, buildEvalBundleZip(t), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	outDir := filepath.Join(dir, "out")
	if err := extractBundle(archivePath, outDir); err != nil {
		t.Fatalf("extractBundle: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "manifest.json")); err != nil {
		t.Fatalf("manifest not extracted: %v", err)
	}
}

func TestExtractBundle_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.bin")
	if err := os.WriteFile(archivePath, []byte("not an archive"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	err := extractBundle(archivePath, filepath.Join(dir, "out"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported bundle format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSafeExtractPath_RejectsTraversal(t *testing.T) {
	_, err := safeExtractPath(t.TempDir(), "../escape.onnx")
	if err == nil {
		t.Fatal("expected error for path traversal")
	}
	if !strings.Contains(err.Error(), "traversal") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSafeExtractPath_AllowsNested(t *testing.T) {
	base := t.TempDir()

	got, err := safeExtractPath(base, "models/denoiser.onnx")
	if err != nil {
		t.Fatalf("safeExtractPath: %v", err)
	}
	if got != filepath.Join(base, "models", "denoiser.onnx") {
		t.Fatalf("unexpected path: %s", got)
	}
}

// --- VerifyBundleDir ---

func TestVerifyBundleDir(t *testing.T) {
	dir := t.TempDir()
	m := writeGraphFiles(t, dir, evalManifest())
	writeManifestJSON(t, dir, m)

	if err := VerifyBundleDir(dir); err != nil {
		t.Fatalf("VerifyBundleDir: %v", err)
	}
}

func TestVerifyBundleDir_MissingManifest(t *testing.T) {
	err := VerifyBundleDir(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
	if !strings.Contains(err.Error(), "read bundle manifest") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- DownloadBundle ---

func TestDownloadBundle_RequiresOutDir(t *testing.T) {
	err := DownloadBundle(DownloadBundleOptions{})
	if err == nil {
		t.Fatal("expected error for missing out dir")
	}
	if !strings.Contains(err.Error(), "out dir is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadBundle_InvalidChecksum(t *testing.T) {
	err := DownloadBundle(DownloadBundleOptions{
		BundleURL: "https://example.com/bundle.zip",
		SHA256:    "nothex",
		OutDir:    t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for malformed checksum")
	}
	if !strings.Contains(err.Error(), "invalid sha256 checksum") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadBundle_FromHTTP(t *testing.T) {
	archive := buildEvalBundleZip(t)
	sum := sha256.Sum256(archive)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bundle.zip" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "bundle")

	var stdout bytes.Buffer

	err := DownloadBundle(DownloadBundleOptions{
		BundleURL:  srv.URL + "/bundle.zip",
		SHA256:     hex.EncodeToString(sum[:]),
		OutDir:     outDir,
		HTTPClient: srv.Client(),
		Stdout:     &stdout,
	})
	if err != nil {
		t.Fatalf("DownloadBundle: %v", err)
	}

	if err := VerifyBundleDir(outDir); err != nil {
		t.Fatalf("VerifyBundleDir after download: %v", err)
	}
	if !strings.Contains(stdout.String(), "verified eval bundle manifest") {
		t.Fatalf("missing verification output:\n%s", stdout.String())
	}
}

func TestDownloadBundle_ChecksumMismatch(t *testing.T) {
	archive := buildEvalBundleZip(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	err := DownloadBundle(DownloadBundleOptions{
		BundleURL:  srv.URL + "/bundle.zip",
		SHA256:     strings.Repeat("a", 64),
		OutDir:     filepath.Join(t.TempDir(), "bundle"),
		HTTPClient: srv.Client(),
	})
	if err == nil {
		t.Fatal("expected checksum mismatch")
	}
	if !strings.Contains(err.Error(), "bundle checksum mismatch") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadBundle_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := DownloadBundle(DownloadBundleOptions{
		BundleURL:  srv.URL + "/bundle.zip",
		OutDir:     filepath.Join(t.TempDir(), "bundle"),
		HTTPClient: srv.Client(),
	})
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
	if !strings.Contains(err.Error(), "bundle download failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDownloadBundle_ResolvesFromLock(t *testing.T) {
	archive := buildEvalBundleZip(t)
	sum := sha256.Sum256(archive)

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	lockPath := writeLockFile(t, dir, BundleLock{
		Version: 1,
		Bundles: []BundleRef{{
			ID:      "eval-cpu",
			Variant: "base",
			URL:     "file://" + archivePath,
			SHA256:  hex.EncodeToString(sum[:]),
		}},
	})

	outDir := filepath.Join(dir, "out")

	var stdout bytes.Buffer

	err := DownloadBundle(DownloadBundleOptions{
		LockFile: lockPath,
		OutDir:   outDir,
		Stdout:   &stdout,
	})
	if err != nil {
		t.Fatalf("DownloadBundle: %v", err)
	}

	if !strings.Contains(stdout.String(), "resolved eval bundle from lock") {
		t.Fatalf("missing lock resolution output:\n%s", stdout.String())
	}
	if err := VerifyBundleDir(outDir); err != nil {
		t.Fatalf("VerifyBundleDir after download: %v", err)
	}
}
