// Package doctor provides environment preflight checks for diffeval.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version or summary string, or an error if the
// component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ORTVersion returns the detected ONNX Runtime version string
	// (e.g. "1.23.0", or "unknown" when the filename carries none).
	ORTVersion VersionFunc
	// SkipORT skips the ONNX Runtime check.
	SkipORT bool
	// Bundle returns a one-line summary of the eval bundle manifest.
	Bundle VersionFunc
	// SkipBundle skips eval bundle validation.
	SkipBundle bool
	// Dataset returns a one-line summary of the dataset manifest.
	Dataset VersionFunc
	// SkipDataset skips the dataset manifest check.
	SkipDataset bool
	// AuxFiles is the list of auxiliary file paths to verify on disk
	// (mel norm stats, lock files).
	AuxFiles []string
	// OutputDir, when non-empty, is probed for writability.
	OutputDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.AddFailure(msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime library ----------------------------------------------
	if cfg.SkipORT {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		ver, err := cfg.ORTVersion()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else if verErr := checkORTVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	// ---- eval bundle --------------------------------------------------------
	if cfg.SkipBundle {
		fmt.Fprintf(w, "%s eval bundle: skipped\n", PassMark)
	} else {
		sum, err := cfg.Bundle()
		if err != nil {
			res.fail(fmt.Sprintf("eval bundle: %v", err))
			fmt.Fprintf(w, "%s eval bundle: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s eval bundle: %s\n", PassMark, sum)
		}
	}

	// ---- dataset manifest ----------------------------------------------------
	if cfg.SkipDataset {
		fmt.Fprintf(w, "%s dataset manifest: skipped\n", PassMark)
	} else {
		sum, err := cfg.Dataset()
		if err != nil {
			res.fail(fmt.Sprintf("dataset manifest: %v", err))
			fmt.Fprintf(w, "%s dataset manifest: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s dataset manifest: %s\n", PassMark, sum)
		}
	}

	// ---- aux files ------------------------------------------------------
	for _, path := range cfg.AuxFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("aux file %q: %v", path, err))
			fmt.Fprintf(w, "%s aux file %s: not found\n", FailMark, path)
		} else {
			fmt.Fprintf(w, "%s aux file: %s\n", PassMark, path)
		}
	}

	// ---- output directory ------------------------------------------------
	if cfg.OutputDir != "" {
		if err := probeWritable(cfg.OutputDir); err != nil {
			res.fail(fmt.Sprintf("output dir %q: %v", cfg.OutputDir, err))
			fmt.Fprintf(w, "%s output dir %s: not writable (%v)\n", FailMark, cfg.OutputDir, err)
		} else {
			fmt.Fprintf(w, "%s output dir: %s\n", PassMark, cfg.OutputDir)
		}
	}

	return res
}

// checkORTVersion returns an error if ver is older than 1.23, the first
// release carrying the C API level the graph runners request. "unknown"
// passes; not every library filename carries a version.
func checkORTVersion(ver string) error {
	if ver == "" || ver == "unknown" {
		return nil
	}
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < 23 {
		return fmt.Errorf("requires ONNX Runtime >=1.23, got 1.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}

// probeWritable creates dir if needed and round-trips a temp file through it.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
