package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-diffusion-eval/internal/config"
	"github.com/example/go-diffusion-eval/internal/dataset"
	"github.com/example/go-diffusion-eval/internal/testutil"
)

func TestInspectDataset_Summary(t *testing.T) {
	entries := []dataset.Entry{
		{AudioPath: "a.wav", Text: "one", Codes: []int64{1, 2}},
		{AudioPath: "b.wav", Text: "two", Codes: []int64{1, 2, 3, 4, 5}},
		{AudioPath: "c.wav", Text: "three", Codes: []int64{7, 8, 9}},
	}

	var buf bytes.Buffer
	if err := inspectDataset(&buf, "eval.tsv", entries, 2, false); err != nil {
		t.Fatalf("inspectDataset: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"manifest: eval.tsv",
		"entries: 3",
		"codes per entry: 2..5",
		"entries per worker: 1 (world size 2, 1 dropped)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInspectDataset_CheckAudioReportsMissing(t *testing.T) {
	dir := t.TempDir()

	present := testutil.WriteSilenceWAV(t, filepath.Join(dir, "present.wav"), 0.05, 22050)

	entries := []dataset.Entry{
		{AudioPath: present, Codes: []int64{1}},
		{AudioPath: filepath.Join(dir, "absent.wav"), Codes: []int64{2}},
	}

	var buf bytes.Buffer
	err := inspectDataset(&buf, "eval.tsv", entries, 1, true)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 audio files missing") {
		t.Fatalf("expected missing-audio error, got: %v", err)
	}

	if !strings.Contains(buf.String(), "missing audio:") {
		t.Errorf("output missing the per-file report:\n%s", buf.String())
	}
}

func TestInspectDataset_CheckAudioAllPresent(t *testing.T) {
	dir := t.TempDir()

	paths := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav")}
	entries := make([]dataset.Entry, len(paths))
	for i, p := range paths {
		testutil.WriteSilenceWAV(t, p, 0.05, 22050)
		entries[i] = dataset.Entry{AudioPath: p, Codes: []int64{int64(i)}}
	}

	var buf bytes.Buffer
	if err := inspectDataset(&buf, "eval.tsv", entries, 1, true); err != nil {
		t.Fatalf("inspectDataset: %v", err)
	}

	if !strings.Contains(buf.String(), "all 2 audio files present") {
		t.Errorf("output missing the all-present line:\n%s", buf.String())
	}
}

func TestNewInspectCmd_RequiresTSV(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.DefaultConfig()

	cmd := newInspectCmd()
	cmd.SetArgs(nil)

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--eval-tsv is required") {
		t.Fatalf("expected missing TSV error, got: %v", err)
	}
}
