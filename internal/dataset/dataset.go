// Package dataset loads the tab-separated evaluation manifests pairing
// reference recordings with transcripts and time-aligned code sequences.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// Entry is one evaluation sample: the reference recording, its transcript
// and the aligned discrete codes describing it.
type Entry struct {
	AudioPath string
	Text      string
	Codes     []int64
}

// Load reads a manifest file. Each line holds three tab-separated fields:
// transcript, audio path relative to the manifest, and the space-separated
// integer codes. Lines with a different field count are skipped.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	base := filepath.Dir(path)

	var entries []Entry

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}

		codes, err := parseCodes(fields[2])
		if err != nil {
			return nil, fmt.Errorf("dataset: %s line %d: %w", path, lineNo, err)
		}

		entries = append(entries, Entry{
			AudioPath: filepath.Join(base, fields[1]),
			Text:      fields[0],
			Codes:     codes,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset: %s holds no usable entries", path)
	}

	return entries, nil
}

// parseCodes converts a space-separated integer list, optionally wrapped in
// brackets, into code values.
func parseCodes(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty code list")
	}

	codes := make([]int64, len(parts))

	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("code %d: %w", i, err)
		}

		codes[i] = v
	}

	return codes, nil
}
