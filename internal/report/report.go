// Package report formats evaluation results for the diffeval run and
// history commands.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Rows and stats
// ---------------------------------------------------------------------------

// Row holds the metrics of one evaluation run.
type Row struct {
	Step                int
	DiffusionType       string
	Samples             int
	FrechetDistance     float64
	IntelligibilityLoss float64
	Elapsed             time.Duration
	CreatedAt           time.Time
}

// Stats holds the best value of each metric across a set of runs, with the
// training step it was observed at. Lower is better for both.
type Stats struct {
	BestFrechetDistance     float64
	BestFrechetStep         int
	BestIntelligibilityLoss float64
	BestIntelligibilityStep int
}

// ComputeStats finds the per-metric minima over a slice of rows.
// The slice must be non-empty.
func ComputeStats(rows []Row) Stats {
	if len(rows) == 0 {
		return Stats{}
	}
	s := Stats{
		BestFrechetDistance:     rows[0].FrechetDistance,
		BestFrechetStep:         rows[0].Step,
		BestIntelligibilityLoss: rows[0].IntelligibilityLoss,
		BestIntelligibilityStep: rows[0].Step,
	}
	for _, r := range rows[1:] {
		if r.FrechetDistance < s.BestFrechetDistance {
			s.BestFrechetDistance = r.FrechetDistance
			s.BestFrechetStep = r.Step
		}
		if r.IntelligibilityLoss < s.BestIntelligibilityLoss {
			s.BestIntelligibilityLoss = r.IntelligibilityLoss
			s.BestIntelligibilityStep = r.Step
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Metric threshold gate
// ---------------------------------------------------------------------------

// CheckThreshold returns an error if value > threshold.
// A threshold of 0 disables the gate.
func CheckThreshold(metric string, value, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if value > threshold {
		return fmt.Errorf("%s %.4f exceeds threshold %.4f", metric, value, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of evaluation rows to w.
func FormatTable(rows []Row, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-8s  %-16s  %7s  %12s  %12s  %8s  %-16s\n",
		"Step", "Type", "Samples", "Frechet", "IntelLoss", "Sec", "When")
	fmt.Fprintln(sb, strings.Repeat("-", 90))

	for _, r := range rows {
		when := ""
		if !r.CreatedAt.IsZero() {
			when = r.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(sb, "%-8d  %-16s  %7d  %12.4f  %12.4f  %8.1f  %-16s\n",
			r.Step,
			r.DiffusionType,
			r.Samples,
			r.FrechetDistance,
			r.IntelligibilityLoss,
			r.Elapsed.Seconds(),
			when,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 90))

	stats := ComputeStats(rows)
	fmt.Fprintf(sb, "%-8s  %-16s  %7s  %12.4f  %12s  %8s  (best, step %d)\n",
		"", "", "", stats.BestFrechetDistance, "", "", stats.BestFrechetStep)
	fmt.Fprintf(sb, "%-8s  %-16s  %7s  %12s  %12.4f  %8s  (best, step %d)\n",
		"", "", "", "", stats.BestIntelligibilityLoss, "", stats.BestIntelligibilityStep)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Step                int     `json:"step"`
	DiffusionType       string  `json:"diffusion_type"`
	Samples             int     `json:"samples"`
	FrechetDistance     float64 `json:"frechet_distance"`
	IntelligibilityLoss float64 `json:"intelligibility_loss"`
	ElapsedMS           float64 `json:"elapsed_ms"`
	CreatedAt           string  `json:"created_at,omitempty"`
}

type jsonStats struct {
	BestFrechetDistance     float64 `json:"best_frechet_distance"`
	BestFrechetStep         int     `json:"best_frechet_step"`
	BestIntelligibilityLoss float64 `json:"best_intelligibility_loss"`
	BestIntelligibilityStep int     `json:"best_intelligibility_step"`
}

// FormatJSON writes a JSON report of evaluation rows to w.
func FormatJSON(rows []Row, w io.Writer) {
	stats := ComputeStats(rows)
	jr := jsonReport{
		Runs: make([]jsonRun, len(rows)),
		Stats: jsonStats{
			BestFrechetDistance:     stats.BestFrechetDistance,
			BestFrechetStep:         stats.BestFrechetStep,
			BestIntelligibilityLoss: stats.BestIntelligibilityLoss,
			BestIntelligibilityStep: stats.BestIntelligibilityStep,
		},
	}
	for i, r := range rows {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Format(time.RFC3339)
		}
		jr.Runs[i] = jsonRun{
			Step:                r.Step,
			DiffusionType:       r.DiffusionType,
			Samples:             r.Samples,
			FrechetDistance:     r.FrechetDistance,
			IntelligibilityLoss: r.IntelligibilityLoss,
			ElapsedMS:           float64(r.Elapsed.Milliseconds()),
			CreatedAt:           created,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
