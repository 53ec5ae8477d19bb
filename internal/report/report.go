// Package report summarizes a series run for operator inspection.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/your-org/nightscout-core/internal/models"
	"github.com/your-org/nightscout-core/internal/series"
)

// Summary holds the per-run figures. Insulin and carb totals are summed as
// decimals so the report never shows float drift; the engine outputs
// themselves stay float64 because their numeric behavior is contractual.
type Summary struct {
	RunID        string          `json:"run_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	SampleCount  int             `json:"sample_count"`
	MaxIOB       float64         `json:"max_iob"`
	MaxCOB       float64         `json:"max_cob"`
	TotalInsulin decimal.Decimal `json:"total_insulin"`
	TotalCarbs   decimal.Decimal `json:"total_carbs"`
	Treatments   int             `json:"treatments"`
}

// Summarize builds the run summary from a built series and the treatment
// list that fed it. Only treatments inside the window count toward totals.
func Summarize(result series.Result, treatments []models.Treatment, startMills, endMills int64) Summary {
	totalInsulin := decimal.Zero
	totalCarbs := decimal.Zero
	counted := 0

	for i := range treatments {
		t := &treatments[i]
		if t.Mills < startMills || t.Mills > endMills {
			continue
		}
		counted++
		if t.HasInsulin() {
			totalInsulin = totalInsulin.Add(decimal.NewFromFloat(t.Insulin))
		}
		if t.HasCarbs() {
			totalCarbs = totalCarbs.Add(decimal.NewFromFloat(t.Carbs))
		}
	}

	return Summary{
		RunID:        uuid.NewString(),
		GeneratedAt:  time.Now().UTC(),
		WindowStart:  time.UnixMilli(startMills).UTC(),
		WindowEnd:    time.UnixMilli(endMills).UTC(),
		SampleCount:  len(result.Points),
		MaxIOB:       result.MaxIOB,
		MaxCOB:       result.MaxCOB,
		TotalInsulin: totalInsulin,
		TotalCarbs:   totalCarbs,
		Treatments:   counted,
	}
}

// Render formats the summary as a readable block.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", s.RunID)
	fmt.Fprintf(&b, "window: %s .. %s\n", s.WindowStart.Format(time.RFC3339), s.WindowEnd.Format(time.RFC3339))
	fmt.Fprintf(&b, "samples: %d (treatments in window: %d)\n", s.SampleCount, s.Treatments)
	fmt.Fprintf(&b, "max IOB: %.3f U, max COB: %.1f g\n", s.MaxIOB, s.MaxCOB)
	fmt.Fprintf(&b, "totals: %s U insulin, %s g carbs\n", s.TotalInsulin.String(), s.TotalCarbs.String())
	return b.String()
}
