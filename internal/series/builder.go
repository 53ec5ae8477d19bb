// Package series evaluates the IOB and COB engines at a fixed cadence across
// a time window, producing plotting-ready samples.
package series

import (
	"github.com/your-org/nightscout-core/internal/cob"
	"github.com/your-org/nightscout-core/internal/iob"
	"github.com/your-org/nightscout-core/internal/models"
)

// DefaultIntervalMinutes is the sampling cadence used when none is configured.
const DefaultIntervalMinutes = 5

// Point is one sample of the series.
type Point struct {
	Mills int64
	IOB   models.IobResult
	COB   models.CobResult
}

// Result is the full series plus running maxima for axis scaling.
type Result struct {
	Points []Point
	MaxIOB float64
	MaxCOB float64
}

// Builder walks a time window tick by tick. Profile-dependent values are
// re-resolved on every tick; only the profile store's own short-TTL memo may
// short-circuit a lookup.
type Builder struct {
	iob             *iob.Calculator
	cob             *cob.Calculator
	intervalMinutes int
}

// NewBuilder returns a Builder sampling every intervalMinutes. Non-positive
// intervals fall back to DefaultIntervalMinutes.
func NewBuilder(iobCalc *iob.Calculator, cobCalc *cob.Calculator, intervalMinutes int) *Builder {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}
	return &Builder{iob: iobCalc, cob: cobCalc, intervalMinutes: intervalMinutes}
}

// Build samples both engines at every tick in [startMills, endMills],
// inclusive of the start and of any tick landing exactly on the end.
func (b *Builder) Build(treatments []models.Treatment, statuses []models.DeviceStatus, startMills, endMills int64, profileOverride string) Result {
	step := int64(b.intervalMinutes) * 60000
	var result Result

	for tick := startMills; tick <= endMills; tick += step {
		iobResult := b.iob.CalculateTotal(treatments, statuses, tick, profileOverride)
		cobResult := b.cob.CobTotal(treatments, statuses, tick, profileOverride)

		if iobResult.IOB > result.MaxIOB {
			result.MaxIOB = iobResult.IOB
		}
		if cobResult.COB > result.MaxCOB {
			result.MaxCOB = cobResult.COB
		}

		result.Points = append(result.Points, Point{
			Mills: tick,
			IOB:   iobResult,
			COB:   cobResult,
		})
	}
	return result
}
