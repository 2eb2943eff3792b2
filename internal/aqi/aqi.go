// v1
// internal/aqi/aqi.go
package aqi

import "errors"

// ErrNoReadings is returned when a consensus is requested over an empty
// set of readings. Callers must treat this as a distinct no-data state
// instead of substituting a value.
var ErrNoReadings = errors.New("no valid readings available")

// breakpoint maps one segment of the US EPA PM2.5 concentration scale
// onto the corresponding AQI segment.
type breakpoint struct {
	concLow, concHigh float64
	aqiLow, aqiHigh   float64
}

// US EPA 2012 PM2.5 breakpoints, highest segment first so lookup can
// stop at the first matching lower edge.
var pm25Breakpoints = []breakpoint{
	{350.5, 500.5, 400, 500},
	{250.5, 350.5, 300, 400},
	{150.5, 250.5, 200, 300},
	{55.5, 150.5, 150, 200},
	{35.5, 55.5, 100, 150},
	{12.0, 35.5, 50, 100},
	{0.0, 12.0, 0, 50},
}

// FromPM25 converts a PM2.5 concentration in µg/m³ into a US EPA AQI
// value by piecewise-linear interpolation over the published
// breakpoints. Concentrations above the scale clamp to 500.
// Non-positive concentrations pass through unchanged; clamping of
// negative values is the level mapper's concern.
func FromPM25(pm float64) float64 {
	if pm > 500 {
		return 500
	}
	for _, bp := range pm25Breakpoints {
		if pm > bp.concLow {
			return remap(pm, bp.concLow, bp.concHigh, bp.aqiLow, bp.aqiHigh)
		}
	}
	return pm
}

// remap projects value from the range [low1, high1] onto [low2, high2].
func remap(value, low1, high1, low2, high2 float64) float64 {
	return low2 + (high2-low2)*(value-low1)/(high1-low1)
}

// Consensus combines the AQI values of all currently valid readings into
// a single value using an arithmetic mean. Each sensor contributes one
// vote; the store guarantees at most one reading per sensor. The result
// is returned unrounded, and the input order is irrelevant.
func Consensus(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoReadings
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}
