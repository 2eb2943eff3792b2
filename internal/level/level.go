// v1
// internal/level/level.go
package level

import (
	"errors"
	"fmt"
	"sort"
)

// Color is an RGB triple as accepted by the LED controller.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Band is one contiguous AQI sub-range mapped to a display color. Its
// upper edge is the next band's lower bound; the last band is unbounded.
type Band struct {
	Name       string
	LowerBound float64
	Color      Color
}

// Table holds the ordered band list plus the designated color used for
// the no-data condition, which is deliberately not one of the bands.
type Table struct {
	bands   []Band
	unknown Color
}

// NewTable validates and freezes a band configuration. The bands must
// partition [0, ∞): the lowest band starts at zero and bounds strictly
// increase. Validation failures are configuration errors and fatal at
// startup.
func NewTable(bands []Band, unknown Color) (*Table, error) {
	if len(bands) == 0 {
		return nil, errors.New("band table is empty")
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LowerBound < sorted[j].LowerBound })

	if sorted[0].LowerBound != 0 {
		return nil, fmt.Errorf("lowest band %q must start at 0, has %v", sorted[0].Name, sorted[0].LowerBound)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].LowerBound <= sorted[i-1].LowerBound {
			return nil, fmt.Errorf("bands %q and %q have non-increasing bounds", sorted[i-1].Name, sorted[i].Name)
		}
	}
	for _, b := range sorted {
		if b.Name == "" {
			return nil, errors.New("band with empty name")
		}
	}
	return &Table{bands: sorted, unknown: unknown}, nil
}

// Map returns the unique band whose interval contains the value. Bands
// are closed on their lower edge and open on the upper one, so a value
// equal to a lower bound belongs to that band, not the previous one.
// Negative input clamps to the lowest band: raw sensor noise can yield a
// slightly negative apparent AQI and must never produce an error.
func (t *Table) Map(v float64) Band {
	for i := len(t.bands) - 1; i > 0; i-- {
		if v >= t.bands[i].LowerBound {
			return t.bands[i]
		}
	}
	return t.bands[0]
}

// Bands returns a copy of the ordered band list.
func (t *Table) Bands() []Band {
	out := make([]Band, len(t.bands))
	copy(out, t.bands)
	return out
}

// Unknown returns the no-data color.
func (t *Table) Unknown() Color {
	return t.unknown
}

// DefaultBands returns the published US EPA AQI table with its standard
// colors. Callers receive a fresh slice.
func DefaultBands() []Band {
	return []Band{
		{Name: "Good", LowerBound: 0, Color: Color{R: 0, G: 228, B: 0}},
		{Name: "Moderate", LowerBound: 51, Color: Color{R: 255, G: 255, B: 0}},
		{Name: "Unhealthy for Sensitive Groups", LowerBound: 101, Color: Color{R: 255, G: 126, B: 0}},
		{Name: "Unhealthy", LowerBound: 151, Color: Color{R: 255, G: 0, B: 0}},
		{Name: "Very Unhealthy", LowerBound: 201, Color: Color{R: 143, G: 63, B: 151}},
		{Name: "Hazardous", LowerBound: 301, Color: Color{R: 126, G: 0, B: 35}},
	}
}

// DefaultUnknown is the dim white used while no consensus is available.
func DefaultUnknown() Color {
	return Color{R: 100, G: 100, B: 100}
}
