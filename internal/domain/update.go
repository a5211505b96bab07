package domain

import (
	"fmt"
	"math"
	"strings"
)

// CellUpdate is the inbound "apply single-cell update" command.
type CellUpdate struct {
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Field             string  `json:"field"`
	ForecastTimestamp string  `json:"forecast_timestamp"`
	Value             float64 `json:"value"`

	// Slice selects the time slice when the target chunk is stacked (3-D).
	Slice *int `json:"slice,omitempty"`
}

// Validate checks field presence and shape. Coordinates are only checked for
// being finite: out-of-domain points still resolve to their nearest chunk.
func (u CellUpdate) Validate() error {
	if math.IsNaN(u.Lat) || math.IsInf(u.Lat, 0) || math.IsNaN(u.Lon) || math.IsInf(u.Lon, 0) {
		return fmt.Errorf("%w: lat/lon must be finite", ErrInvalidUpdate)
	}
	if u.Lat < -90 || u.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range [-90, 90]", ErrInvalidUpdate, u.Lat)
	}
	if err := ValidateField(u.Field); err != nil {
		return err
	}
	if u.ForecastTimestamp == "" {
		return fmt.Errorf("%w: forecast_timestamp is required", ErrInvalidUpdate)
	}
	if _, err := ParseRun(u.ForecastTimestamp); err != nil {
		return err
	}
	if u.Slice != nil && *u.Slice < 0 {
		return fmt.Errorf("%w: slice must be non-negative", ErrInvalidUpdate)
	}
	return nil
}

// ValidateField rejects field names that are empty or would escape the run
// directory. Slash-separated names such as "surface/TMP" are allowed.
func ValidateField(field string) error {
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidUpdate)
	}
	if strings.HasPrefix(field, "/") || strings.Contains(field, `\`) {
		return fmt.Errorf("%w: field %q must be a relative path", ErrInvalidUpdate, field)
	}
	for _, seg := range strings.Split(field, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: field %q has an invalid segment", ErrInvalidUpdate, field)
		}
	}
	return nil
}
