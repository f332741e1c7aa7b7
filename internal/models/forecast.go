package models

import (
	"fmt"
	"math"
	"time"
)

// Coordinate is a validated WGS84 position. Construct via NewCoordinate or
// call Validate before use; out-of-range values must never reach a provider.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate returns a validated Coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate checks that both components are finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) ||
		math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("coordinate must be finite")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Round returns the coordinate rounded to the given number of decimal places.
// Cache keys use rounded coordinates so near-identical lookups share entries.
func (c Coordinate) Round(precision int) Coordinate {
	f := math.Pow10(precision)
	return Coordinate{
		Latitude:  math.Round(c.Latitude*f) / f,
		Longitude: math.Round(c.Longitude*f) / f,
	}
}

// HourlySample is one hour of cloud cover, UTC hour-aligned. Band percentages
// are nil when the originating provider did not report that layer.
type HourlySample struct {
	Time   time.Time `json:"time"`
	Total  *float64  `json:"total,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Medium *float64  `json:"medium,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Source string    `json:"source"`
}

// ForecastSeries is an ordered, deduplicated hourly series. Immutable once
// built; safe to cache and share across concurrent readers.
type ForecastSeries struct {
	Coordinate    Coordinate     `json:"coordinate"`
	Hours         int            `json:"hours"`
	Samples       []HourlySample `json:"samples"`
	SecondaryOnly bool           `json:"secondaryOnly,omitempty"`
	FetchedAt     time.Time      `json:"fetchedAt"`
}

// GeocodeResult is one candidate location for a free-text query.
type GeocodeResult struct {
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
	Admin1     string     `json:"admin1,omitempty"`
	Country    string     `json:"country,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
}

// AstroReport holds moon and twilight data for one date at one coordinate.
type AstroReport struct {
	Date             string  `json:"date"`
	Sunrise          string  `json:"sunrise"`
	Sunset           string  `json:"sunset"`
	Moonrise         string  `json:"moonrise"`
	Moonset          string  `json:"moonset"`
	MoonPhase        string  `json:"moonPhase"`
	MoonIllumination float64 `json:"moonIllumination"`
}

// Float returns a pointer to v. Convenience for building nullable band values.
func Float(v float64) *float64 { return &v }
