package models

import (
	"encoding/json"
	"math"
	"testing"
)

// TestNewCoordinate verifies range and finiteness validation.
func TestNewCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"valid", 51.4769, 0.0005, false},
		{"poles", 90, 0, false},
		{"date line", 0, 180, false},
		{"lat too high", 90.01, 0, true},
		{"lon too low", 0, -180.01, true},
		{"nan", math.NaN(), 0, true},
		{"inf", 0, math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinate(tt.lat, tt.lon)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCoordinate(%v, %v) error = %v, wantErr %v", tt.lat, tt.lon, err, tt.wantErr)
			}
		})
	}
}

// TestCoordinate_Round verifies decimal rounding used for cache keys.
func TestCoordinate_Round(t *testing.T) {
	c := Coordinate{Latitude: 19.82061234, Longitude: -155.46815678}
	r := c.Round(4)
	if r.Latitude != 19.8206 || r.Longitude != -155.4682 {
		t.Errorf("Round(4) = %v,%v, want 19.8206,-155.4682", r.Latitude, r.Longitude)
	}
}

// TestHourlySample_JSONNullBands verifies nil bands are omitted rather than
// encoded as 0, which would read as clear sky.
func TestHourlySample_JSONNullBands(t *testing.T) {
	s := HourlySample{Total: Float(40), Source: "open-meteo"}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, present := decoded["low"]; present {
		t.Error("nil band serialized; missing data must stay absent")
	}
	if decoded["total"] != 40.0 {
		t.Errorf("total = %v, want 40", decoded["total"])
	}
}

// TestForecastSeries_JSONRoundTrip verifies a cached series survives
// marshal/unmarshal with nil bands intact.
func TestForecastSeries_JSONRoundTrip(t *testing.T) {
	series := ForecastSeries{
		Coordinate: Coordinate{Latitude: 51.4769, Longitude: 0.0005},
		Hours:      2,
		Samples: []HourlySample{
			{Total: Float(40), Low: Float(10), Source: "open-meteo"},
			{Total: Float(70), Source: "met-no"},
		},
		SecondaryOnly: true,
	}
	raw, err := json.Marshal(series)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got ForecastSeries
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.SecondaryOnly || len(got.Samples) != 2 {
		t.Fatalf("got = %+v", got)
	}
	if got.Samples[0].Medium != nil {
		t.Error("absent band decoded as non-nil")
	}
	if *got.Samples[1].Total != 70 {
		t.Errorf("Total = %v, want 70", *got.Samples[1].Total)
	}
}
