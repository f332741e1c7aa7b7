package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
)

// TestValidateQuery covers trimming, length bounds, and the allowed
// character set.
func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "mauna kea", "mauna kea", false},
		{"trimmed", "  Paranal  ", "Paranal", false},
		{"punctuation", "St. John's, Newfoundland-Labrador", "St. John's, Newfoundland-Labrador", false},
		{"unicode letters", "Zürich", "Zürich", false},
		{"digits", "area 51", "area 51", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"too short", "a", "", true},
		{"too long", strings.Repeat("a", QueryMaxLength+1), "", true},
		{"semicolon", "bad;query", "", true},
		{"angle brackets", "<script>", "", true},
		{"slash", "a/b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuery(tt.input)
			if tt.wantErr {
				if !errors.Is(err, faults.ErrInvalidInput) {
					t.Errorf("ValidateQuery(%q) error = %v, want ErrInvalidInput", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateQuery(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateQuery(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidateQuery_MaxLengthBoundary verifies the inclusive upper bound.
func TestValidateQuery_MaxLengthBoundary(t *testing.T) {
	exact := strings.Repeat("a", QueryMaxLength)
	if _, err := ValidateQuery(exact); err != nil {
		t.Errorf("ValidateQuery(len=%d) error = %v, want nil", QueryMaxLength, err)
	}
}

// TestValidateCoordinate verifies range and finiteness checks map to
// ErrInvalidInput.
func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"valid", 51.4769, 0.0005, false},
		{"boundary north pole", 90, 0, false},
		{"boundary date line", 0, -180, false},
		{"latitude high", 90.1, 0, true},
		{"latitude low", -90.1, 0, true},
		{"longitude high", 0, 180.1, true},
		{"longitude low", 0, -180.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinate(models.Coordinate{Latitude: tt.lat, Longitude: tt.lon})
			if tt.wantErr && !errors.Is(err, faults.ErrInvalidInput) {
				t.Errorf("ValidateCoordinate() error = %v, want ErrInvalidInput", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCoordinate() error = %v, want nil", err)
			}
		})
	}
}

// TestClampHours verifies default substitution, truncation, and the negative
// rejection.
func TestClampHours(t *testing.T) {
	tests := []struct {
		name    string
		hours   int
		want    int
		wantErr bool
	}{
		{"zero takes default", 0, 48, false},
		{"in range", 24, 24, false},
		{"at max", 72, 72, false},
		{"above max truncated", 500, 72, false},
		{"negative rejected", -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClampHours(tt.hours, 48, 72)
			if tt.wantErr {
				if !errors.Is(err, faults.ErrInvalidInput) {
					t.Errorf("ClampHours(%d) error = %v, want ErrInvalidInput", tt.hours, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClampHours(%d) error = %v", tt.hours, err)
			}
			if got != tt.want {
				t.Errorf("ClampHours(%d) = %d, want %d", tt.hours, got, tt.want)
			}
		})
	}
}
