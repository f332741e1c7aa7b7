package cache

import (
	"fmt"
	"strings"

	"github.com/nightsky/skycover/internal/models"
)

// VersionKey stores the process-wide cache version counter. No TTL.
const VersionKey = "skycover:cache:version"

// WeatherKey builds the forecast cache key. It incorporates everything that
// affects the cached value: the coordinate rounded to precision decimal
// places, the requested hour count, and the provider set, so that lookups
// with different parameters never share an entry.
func WeatherKey(c models.Coordinate, precision, hours int, providers string) string {
	r := c.Round(precision)
	return fmt.Sprintf("skycover:weather:%.*f,%.*f:%dh:%s",
		precision, r.Latitude, precision, r.Longitude, hours, providers)
}

// GeocodeKey builds the geocoding cache key from the normalized query.
func GeocodeKey(query string) string {
	return "skycover:geocode:" + strings.ToLower(strings.TrimSpace(query))
}

// AstroKey builds the astronomy cache key for one coordinate and date.
func AstroKey(c models.Coordinate, precision int, date string) string {
	r := c.Round(precision)
	return fmt.Sprintf("skycover:astro:%.*f,%.*f:%s",
		precision, r.Latitude, precision, r.Longitude, date)
}
