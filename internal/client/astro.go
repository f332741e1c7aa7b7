package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
)

// ProviderAstro names the optional astronomy provider.
const ProviderAstro = "astro"

// AstroClient fetches moon phase, rise/set times, and twilight bounds from
// WeatherAPI.com. The provider needs an API key; without one the client
// reports faults.ErrDisabled and never touches the network.
type AstroClient struct {
	baseURL string
	apiKey  string
	req     *requester
}

// NewAstroClient creates the astronomy provider client. An empty apiKey
// yields a disabled client, which is a valid configuration.
func NewAstroClient(baseURL, apiKey string, timeout time.Duration, retry RetryConfig) *AstroClient {
	return &AstroClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		req:     newRequester(ProviderAstro, timeout, retry),
	}
}

// Enabled reports whether a credential is configured.
func (c *AstroClient) Enabled() bool { return c.apiKey != "" }

type astroResponse struct {
	Astronomy struct {
		Astro struct {
			Sunrise          string          `json:"sunrise"`
			Sunset           string          `json:"sunset"`
			Moonrise         string          `json:"moonrise"`
			Moonset          string          `json:"moonset"`
			MoonPhase        string          `json:"moon_phase"`
			MoonIllumination json.RawMessage `json:"moon_illumination"`
		} `json:"astro"`
	} `json:"astronomy"`
}

// FetchAstro returns astronomical data for coord on date (YYYY-MM-DD).
// Returns faults.ErrDisabled when no credential is configured.
func (c *AstroClient) FetchAstro(ctx context.Context, coord models.Coordinate, date string) (models.AstroReport, error) {
	if !c.Enabled() {
		return models.AstroReport{}, fmt.Errorf("%w: astronomy provider has no API key", faults.ErrDisabled)
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", fmt.Sprintf("%.4f,%.4f", coord.Latitude, coord.Longitude))
	params.Set("dt", date)
	u := c.baseURL + "/v1/astronomy.json?" + params.Encode()

	var resp astroResponse
	if err := c.req.getJSON(ctx, u, &resp); err != nil {
		return models.AstroReport{}, err
	}

	a := resp.Astronomy.Astro
	return models.AstroReport{
		Date:             date,
		Sunrise:          a.Sunrise,
		Sunset:           a.Sunset,
		Moonrise:         a.Moonrise,
		Moonset:          a.Moonset,
		MoonPhase:        a.MoonPhase,
		MoonIllumination: looseFloat(a.MoonIllumination),
	}, nil
}

// looseFloat parses a JSON number that some provider versions quote as a
// string.
func looseFloat(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
