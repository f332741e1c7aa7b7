package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nightsky/skycover/internal/models"
)

// ProviderGeocode names the geocoding provider.
const ProviderGeocode = "geocode"

// GeocodeClient resolves free-text locations via the Open-Meteo geocoding
// API. No credential required.
type GeocodeClient struct {
	baseURL string
	req     *requester
}

// NewGeocodeClient creates the geocoding provider client.
func NewGeocodeClient(baseURL string, timeout time.Duration, retry RetryConfig) *GeocodeClient {
	return &GeocodeClient{
		baseURL: baseURL,
		req:     newRequester(ProviderGeocode, timeout, retry),
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string   `json:"name"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Country   string   `json:"country"`
		Admin1    string   `json:"admin1"`
		Timezone  string   `json:"timezone"`
	} `json:"results"`
}

// Search returns up to limit candidates for query, ordered by provider
// relevance. A provider answer with no results is an empty slice and nil
// error; transport failures carry faults.ErrTransport. Candidates without
// numeric in-range coordinates are dropped, not propagated.
func (c *GeocodeClient) Search(ctx context.Context, query string, limit int) ([]models.GeocodeResult, error) {
	params := url.Values{}
	params.Set("name", query)
	params.Set("count", fmt.Sprintf("%d", limit))
	params.Set("format", "json")
	u := c.baseURL + "/v1/search?" + params.Encode()

	var resp geocodeResponse
	if err := c.req.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	out := make([]models.GeocodeResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Latitude == nil || r.Longitude == nil {
			continue
		}
		coord, err := models.NewCoordinate(*r.Latitude, *r.Longitude)
		if err != nil {
			continue
		}
		out = append(out, models.GeocodeResult{
			Name:       r.Name,
			Coordinate: coord,
			Admin1:     r.Admin1,
			Country:    r.Country,
			Timezone:   r.Timezone,
		})
	}
	return out, nil
}
