package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nightsky/skycover/internal/circuitbreaker"
	"github.com/nightsky/skycover/internal/models"
)

// ProviderOpenMeteo names the primary hourly provider in metrics, cache keys,
// and sample source tags.
const ProviderOpenMeteo = "open-meteo"

// OpenMeteoClient fetches hourly cloud cover from the Open-Meteo forecast
// API. Open-Meteo reports all four bands (total, low, mid, high) at hourly
// resolution and needs no credential.
type OpenMeteoClient struct {
	baseURL string
	req     *requester
}

// NewOpenMeteoClient creates the primary weather provider client.
func NewOpenMeteoClient(baseURL string, timeout time.Duration, retry RetryConfig) *OpenMeteoClient {
	return &OpenMeteoClient{
		baseURL: baseURL,
		req:     newRequester(ProviderOpenMeteo, timeout, retry),
	}
}

// Name implements merge.HourlyProvider.
func (c *OpenMeteoClient) Name() string { return ProviderOpenMeteo }

// SetBreaker attaches a circuit breaker to the underlying requester.
func (c *OpenMeteoClient) SetBreaker(b *circuitbreaker.Breaker) { c.req.SetBreaker(b) }

// openMeteoResponse mirrors the provider's hourly block. The value arrays are
// index-aligned with Time; entries may be null.
type openMeteoResponse struct {
	Hourly struct {
		Time           []string   `json:"time"`
		CloudCover     []*float64 `json:"cloud_cover"`
		CloudCoverLow  []*float64 `json:"cloud_cover_low"`
		CloudCoverMid  []*float64 `json:"cloud_cover_mid"`
		CloudCoverHigh []*float64 `json:"cloud_cover_high"`
	} `json:"hourly"`
}

// HourlyForecast fetches up to hours of hourly samples for coord, translated
// to the canonical shape. Timestamps are UTC hour-aligned as requested from
// the provider via timezone=UTC.
func (c *OpenMeteoClient) HourlyForecast(ctx context.Context, coord models.Coordinate, hours int) ([]models.HourlySample, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", coord.Latitude))
	params.Set("longitude", fmt.Sprintf("%.4f", coord.Longitude))
	params.Set("hourly", "cloud_cover,cloud_cover_low,cloud_cover_mid,cloud_cover_high")
	params.Set("forecast_hours", fmt.Sprintf("%d", hours))
	params.Set("timezone", "UTC")
	u := c.baseURL + "/v1/forecast?" + params.Encode()

	var resp openMeteoResponse
	if err := c.req.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return c.translate(resp), nil
}

// translate converts the provider arrays into samples, skipping entries with
// unparseable timestamps or no band data at all.
func (c *OpenMeteoClient) translate(resp openMeteoResponse) []models.HourlySample {
	h := resp.Hourly
	samples := make([]models.HourlySample, 0, len(h.Time))
	for i, ts := range h.Time {
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			continue
		}
		s := models.HourlySample{
			Time:   t.UTC(),
			Total:  bandAt(h.CloudCover, i),
			Low:    bandAt(h.CloudCoverLow, i),
			Medium: bandAt(h.CloudCoverMid, i),
			High:   bandAt(h.CloudCoverHigh, i),
			Source: ProviderOpenMeteo,
		}
		if s.Total == nil && s.Low == nil && s.Medium == nil && s.High == nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples
}

// bandAt returns the i-th value of an index-aligned band array, nil when the
// array is short or the entry is null or out of the percentage range.
func bandAt(values []*float64, i int) *float64 {
	if i >= len(values) || values[i] == nil {
		return nil
	}
	v := *values[i]
	if v < 0 || v > 100 {
		return nil
	}
	return &v
}
