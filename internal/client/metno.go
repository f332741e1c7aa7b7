package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nightsky/skycover/internal/circuitbreaker"
	"github.com/nightsky/skycover/internal/models"
)

// ProviderMetNo names the secondary hourly provider.
const ProviderMetNo = "met-no"

// MetNoClient fetches cloud area fractions from the MET Norway
// Locationforecast 2.0 compact endpoint. MET requires a User-Agent that
// identifies the calling service. The series is hourly near-term and sparser
// further out, so it mostly serves gap filling and cross-validation.
type MetNoClient struct {
	baseURL string
	req     *requester
}

// NewMetNoClient creates the secondary weather provider client. userAgent
// must identify this service per the MET terms of use.
func NewMetNoClient(baseURL, userAgent string, timeout time.Duration, retry RetryConfig) *MetNoClient {
	req := newRequester(ProviderMetNo, timeout, retry)
	req.headers = map[string]string{"User-Agent": userAgent}
	return &MetNoClient{baseURL: baseURL, req: req}
}

// Name implements merge.HourlyProvider.
func (c *MetNoClient) Name() string { return ProviderMetNo }

// SetBreaker attaches a circuit breaker to the underlying requester.
func (c *MetNoClient) SetBreaker(b *circuitbreaker.Breaker) { c.req.SetBreaker(b) }

// metNoResponse mirrors the locationforecast compact shape. Band fields are
// pointers: a missing field must not read as 0% (clear sky).
type metNoResponse struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						CloudAreaFraction       *float64 `json:"cloud_area_fraction"`
						CloudAreaFractionLow    *float64 `json:"cloud_area_fraction_low"`
						CloudAreaFractionMedium *float64 `json:"cloud_area_fraction_medium"`
						CloudAreaFractionHigh   *float64 `json:"cloud_area_fraction_high"`
					} `json:"details"`
				} `json:"instant"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// HourlyForecast fetches samples for coord within the next hours, translated
// to the canonical shape.
func (c *MetNoClient) HourlyForecast(ctx context.Context, coord models.Coordinate, hours int) ([]models.HourlySample, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.4f", coord.Latitude))
	params.Set("lon", fmt.Sprintf("%.4f", coord.Longitude))
	u := c.baseURL + "/weatherapi/locationforecast/2.0/compact?" + params.Encode()

	var resp metNoResponse
	if err := c.req.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return c.translate(resp, hours), nil
}

// translate keeps the entries inside the requested horizon and maps the
// cloud_area_fraction fields onto the canonical bands.
func (c *MetNoClient) translate(resp metNoResponse, hours int) []models.HourlySample {
	horizon := time.Now().UTC().Truncate(time.Hour).Add(time.Duration(hours) * time.Hour)
	series := resp.Properties.Timeseries
	samples := make([]models.HourlySample, 0, len(series))
	for _, entry := range series {
		t := entry.Time.UTC()
		if !t.Before(horizon) {
			continue
		}
		d := entry.Data.Instant.Details
		s := models.HourlySample{
			Time:   t,
			Total:  clampBand(d.CloudAreaFraction),
			Low:    clampBand(d.CloudAreaFractionLow),
			Medium: clampBand(d.CloudAreaFractionMedium),
			High:   clampBand(d.CloudAreaFractionHigh),
			Source: ProviderMetNo,
		}
		if s.Total == nil && s.Low == nil && s.Medium == nil && s.High == nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples
}

// clampBand drops values outside the percentage range.
func clampBand(v *float64) *float64 {
	if v == nil || *v < 0 || *v > 100 {
		return nil
	}
	out := *v
	return &out
}
