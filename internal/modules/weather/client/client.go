// Package client fetches forecasts from the Open-Meteo API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	forecastDays  = 7
	maxBodyBytes  = 4 << 20
	dateLayout    = "2006-01-02"
	maxLatitude   = 90
	maxLongitude  = 180
	errBodyPrefix = 512
)

var dailyFields = []string{
	"weathercode",
	"temperature_2m_max",
	"temperature_2m_min",
	"apparent_temperature_max",
	"apparent_temperature_min",
	"sunrise",
	"sunset",
	"precipitation_sum",
	"rain_sum",
	"showers_sum",
	"snowfall_sum",
	"precipitation_hours",
	"windspeed_10m_max",
	"windgusts_10m_max",
	"winddirection_10m_dominant",
	"shortwave_radiation_sum",
	"et0_fao_evapotranspiration",
	"uv_index_max",
	"uv_index_clear_sky_max",
}

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUpstream           = errors.New("weather upstream error")
)

// WeatherClient returns the raw forecast document so callers get every
// field the upstream provides.
type WeatherClient interface {
	Forecast(ctx context.Context, lat, lon string) (json.RawMessage, error)
}

type weatherClientImpl struct {
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
}

func NewWeatherClient(baseURL string, timeout time.Duration) WeatherClient {
	return &weatherClientImpl{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		now:        time.Now,
	}
}

func (c *weatherClientImpl) Forecast(ctx context.Context, lat, lon string) (json.RawMessage, error) {
	u, err := c.forecastURL(lat, lon)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > errBodyPrefix {
			snippet = snippet[:errBodyPrefix]
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(snippet))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstream)
	}
	return json.RawMessage(body), nil
}

func (c *weatherClientImpl) forecastURL(lat, lon string) (string, error) {
	if err := checkCoordinate("lat", lat, maxLatitude); err != nil {
		return "", err
	}
	if err := checkCoordinate("lon", lon, maxLongitude); err != nil {
		return "", err
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse weather base url: %w", err)
	}

	start := c.now().UTC()
	end := start.AddDate(0, 0, forecastDays-1)

	q := base.Query()
	q.Set("latitude", lat)
	q.Set("longitude", lon)
	q.Set("current_weather", "true")
	q.Set("daily", strings.Join(dailyFields, ","))
	q.Set("timezone", "auto")
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", end.Format(dateLayout))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func checkCoordinate(name, v string, bound float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%w: %s %q is not a number", ErrInvalidCoordinates, name, v)
	}
	if f < -bound || f > bound {
		return fmt.Errorf("%w: %s %q out of range", ErrInvalidCoordinates, name, v)
	}
	return nil
}
