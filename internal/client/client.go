package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// Endpoint labels, used in metrics and error messages.
const (
	EndpointGeocoding = "geocoding"
	EndpointCurrent   = "current"
	EndpointForecast  = "forecast"
)

const (
	geocodingPath = "/geo/1.0/direct"
	currentPath   = "/data/2.5/weather"
	forecastPath  = "/data/2.5/forecast"

	// DefaultBaseURL is the upstream provider's API host.
	DefaultBaseURL = "https://api.openweathermap.org"
	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 10 * time.Second
)

// WeatherClient is the upstream provider boundary.
type WeatherClient interface {
	Geocode(ctx context.Context, query string, limit int) ([]GeoResult, error)
	CurrentConditions(ctx context.Context, lat, lon float64) (CurrentResponse, error)
	Forecast(ctx context.Context, lat, lon float64, count int) ([]models.RawSample, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	// ErrInvalidCredentials is returned when the provider rejects the API key (HTTP 401).
	// The wrapped message carries the provider's own explanation.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrRateLimited        = errors.New("rate limited")
	ErrCircuitOpen        = errors.New("circuit breaker open")
)

// GeoResult is one upstream geocoding record.
type GeoResult struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentResponse is the upstream current-conditions payload. Absent fields
// decode to zero values; Weather is nil when the array is missing.
type CurrentResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Weather    []models.Condition `json:"weather"`
	Visibility int                `json:"visibility"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Pop  float64 `json:"pop"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
		Weather []models.Condition `json:"weather"`
	} `json:"list"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// OpenWeatherClient calls the provider's geocoding, current-conditions and
// forecast endpoints. One attempt per call by default; retries with backoff
// are enabled by NewOpenWeatherClientWithRetry with attempts > 1.
type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient creates a client that never retries.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, baseURL, timeout, 1, 100*time.Millisecond, 2*time.Second)
}

// NewOpenWeatherClientWithRetry creates a client with bounded retry. retryAttempts
// counts the first call, so 1 disables retries.
func NewOpenWeatherClientWithRetry(apiKey, baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidCredentials)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenWeatherClient{
		apiKey:         strings.TrimSpace(apiKey),
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// Geocode resolves a free-text query to at most limit places.
func (c *OpenWeatherClient) Geocode(ctx context.Context, query string, limit int) ([]GeoResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var out []GeoResult
	if err := c.get(ctx, EndpointGeocoding, geocodingPath, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentConditions fetches current weather for a coordinate in metric units.
func (c *OpenWeatherClient) CurrentConditions(ctx context.Context, lat, lon float64) (CurrentResponse, error) {
	var out CurrentResponse
	if err := c.get(ctx, EndpointCurrent, currentPath, coordParams(lat, lon), &out); err != nil {
		return CurrentResponse{}, err
	}
	return out, nil
}

// Forecast fetches count three-hour samples for a coordinate in metric units,
// preserving upstream order.
func (c *OpenWeatherClient) Forecast(ctx context.Context, lat, lon float64, count int) ([]models.RawSample, error) {
	params := coordParams(lat, lon)
	params.Set("cnt", strconv.Itoa(count))

	var resp forecastResponse
	if err := c.get(ctx, EndpointForecast, forecastPath, params, &resp); err != nil {
		return nil, err
	}
	samples := make([]models.RawSample, 0, len(resp.List))
	for _, item := range resp.List {
		samples = append(samples, models.RawSample{
			DT:        item.Dt,
			Temp:      item.Main.Temp,
			Pop:       item.Pop,
			WindSpeed: item.Wind.Speed,
			WindDeg:   item.Wind.Deg,
			Weather:   item.Weather,
		})
	}
	return samples, nil
}

// ValidateAPIKey issues a single geocoding probe and reports whether the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	params.Set("limit", "1")
	var out []GeoResult
	if err := c.callAPI(ctx, EndpointGeocoding, geocodingPath, params, &out); err != nil {
		return fmt.Errorf("validate API key: %w", err)
	}
	return nil
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", models.FormatCoord(lat))
	params.Set("lon", models.FormatCoord(lon))
	params.Set("units", "metric")
	return params
}

func (c *OpenWeatherClient) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.callAPI(ctx, endpoint, path, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		observability.WeatherAPIErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
		if !c.isRetryable(err) {
			return err
		}
	}

	if c.retryAttempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	if c.breaker == nil {
		return c.doRequest(ctx, endpoint, path, params, out)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doRequest(ctx, endpoint, path, params, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *OpenWeatherClient) doRequest(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s request timeout: %w", endpoint, err)
		}
		return fmt.Errorf("%s http request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse maps non-2xx statuses to sentinel errors. A 401 carries
// the provider's message so callers can tell misconfiguration from an outage.
func handleErrorResponse(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		msg := "Invalid API key"
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && strings.TrimSpace(e.Message) != "" {
			msg = e.Message
		}
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	return nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return CategorizeError(err) == ErrorCategoryTimeout || CategorizeError(err) == ErrorCategoryNetwork
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
