package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const (
	// OpenWeather API base URL and endpoints
	openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
	currentEndpoint    = "/weather"
	forecastEndpoint   = "/forecast"

	defaultTimeout      = 10 * time.Second
	defaultRetryWait    = 1 * time.Second
	defaultRetryMaxWait = 5 * time.Second
	defaultBreakerTrip  = 5
	defaultBreakerOpen  = 1 * time.Minute

	// OpenWeather caps the 5 day / 3 hour forecast at 40 samples
	maxForecastCount = 40

	userAgent = "Snowlog/1.0"
)

var (
	// ErrNoAPIKey is returned before any request when no key is configured.
	ErrNoAPIKey = errors.New("openweather api key is not configured")
	// ErrMalformedResponse is returned when a 2xx body is not valid JSON.
	ErrMalformedResponse = errors.New("openweather returned a malformed response")
	// ErrCircuitOpen is returned while the breaker rejects requests.
	ErrCircuitOpen = errors.New("openweather circuit breaker open")
)

// OpenWeatherConfig configures the OpenWeather client.
type OpenWeatherConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryWait       time.Duration
	RetryMaxWait    time.Duration
	RateLimit       int    // requests per minute, 0 disables limiting
	BreakerFailures uint32 // consecutive failures that open the breaker
	BreakerTimeout  time.Duration
}

// OpenWeatherClient talks to the OpenWeather current weather and 5 day /
// 3 hour forecast endpoints.
type OpenWeatherClient struct {
	client  *resty.Client
	apiKey  string
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient builds a client. A missing API key is allowed; such a
// client reports Configured() == false and refuses to make requests.
func NewOpenWeatherClient(cfg OpenWeatherConfig) *OpenWeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openWeatherBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = defaultRetryMaxWait
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerTrip
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerOpen
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return errorutil.IsTransient(err)
			}
			return errorutil.IsRetryableStatus(resp.StatusCode())
		})

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		headers := make(map[string]string)
		for key, values := range req.Header {
			if len(values) > 0 {
				headers[key] = values[0]
			}
		}
		logger.LogAPIRequest(req.Method, req.URL, headers)
		return nil
	})

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.LogAPIResponse(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.LogWithFields(logger.WarnLevel, "Circuit breaker state changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	var limiter *RateLimiter
	if cfg.RateLimit > 0 {
		limiter = NewRateLimiter(cfg.RateLimit, time.Minute)
	}

	return &OpenWeatherClient{
		client:  client,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		limiter: limiter,
		breaker: breaker,
	}
}

// Configured reports whether an API key is present.
func (w *OpenWeatherClient) Configured() bool {
	return w != nil && w.apiKey != ""
}

// ForecastParams contains parameters for weather requests
type ForecastParams struct {
	Latitude  float64
	Longitude float64
	Units     string // metric, imperial or standard; empty means metric
	Count     int    // forecast samples, forecast endpoint only (max 40)
}

// CurrentWeatherResponse is the subset of the OpenWeather current weather
// payload this service reads.
type CurrentWeatherResponse struct {
	Coord   Coordinates        `json:"coord"`
	Weather []WeatherCondition `json:"weather"`
	Main    MainWeatherData    `json:"main"`
	Wind    WindData           `json:"wind"`
	Clouds  CloudData          `json:"clouds"`
	Rain    *PrecipitationData `json:"rain,omitempty"`
	Snow    *PrecipitationData `json:"snow,omitempty"`
	Dt      int64              `json:"dt"`
	Name    string             `json:"name"`

	// Set from the raw body; a zero-valued struct cannot tell an absent
	// object from one full of zeros.
	HasWeather bool `json:"-"`
	HasMain    bool `json:"-"`
}

// ForecastResponse is the OpenWeather 5 day / 3 hour forecast payload.
type ForecastResponse struct {
	Cnt  int            `json:"cnt"`
	List []ForecastItem `json:"list"`
	City CityInfo       `json:"city"`
}

// ForecastItem is a single 3 hour forecast sample.
type ForecastItem struct {
	Dt      int64              `json:"dt"`
	Main    MainWeatherData    `json:"main"`
	Weather []WeatherCondition `json:"weather"`
	Wind    WindData           `json:"wind"`
	Pop     float64            `json:"pop"`
	Rain    *PrecipitationData `json:"rain,omitempty"`
	Snow    *PrecipitationData `json:"snow,omitempty"`
	DtTxt   string             `json:"dt_txt"`
}

// MainWeatherData contains temperature, pressure, and humidity information
type MainWeatherData struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  int     `json:"humidity"`
}

// WeatherCondition is one entry of the "weather" array.
type WeatherCondition struct {
	Id          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type CloudData struct {
	All int `json:"all"`
}

// WindData is wind speed (m/s for metric) and direction in degrees.
type WindData struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg"`
	Gust  float64 `json:"gust"`
}

// PrecipitationData is a precipitation volume in mm.
type PrecipitationData struct {
	OneHour   float64 `json:"1h,omitempty"`
	ThreeHour float64 `json:"3h,omitempty"`
}

// Volume prefers the 1 hour figure and falls back to the 3 hour one.
func (p *PrecipitationData) Volume() float64 {
	if p == nil {
		return 0
	}
	if p.OneHour > 0 {
		return p.OneHour
	}
	return p.ThreeHour
}

type CityInfo struct {
	Id       int         `json:"id"`
	Name     string      `json:"name"`
	Coord    Coordinates `json:"coord"`
	Country  string      `json:"country"`
	Timezone int         `json:"timezone"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GetCurrentWeather fetches current conditions for a coordinate.
func (w *OpenWeatherClient) GetCurrentWeather(ctx context.Context, params ForecastParams) (*CurrentWeatherResponse, error) {
	params.Count = 0
	body, err := w.fetch(ctx, "weather_api_current", currentEndpoint, params)
	if err != nil {
		return nil, err
	}

	var resp CurrentWeatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	resp.HasWeather = gjson.GetBytes(body, "weather.0").Exists()
	resp.HasMain = gjson.GetBytes(body, "main").IsObject()
	return &resp, nil
}

// GetForecast fetches up to params.Count forecast samples (all when zero).
func (w *OpenWeatherClient) GetForecast(ctx context.Context, params ForecastParams) (*ForecastResponse, error) {
	body, err := w.fetch(ctx, "weather_api_forecast", forecastEndpoint, params)
	if err != nil {
		return nil, err
	}

	var resp ForecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &resp, nil
}

// fetch runs one GET through the rate limiter and circuit breaker and
// returns the validated JSON body.
func (w *OpenWeatherClient) fetch(ctx context.Context, operation, endpoint string, params ForecastParams) ([]byte, error) {
	if !w.Configured() {
		return nil, ErrNoAPIKey
	}
	if params.Units == "" {
		params.Units = "metric"
	}
	if err := validateForecastParams(params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	complete := logger.LogOperationStart(operation, map[string]any{
		"endpoint":  endpoint,
		"latitude":  params.Latitude,
		"longitude": params.Longitude,
		"units":     params.Units,
	})

	if err := w.limiter.Wait(ctx); err != nil {
		err = fmt.Errorf("rate limiter cancelled: %w", err)
		complete(err)
		return nil, err
	}

	query := map[string]string{
		"lat":   fmt.Sprintf("%f", params.Latitude),
		"lon":   fmt.Sprintf("%f", params.Longitude),
		"appid": w.apiKey,
		"units": params.Units,
	}
	if params.Count > 0 {
		query["cnt"] = fmt.Sprintf("%d", params.Count)
	}

	result, err := w.breaker.Execute(func() (interface{}, error) {
		resp, err := w.client.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(endpoint)
		if err != nil {
			return nil, errorutil.LogNetworkError(logger.Get().Logger, errorutil.NewNetworkError(operation, endpoint, 0, err))
		}
		if !resp.IsSuccess() {
			return nil, parseOpenWeatherError(resp.StatusCode(), resp.Body())
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		complete(err)
		return nil, err
	}

	body, _ := result.([]byte)
	if !gjson.ValidBytes(body) {
		complete(ErrMalformedResponse)
		return nil, ErrMalformedResponse
	}

	complete(nil)
	return body, nil
}

// parseOpenWeatherError builds an OpenWeatherAPIError from an error body.
// OpenWeather sends "cod" as a number on /weather and as a string on
// /forecast; gjson reads both.
func parseOpenWeatherError(statusCode int, body []byte) error {
	apiErr := &OpenWeatherAPIError{StatusCode: statusCode, Code: statusCode}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if code := parsed.Get("cod").Int(); code != 0 {
			apiErr.Code = int(code)
		}
		apiErr.Message = parsed.Get("message").String()
	}
	if apiErr.Message != "" {
		return apiErr
	}

	switch statusCode {
	case http.StatusUnauthorized:
		apiErr.Message = "Invalid API key. Please verify your OpenWeather API key."
	case http.StatusNotFound:
		apiErr.Message = "Location not found. Please check your coordinates."
	case http.StatusTooManyRequests:
		apiErr.Message = "API rate limit exceeded. Please try again later."
	default:
		apiErr.Message = fmt.Sprintf("API request failed with status %d", statusCode)
	}
	return apiErr
}

// OpenWeatherAPIError represents an error response from the OpenWeather API
type OpenWeatherAPIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *OpenWeatherAPIError) Error() string {
	return fmt.Sprintf("OpenWeather API error (code %d): %s", e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *OpenWeatherAPIError) Retryable() bool {
	return errorutil.IsRetryableStatus(e.StatusCode)
}

// validateForecastParams validates input parameters for API requests
func validateForecastParams(params ForecastParams) error {
	var errs errorutil.ValidationErrors

	errs.Check(errorutil.ValidateCoordinate("latitude", params.Latitude, true))
	errs.Check(errorutil.ValidateCoordinate("longitude", params.Longitude, false))
	if params.Units != "" {
		errs.Check(errorutil.ValidateEnum("units", params.Units, []string{"metric", "imperial", "standard"}))
	}
	if params.Count != 0 {
		errs.Check(errorutil.ValidateIntRange("count", params.Count, 1, maxForecastCount))
	}

	return errs.Err()
}
