package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const (
	testAPIKey    = "test-key"
	testLatitude  = 45.0
	testLongitude = -75.0
)

const currentBody = `{
	"coord": {"lon": -75.0, "lat": 45.0},
	"weather": [{"id": 600, "main": "Snow", "description": "light snow", "icon": "13d"}],
	"main": {"temp": -5.2, "feels_like": -9.1, "temp_min": -6, "temp_max": -4, "pressure": 1012, "humidity": 86},
	"wind": {"speed": 4.5, "deg": 270},
	"snow": {"1h": 1.4},
	"dt": 1705312800,
	"name": "Ottawa"
}`

const forecastBody = `{
	"cnt": 3,
	"list": [
		{"dt": 1705312800, "main": {"temp": -4.0}, "weather": [{"main": "Snow", "description": "snow"}]},
		{"dt": 1705323600, "main": {"temp": -7.5}, "weather": [{"main": "Clouds", "description": "overcast clouds"}]},
		{"dt": 1705334400, "main": {"temp": -2.1}, "weather": [{"main": "Clear", "description": "clear sky"}]}
	],
	"city": {"name": "Ottawa", "country": "CA"}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenWeatherClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOpenWeatherClient(OpenWeatherConfig{
		APIKey:         testAPIKey,
		BaseURL:        server.URL,
		Timeout:        2 * time.Second,
		MaxRetries:     0,
		BreakerTimeout: time.Minute,
	})
}

func TestOpenWeatherClientConfigured(t *testing.T) {
	if NewOpenWeatherClient(OpenWeatherConfig{}).Configured() {
		t.Error("client without key reports configured")
	}
	if !NewOpenWeatherClient(OpenWeatherConfig{APIKey: "abc"}).Configured() {
		t.Error("client with key reports unconfigured")
	}

	var nilClient *OpenWeatherClient
	if nilClient.Configured() {
		t.Error("nil client reports configured")
	}
}

func TestGetCurrentWeather(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weather" {
			t.Errorf("path = %s, want /weather", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("appid") != testAPIKey {
			t.Errorf("appid = %q", q.Get("appid"))
		}
		if q.Get("units") != "metric" {
			t.Errorf("units = %q, want metric", q.Get("units"))
		}
		if q.Get("cnt") != "" {
			t.Error("cnt sent on current weather request")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(currentBody))
	})

	resp, err := client.GetCurrentWeather(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude})
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}

	if resp.Main.Temp != -5.2 {
		t.Errorf("temp = %v, want -5.2", resp.Main.Temp)
	}
	if !resp.HasWeather || !resp.HasMain {
		t.Errorf("HasWeather = %v, HasMain = %v, want both true", resp.HasWeather, resp.HasMain)
	}
	if resp.Weather[0].Description != "light snow" {
		t.Errorf("description = %q", resp.Weather[0].Description)
	}
	if got := resp.Snow.Volume(); got != 1.4 {
		t.Errorf("snow volume = %v, want 1.4", got)
	}
	if resp.Rain.Volume() != 0 {
		t.Error("absent rain block should have zero volume")
	}
}

func TestGetCurrentWeatherMissingBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coord": {"lon": -75.0, "lat": 45.0}, "wind": {"speed": 1}}`))
	})

	resp, err := client.GetCurrentWeather(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude})
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if resp.HasWeather || resp.HasMain {
		t.Errorf("HasWeather = %v, HasMain = %v, want both false", resp.HasWeather, resp.HasMain)
	}
}

func TestGetForecast(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("path = %s, want /forecast", r.URL.Path)
		}
		if r.URL.Query().Get("cnt") != "8" {
			t.Errorf("cnt = %q, want 8", r.URL.Query().Get("cnt"))
		}
		w.Write([]byte(forecastBody))
	})

	resp, err := client.GetForecast(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude, Count: 8})
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if len(resp.List) != 3 {
		t.Fatalf("got %d samples, want 3", len(resp.List))
	}
	if resp.List[1].Main.Temp != -7.5 {
		t.Errorf("second sample temp = %v", resp.List[1].Main.Temp)
	}
}

func TestOpenWeatherErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    int
		wantMessage string
		retryable   bool
	}{
		{
			name:        "invalid key with numeric cod",
			status:      http.StatusUnauthorized,
			body:        `{"cod": 401, "message": "Invalid API key."}`,
			wantCode:    401,
			wantMessage: "Invalid API key.",
		},
		{
			name:        "not found with string cod",
			status:      http.StatusNotFound,
			body:        `{"cod": "404", "message": "city not found"}`,
			wantCode:    404,
			wantMessage: "city not found",
		},
		{
			name:        "rate limited without body",
			status:      http.StatusTooManyRequests,
			body:        ``,
			wantCode:    429,
			wantMessage: "rate limit",
			retryable:   true,
		},
		{
			name:        "server error with html body",
			status:      http.StatusBadGateway,
			body:        `<html>bad gateway</html>`,
			wantCode:    502,
			wantMessage: "status 502",
			retryable:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.GetCurrentWeather(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude})
			var apiErr *OpenWeatherAPIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected OpenWeatherAPIError, got %T: %v", err, err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", apiErr.Code, tt.wantCode)
			}
			if !strings.Contains(apiErr.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want it to contain %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.retryable)
			}
		})
	}
}

// captureLogs sends the global logger to a temp file until the test ends.
func captureLogs(t *testing.T) func() string {
	t.Helper()
	err := logger.Initialize(logger.Config{
		Enabled:         true,
		Directory:       t.TempDir(),
		FilenamePattern: "api-test.log",
		Level:           "debug",
	})
	if err != nil {
		t.Fatalf("logger.Initialize() error = %v", err)
	}
	path := logger.Get().FileName()
	t.Cleanup(func() { logger.Initialize(logger.Config{Level: "info", ConsoleOutput: true}) })

	return func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		return string(data)
	}
}

func TestUnreachableServer(t *testing.T) {
	logs := captureLogs(t)

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := NewOpenWeatherClient(OpenWeatherConfig{
		APIKey:  testAPIKey,
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	})

	_, err := client.GetCurrentWeather(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude})
	var netErr *errorutil.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T: %v", err, err)
	}
	if netErr.StatusCode != 0 || netErr.URL != currentEndpoint {
		t.Errorf("NetworkError = %+v", netErr)
	}

	out := logs()
	if !strings.Contains(out, "Network operation failed") || !strings.Contains(out, "operation=weather_api_current") {
		t.Errorf("network failure not logged:\n%s", out)
	}
}

func TestMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coord": {`))
	})

	_, err := client.GetCurrentWeather(context.Background(), ForecastParams{Latitude: testLatitude, Longitude: testLongitude})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}

func TestRequestValidation(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(currentBody))
	})

	tests := []struct {
		name   string
		params ForecastParams
	}{
		{"latitude too high", ForecastParams{Latitude: 91, Longitude: 0}},
		{"longitude too low", ForecastParams{Latitude: 0, Longitude: -181}},
		{"unknown units", ForecastParams{Latitude: 0, Longitude: 0, Units: "kelvin"}},
		{"count over limit", ForecastParams{Latitude: 0, Longitude: 0, Count: 41}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.GetForecast(context.Background(), tt.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for invalid requests", calls.Load())
	}

	unconfigured := NewOpenWeatherClient(OpenWeatherConfig{})
	if _, err := unconfigured.GetCurrentWeather(context.Background(), ForecastParams{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOpenWeatherClient(OpenWeatherConfig{
		APIKey:          testAPIKey,
		BaseURL:         server.URL,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})

	params := ForecastParams{Latitude: testLatitude, Longitude: testLongitude}
	for i := 0; i < 2; i++ {
		if _, err := client.GetCurrentWeather(context.Background(), params); err == nil {
			t.Fatal("expected server error")
		}
	}

	_, err := client.GetCurrentWeather(context.Background(), params)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestRateLimiter(t *testing.T) {
	if NewRateLimiter(0, time.Minute) != nil {
		t.Error("zero limit should disable the limiter")
	}

	var disabled *RateLimiter
	if err := disabled.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait() = %v", err)
	}

	rl := NewRateLimiter(2, time.Hour)
	for i := 0; i < 2; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() within limit = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() over limit = %v, want deadline exceeded", err)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if d := rl.reserve(); d != 0 {
		t.Fatalf("first reserve waited %v", d)
	}
	if d := rl.reserve(); d != time.Minute {
		t.Errorf("second reserve wait = %v, want 1m", d)
	}

	now = now.Add(time.Minute + time.Second)
	if d := rl.reserve(); d != 0 {
		t.Errorf("reserve after window = %v, want 0", d)
	}
}
