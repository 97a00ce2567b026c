// Package weather reads current conditions and the short-range forecast
// from OpenWeatherMap.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/providers/fetch"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("weather provider not configured")

// Config configures the OpenWeatherMap client
type Config struct {
	APIKey   string
	BaseURL  string
	Lat      float64
	Lon      float64
	Units    string
	Timeout  time.Duration
	Location *time.Location // groups forecast points into local days
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "https://api.openweathermap.org/data/2.5",
		Lat:      29.5321,
		Lon:      -95.3207,
		Units:    "imperial",
		Timeout:  8 * time.Second,
		Location: time.Local,
	}
}

// Report is one weather snapshot.
type Report struct {
	Temperature float64        `json:"temperature"`
	FeelsLike   float64        `json:"feels_like"`
	Description string         `json:"description"`
	Humidity    int            `json:"humidity"`
	WindSpeed   float64        `json:"wind_speed"`
	High        float64        `json:"high"`  // over the next 24h
	Low         float64        `json:"low"`   // over the next 24h
	Trend       string         `json:"trend"` // warming or cooling
	Hourly      []HourlyPoint  `json:"hourly"`
	Daily       []DailySummary `json:"daily"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// HourlyPoint is one forecast step.
type HourlyPoint struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
}

// DailySummary aggregates one future day.
type DailySummary struct {
	Date        time.Time `json:"date"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Description string    `json:"description"`
}

// Client fetches weather from OpenWeatherMap.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// New creates a weather client.
func New(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Units == "" {
		config.Units = "imperial"
	}
	return &Client{
		config: config,
		client: fetch.NewClient(config.Timeout),
		logger: logger.With().Str("provider", "weather").Logger(),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "weather"
}

type owmCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owmMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
}

type owmCurrent struct {
	Main    owmMain        `json:"main"`
	Weather []owmCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

type owmForecast struct {
	List []struct {
		Dt      int64          `json:"dt"`
		Main    owmMain        `json:"main"`
		Weather []owmCondition `json:"weather"`
	} `json:"list"`
}

// Current fetches current conditions plus the forecast.
func (c *Client) Current(ctx context.Context) (*Report, error) {
	if c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	var cur owmCurrent
	if err := fetch.JSON(ctx, c.client, c.endpoint("weather", nil), nil, &cur); err != nil {
		return nil, fmt.Errorf("current weather: %w", err)
	}

	var fc owmForecast
	if err := fetch.JSON(ctx, c.client, c.endpoint("forecast", url.Values{"cnt": {"40"}}), nil, &fc); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	r := &Report{
		Temperature: cur.Main.Temp,
		FeelsLike:   cur.Main.FeelsLike,
		Humidity:    cur.Main.Humidity,
		WindSpeed:   cur.Wind.Speed,
		FetchedAt:   time.Now(),
	}
	if len(cur.Weather) > 0 {
		r.Description = cur.Weather[0].Description
	}

	c.applyForecast(r, fc)

	c.logger.Debug().
		Float64("temp", r.Temperature).
		Str("description", r.Description).
		Int("forecastPoints", len(fc.List)).
		Msg("Weather fetched")
	return r, nil
}

func (c *Client) applyForecast(r *Report, fc owmForecast) {
	points := make([]HourlyPoint, 0, len(fc.List))
	for _, item := range fc.List {
		p := HourlyPoint{Time: time.Unix(item.Dt, 0).In(c.config.Location), Temperature: item.Main.Temp}
		if len(item.Weather) > 0 {
			p.Description = item.Weather[0].Description
		}
		points = append(points, p)
	}

	// The next six steps after the one in progress.
	if len(points) > 1 {
		end := min(7, len(points))
		r.Hourly = points[1:end]
	}

	// High, low and trend over the next 24 hours (eight 3-hour steps).
	day := points[:min(8, len(points))]
	if len(day) > 0 {
		r.High, r.Low = math.Inf(-1), math.Inf(1)
		for _, p := range day {
			r.High = math.Max(r.High, p.Temperature)
			r.Low = math.Min(r.Low, p.Temperature)
		}
		r.Trend = "cooling"
		if day[len(day)-1].Temperature > day[0].Temperature {
			r.Trend = "warming"
		}
	} else {
		r.High, r.Low = r.Temperature, r.Temperature
	}

	r.Daily = dailySummaries(points, r.FetchedAt.In(c.config.Location), 3)
}

// dailySummaries groups points by local day and summarizes the days after today.
func dailySummaries(points []HourlyPoint, now time.Time, days int) []DailySummary {
	type bucket struct {
		date  time.Time
		temps []float64
		descs map[string]int
	}

	buckets := map[string]*bucket{}
	for _, p := range points {
		key := p.Time.Format("2006-01-02")
		b, ok := buckets[key]
		if !ok {
			y, m, d := p.Time.Date()
			b = &bucket{date: time.Date(y, m, d, 0, 0, 0, 0, p.Time.Location()), descs: map[string]int{}}
			buckets[key] = b
		}
		b.temps = append(b.temps, p.Temperature)
		b.descs[p.Description]++
	}

	var out []DailySummary
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for i := 1; i <= days; i++ {
		key := today.AddDate(0, 0, i).Format("2006-01-02")
		b, ok := buckets[key]
		if !ok {
			continue
		}
		s := DailySummary{Date: b.date, High: math.Inf(-1), Low: math.Inf(1), Description: mostCommon(b.descs)}
		for _, t := range b.temps {
			s.High = math.Max(s.High, t)
			s.Low = math.Min(s.Low, t)
		}
		out = append(out, s)
	}
	return out
}

func mostCommon(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

func (c *Client) endpoint(path string, extra url.Values) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.config.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.config.Lon, 'f', -1, 64))
	q.Set("appid", c.config.APIKey)
	q.Set("units", c.config.Units)
	for k, vs := range extra {
		q[k] = vs
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + path + "?" + q.Encode()
}
