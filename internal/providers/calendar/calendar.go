// Package calendar reads upcoming events from the Google Calendar v3 API.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/providers/fetch"
)

// ErrNotConfigured is returned when no API key or calendar is set.
var ErrNotConfigured = errors.New("calendar provider not configured")

// Config configures the calendar client
type Config struct {
	APIKey        string
	CalendarID    string
	BaseURL       string
	LookaheadDays int
	MaxResults    int
	Timeout       time.Duration
	Location      *time.Location // all-day events start at local midnight
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		CalendarID:    "primary",
		BaseURL:       "https://www.googleapis.com/calendar/v3",
		LookaheadDays: 7,
		MaxResults:    50,
		Timeout:       8 * time.Second,
		Location:      time.Local,
	}
}

// Event is one calendar entry.
type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
}

// Client fetches events from Google Calendar.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// New creates a calendar client.
func New(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.LookaheadDays <= 0 {
		config.LookaheadDays = 7
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 50
	}
	return &Client{
		config: config,
		client: fetch.NewClient(config.Timeout),
		logger: logger.With().Str("provider", "calendar").Logger(),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "calendar"
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type eventsResponse struct {
	Items []struct {
		ID       string    `json:"id"`
		Summary  string    `json:"summary"`
		Location string    `json:"location"`
		Status   string    `json:"status"`
		Start    eventTime `json:"start"`
		End      eventTime `json:"end"`
	} `json:"items"`
}

// Upcoming lists events between now and the lookahead window, ordered by start.
func (c *Client) Upcoming(ctx context.Context, now time.Time) ([]Event, error) {
	if c.config.APIKey == "" || c.config.CalendarID == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("key", c.config.APIKey)
	q.Set("timeMin", now.UTC().Format(time.RFC3339))
	q.Set("timeMax", now.Add(time.Duration(c.config.LookaheadDays)*24*time.Hour).UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", strconv.Itoa(c.config.MaxResults))

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(c.config.CalendarID), q.Encode())

	var resp eventsResponse
	if err := fetch.JSON(ctx, c.client, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" {
			continue
		}
		start, allDay, err := c.parseTime(item.Start)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", item.ID).Msg("Skipping event with bad start time")
			continue
		}
		end, _, err := c.parseTime(item.End)
		if err != nil {
			end = start
		}
		events = append(events, Event{
			ID:       item.ID,
			Summary:  item.Summary,
			Location: item.Location,
			Start:    start,
			End:      end,
			AllDay:   allDay,
		})
	}

	c.logger.Debug().Int("events", len(events)).Msg("Calendar fetched")
	return events, nil
}

func (c *Client) parseTime(t eventTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return v.In(c.config.Location), false, nil
	}
	if t.Date != "" {
		v, err := time.ParseInLocation("2006-01-02", t.Date, c.config.Location)
		return v, true, err
	}
	return time.Time{}, false, errors.New("event has no start")
}
