package briefing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/legitHacker23/SmartMirror/internal/providers/calendar"
	"github.com/legitHacker23/SmartMirror/internal/providers/market"
	"github.com/legitHacker23/SmartMirror/internal/providers/weather"
)

// Source turns one provider snapshot into a context sentence. An empty
// sentence means there is nothing worth saying.
type Source interface {
	Name() string
	Summarize(ctx context.Context, now time.Time) (string, error)
}

// TimeSentence renders the mandatory current-time fragment.
func TimeSentence(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return "It's " + now.In(loc).Format("Monday 3:04 PM") + "."
}

// WeatherSource summarizes a weather report.
type WeatherSource struct {
	fetch func(ctx context.Context) (*weather.Report, error)
	unit  string
	loc   *time.Location
}

// NewWeatherSource builds a weather source. units is the provider's unit
// system (imperial, metric, standard).
func NewWeatherSource(fetch func(ctx context.Context) (*weather.Report, error), units string, loc *time.Location) *WeatherSource {
	if loc == nil {
		loc = time.Local
	}
	unit := "°F"
	switch units {
	case "metric":
		unit = "°C"
	case "standard":
		unit = "K"
	}
	return &WeatherSource{fetch: fetch, unit: unit, loc: loc}
}

// Name implements Source.
func (s *WeatherSource) Name() string { return TopicWeather }

// Summarize implements Source.
func (s *WeatherSource) Summarize(ctx context.Context, _ time.Time) (string, error) {
	r, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weather: %s, %s (feels like %s). High today: %s",
		s.temp(r.Temperature), r.Description, s.temp(r.FeelsLike), s.temp(r.High))

	if len(r.Hourly) > 1 {
		end := min(len(r.Hourly), 3)
		next := make([]string, 0, end-1)
		for _, h := range r.Hourly[1:end] {
			next = append(next, h.Time.In(s.loc).Format("3 PM")+": "+s.temp(h.Temperature))
		}
		b.WriteString(". Next few hours: " + strings.Join(next, ", "))
	}
	return b.String(), nil
}

func (s *WeatherSource) temp(v float64) string {
	return fmt.Sprintf("%d%s", int(math.Round(v)), s.unit)
}

// CalendarSource summarizes today's and upcoming events.
type CalendarSource struct {
	fetch func(ctx context.Context) ([]calendar.Event, error)
	loc   *time.Location
	limit int
}

// NewCalendarSource builds a calendar source.
func NewCalendarSource(fetch func(ctx context.Context) ([]calendar.Event, error), loc *time.Location) *CalendarSource {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarSource{fetch: fetch, loc: loc, limit: 3}
}

// Name implements Source.
func (s *CalendarSource) Name() string { return TopicCalendar }

// Summarize implements Source.
func (s *CalendarSource) Summarize(ctx context.Context, now time.Time) (string, error) {
	events, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	now = now.In(s.loc)
	y, m, d := now.Date()

	var today, upcoming []string
	for _, ev := range events {
		start := ev.Start.In(s.loc)
		if ey, em, ed := start.Date(); ey == y && em == m && ed == d && len(today) < s.limit {
			if ev.AllDay {
				today = append(today, ev.Summary+" (all day)")
			} else {
				today = append(today, ev.Summary+" at "+start.Format("3:04 PM"))
			}
		}
		if start.After(now) && len(upcoming) < s.limit {
			upcoming = append(upcoming, ev.Summary+" "+relativeDay(start, now))
		}
	}

	var b strings.Builder
	b.WriteString("Today's events: ")
	if len(today) == 0 {
		b.WriteString("none scheduled")
	} else {
		b.WriteString(strings.Join(today, ", "))
	}
	if len(upcoming) > 0 {
		b.WriteString(". Upcoming: " + strings.Join(upcoming, ", "))
	}
	return b.String(), nil
}

// relativeDay counts calendar days in now's location from now to start.
func relativeDay(start, now time.Time) string {
	loc := now.Location()
	y, m, d := now.Date()
	sy, sm, sd := start.In(loc).Date()
	// rounding absorbs 23h and 25h DST days
	days := int(math.Round(time.Date(sy, sm, sd, 0, 0, 0, 0, loc).Sub(time.Date(y, m, d, 0, 0, 0, 0, loc)).Hours() / 24))
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "tomorrow"
	case days < 7:
		return fmt.Sprintf("in %d days", days)
	default:
		return "on " + start.In(loc).Format("1/2/2006")
	}
}

// MarketSource summarizes quotes and the trading status.
type MarketSource struct {
	fetch    func(ctx context.Context) (*market.Snapshot, error)
	exchange *time.Location
	limit    int
}

// NewMarketSource builds a market source showing at most limit quotes.
func NewMarketSource(fetch func(ctx context.Context) (*market.Snapshot, error), exchange *time.Location, limit int) *MarketSource {
	if limit <= 0 {
		limit = 3
	}
	return &MarketSource{fetch: fetch, exchange: exchange, limit: limit}
}

// Name implements Source.
func (s *MarketSource) Name() string { return TopicMarket }

// Summarize implements Source.
func (s *MarketSource) Summarize(ctx context.Context, now time.Time) (string, error) {
	snap, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", nil
	}

	parts := make([]string, 0, s.limit)
	for _, q := range snap.Quotes {
		if !q.OK() {
			continue
		}
		sign := ""
		if q.ChangePercent > 0 {
			sign = "+"
		}
		parts = append(parts, fmt.Sprintf("%s $%.2f %s%.1f%%", q.Symbol, q.Price, sign, q.ChangePercent))
		if len(parts) == s.limit {
			break
		}
	}
	if len(parts) == 0 {
		return "", nil
	}

	status := "closed"
	if market.IsOpen(now, s.exchange) {
		status = "open"
	}
	return "Market " + status + ": " + strings.Join(parts, ", "), nil
}
