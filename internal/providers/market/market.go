// Package market reads stock quotes from Yahoo Finance (via RapidAPI) with
// Alpha Vantage as a fallback.
package market

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
	"github.com/sourcegraph/conc"

	"github.com/legitHacker23/SmartMirror/internal/providers/fetch"
)

// Common errors
var (
	ErrNotConfigured = errors.New("market provider not configured")
	ErrNoData        = errors.New("no quote data")
)

const rapidAPIHost = "yahoo-finance15.p.rapidapi.com"

// Config configures the quote client
type Config struct {
	RapidAPIKey     string
	AlphaVantageKey string
	YahooBaseURL    string
	AlphaBaseURL    string
	Symbols         []string
	Timeout         time.Duration
	Exchange        *time.Location // trading hours are evaluated here
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.UTC
	}
	return &Config{
		YahooBaseURL: "https://" + rapidAPIHost,
		AlphaBaseURL: "https://www.alphavantage.co",
		Symbols:      []string{"SPY", "AAPL", "GOOGL", "MSFT"},
		Timeout:      8 * time.Second,
		Exchange:     ny,
	}
}

// Quote is one symbol's price snapshot. Err is set when the symbol could not
// be fetched; the other fields are then zero.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	PreviousClose float64 `json:"previous_close,omitempty"`
	Open          float64 `json:"open,omitempty"`
	High          float64 `json:"high,omitempty"`
	Low           float64 `json:"low,omitempty"`
	Volume        int64   `json:"volume,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Exchange      string  `json:"exchange,omitempty"`
	Source        string  `json:"source,omitempty"`
	Err           string  `json:"error,omitempty"`
}

// OK reports whether the quote holds data.
func (q Quote) OK() bool {
	return q.Err == ""
}

// Snapshot is a batch of quotes plus the market status at fetch time.
type Snapshot struct {
	Quotes    []Quote   `json:"quotes"`
	Open      bool      `json:"open"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Client fetches quotes.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// New creates a market client.
func New(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Exchange == nil {
		config.Exchange = DefaultConfig().Exchange
	}
	return &Client{
		config: config,
		client: fetch.NewClient(config.Timeout),
		logger: logger.With().Str("provider", "market").Logger(),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "market"
}

// Snapshot fetches every configured symbol.
func (c *Client) Snapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	if c.config.RapidAPIKey == "" && c.config.AlphaVantageKey == "" {
		return nil, ErrNotConfigured
	}
	quotes := c.Quotes(ctx, c.config.Symbols)

	ok := 0
	for _, q := range quotes {
		if q.OK() {
			ok++
		}
	}
	if ok == 0 {
		return nil, fmt.Errorf("%w: all %d symbols failed", ErrNoData, len(quotes))
	}

	return &Snapshot{
		Quotes:    quotes,
		Open:      IsOpen(now, c.config.Exchange),
		FetchedAt: now,
	}, nil
}

// Quotes fetches symbols concurrently. Per-symbol failures become Quote.Err
// entries; the result keeps the input order.
func (c *Client) Quotes(ctx context.Context, symbols []string) []Quote {
	out := make([]Quote, len(symbols))

	var wg conc.WaitGroup
	for i, sym := range symbols {
		i, sym := i, sym
		wg.Go(func() {
			q, err := c.Quote(ctx, sym)
			if err != nil {
				c.logger.Warn().Err(err).Str("symbol", sym).Msg("Quote failed")
				out[i] = Quote{Symbol: sym, Err: err.Error()}
				return
			}
			out[i] = q
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		c.logger.Error().Interface("panic", r.Value).Msg("Quote fetch panicked")
		for i := range out {
			if out[i].Symbol == "" {
				out[i] = Quote{Symbol: symbols[i], Err: "internal error"}
			}
		}
	}
	return out
}

// Quote fetches one symbol, trying Yahoo first and Alpha Vantage second.
func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var errs []error
	if c.config.RapidAPIKey != "" {
		q, err := c.yahoo(ctx, symbol)
		if err == nil {
			return q, nil
		}
		errs = append(errs, fmt.Errorf("yahoo: %w", err))
	}
	if c.config.AlphaVantageKey != "" {
		q, err := c.alphaVantage(ctx, symbol)
		if err == nil {
			return q, nil
		}
		errs = append(errs, fmt.Errorf("alphavantage: %w", err))
	}
	if len(errs) == 0 {
		return Quote{}, ErrNotConfigured
	}
	return Quote{}, errors.Join(errs...)
}

type yahooResponse struct {
	Body []struct {
		Symbol                     string  `json:"symbol"`
		LongName                   string  `json:"longName"`
		ShortName                  string  `json:"shortName"`
		RegularMarketPrice         float64 `json:"regularMarketPrice"`
		RegularMarketChange        float64 `json:"regularMarketChange"`
		RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
		RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
		RegularMarketOpen          float64 `json:"regularMarketOpen"`
		RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
		RegularMarketVolume        int64   `json:"regularMarketVolume"`
		Currency                   string  `json:"currency"`
		FullExchangeName           string  `json:"fullExchangeName"`
	} `json:"body"`
}

func (c *Client) yahoo(ctx context.Context, symbol string) (Quote, error) {
	endpoint := strings.TrimRight(c.config.YahooBaseURL, "/") + "/api/yahoo/qu/quote/" + url.PathEscape(symbol)
	header := http.Header{}
	header.Set("X-RapidAPI-Key", c.config.RapidAPIKey)
	header.Set("X-RapidAPI-Host", rapidAPIHost)

	var resp yahooResponse
	if err := fetch.JSON(ctx, c.client, endpoint, header, &resp); err != nil {
		return Quote{}, err
	}
	if len(resp.Body) == 0 {
		return Quote{}, ErrNoData
	}

	d := resp.Body[0]
	name := d.LongName
	if name == "" {
		name = d.ShortName
	}
	sym := d.Symbol
	if sym == "" {
		sym = symbol
	}
	return Quote{
		Symbol:        sym,
		Name:          name,
		Price:         d.RegularMarketPrice,
		Change:        d.RegularMarketChange,
		ChangePercent: d.RegularMarketChangePercent,
		PreviousClose: d.RegularMarketPreviousClose,
		Open:          d.RegularMarketOpen,
		High:          d.RegularMarketDayHigh,
		Low:           d.RegularMarketDayLow,
		Volume:        d.RegularMarketVolume,
		Currency:      d.Currency,
		Exchange:      d.FullExchangeName,
		Source:        "yahoo",
	}, nil
}

type alphaResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
}

func (c *Client) alphaVantage(ctx context.Context, symbol string) (Quote, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.config.AlphaVantageKey)
	endpoint := strings.TrimRight(c.config.AlphaBaseURL, "/") + "/query?" + q.Encode()

	var resp alphaResponse
	if err := fetch.JSON(ctx, c.client, endpoint, nil, &resp); err != nil {
		return Quote{}, err
	}
	g := resp.GlobalQuote
	if len(g) == 0 || g["05. price"] == "" {
		if msg := resp.Note + resp.Information; msg != "" {
			return Quote{}, fmt.Errorf("%w: %s", ErrNoData, msg)
		}
		return Quote{}, ErrNoData
	}

	num := func(key string) float64 {
		v, _ := strconv.ParseFloat(strings.TrimSuffix(g[key], "%"), 64)
		return v
	}
	vol, _ := strconv.ParseInt(g["06. volume"], 10, 64)

	sym := g["01. symbol"]
	if sym == "" {
		sym = symbol
	}
	return Quote{
		Symbol:        sym,
		Name:          sym,
		Price:         num("05. price"),
		Change:        num("09. change"),
		ChangePercent: num("10. change percent"),
		PreviousClose: num("08. previous close"),
		Open:          num("02. open"),
		High:          num("03. high"),
		Low:           num("04. low"),
		Volume:        vol,
		Currency:      "USD",
		Source:        "alphavantage",
	}, nil
}

// IsOpen reports whether regular trading hours (Mon-Fri 09:30-16:00
// exchange time, both ends inclusive) cover t.
func IsOpen(t time.Time, exchange *time.Location) bool {
	if exchange == nil {
		exchange = time.UTC
	}
	et := t.In(exchange)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hhmm := et.Hour()*100 + et.Minute()
	return hhmm >= 930 && hhmm <= 1600
}
