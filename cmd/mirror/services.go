package main

import (
	"context"
	"time"

	"github.com/legitHacker23/SmartMirror/internal/briefing"
	"github.com/legitHacker23/SmartMirror/internal/cache"
	"github.com/legitHacker23/SmartMirror/internal/config"
	"github.com/legitHacker23/SmartMirror/internal/conversation"
	"github.com/legitHacker23/SmartMirror/internal/llm"
	"github.com/legitHacker23/SmartMirror/internal/providers/calendar"
	"github.com/legitHacker23/SmartMirror/internal/providers/market"
	"github.com/legitHacker23/SmartMirror/internal/providers/weather"
	"github.com/legitHacker23/SmartMirror/internal/scheduler"
	"github.com/legitHacker23/SmartMirror/internal/tts"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// services holds everything needed to answer a question, shared by the voice
// loop and typed mode.
type services struct {
	usage     *usage.Store // nil when the database could not be opened
	redis     *cache.RedisStore
	scheduler *scheduler.Scheduler
	responder *conversation.Responder
}

func newServices(ctx context.Context, cfg *config.Config) *services {
	s := &services{}
	loc := cfg.Location()

	// Usage and history are optional; the mirror answers without them.
	var recorder conversation.UsageRecorder
	store, err := usage.Open(cfg.Usage.DBPath, cfg.Usage.DailyLimit, loc, log.Zerolog())
	if err != nil {
		l := log.Component("usage")
		l.Warn().Err(err).Str("path", cfg.Usage.DBPath).Msg("Usage tracking disabled")
	} else {
		s.usage = store
		recorder = store
	}

	var snapshots cache.Store
	if cfg.Cache.RedisAddr != "" {
		rs, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
		})
		if err != nil {
			l := log.Component("cache")
			l.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Snapshot cache disabled")
		} else {
			s.redis = rs
			snapshots = rs
		}
	}

	// Context providers, each behind the read-through cache.
	wc := cfg.Context.Weather
	wx := weather.New(log.Component("weather"), &weather.Config{
		APIKey:   wc.APIKey,
		BaseURL:  wc.BaseURL,
		Lat:      wc.Lat,
		Lon:      wc.Lon,
		Units:    wc.Units,
		Timeout:  cfg.Context.ProviderTimeout,
		Location: loc,
	})
	cc := cfg.Context.Calendar
	cal := calendar.New(log.Component("calendar"), &calendar.Config{
		APIKey:        cc.APIKey,
		CalendarID:    cc.CalendarID,
		BaseURL:       cc.BaseURL,
		LookaheadDays: cc.LookaheadDays,
		MaxResults:    cc.MaxResults,
		Timeout:       cfg.Context.ProviderTimeout,
		Location:      loc,
	})
	mc := cfg.Context.Market
	exchange, err := time.LoadLocation(mc.Timezone)
	if err != nil {
		exchange = market.DefaultConfig().Exchange
	}
	mkt := market.New(log.Component("market"), &market.Config{
		RapidAPIKey:     mc.RapidAPIKey,
		AlphaVantageKey: mc.AlphaVantageKey,
		YahooBaseURL:    mc.YahooBaseURL,
		AlphaBaseURL:    mc.AlphaBaseURL,
		Symbols:         mc.Symbols,
		Timeout:         cfg.Context.ProviderTimeout,
		Exchange:        exchange,
	})

	ttl := cfg.Cache.TTL
	cacheLog := log.Component("cache")
	wxSnap := cache.NewCached[*weather.Report](snapshots, "weather", ttl, wx.Current, cacheLog)
	calSnap := cache.NewCached[[]calendar.Event](snapshots, "calendar", ttl, func(ctx context.Context) ([]calendar.Event, error) {
		return cal.Upcoming(ctx, time.Now())
	}, cacheLog)
	mktSnap := cache.NewCached[*market.Snapshot](snapshots, "market", ttl, func(ctx context.Context) (*market.Snapshot, error) {
		return mkt.Snapshot(ctx, time.Now())
	}, cacheLog)

	// Prewarm jobs only make sense with a cache to warm.
	s.scheduler = scheduler.New(log.Zerolog(), cfg.Context.ProviderTimeout*2)
	if snapshots != nil {
		addRefresh(s.scheduler, "weather", cfg.Scheduler.Weather, wc.APIKey != "", wxSnap.Refresh)
		addRefresh(s.scheduler, "calendar", cfg.Scheduler.Calendar, cc.APIKey != "", calSnap.Refresh)
		addRefresh(s.scheduler, "market", cfg.Scheduler.Market, mc.RapidAPIKey != "" || mc.AlphaVantageKey != "", mktSnap.Refresh)
	}

	keywords := briefing.MergeKeywords(briefing.DefaultKeywords(), cfg.Context.Keywords)
	rules := briefing.Rules(keywords,
		briefing.NewWeatherSource(wxSnap.Get, wc.Units, loc),
		briefing.NewCalendarSource(calSnap.Get, loc),
		briefing.NewMarketSource(mktSnap.Get, exchange, mc.MaxShown),
	)
	aggregator := briefing.New(log.Zerolog(), loc, cfg.Context.ProviderTimeout, rules)

	s.responder = conversation.NewResponder(aggregator, newModel(ctx, cfg), recorder, log.Zerolog())
	return s
}

func addRefresh[T any](s *scheduler.Scheduler, name, spec string, configured bool, refresh func(context.Context) (T, error)) {
	if !configured {
		return
	}
	err := s.Add(name, spec, func(ctx context.Context) error {
		_, err := refresh(ctx)
		return err
	})
	if err != nil {
		l := log.Component("scheduler")
		l.Warn().Err(err).Str("job", name).Str("spec", spec).Msg("Invalid prewarm schedule")
	}
}

func newModel(ctx context.Context, cfg *config.Config) *llm.Resilient {
	lc := cfg.LLM
	provider, err := llm.New(ctx, &llm.Config{
		Provider:    lc.Provider,
		Model:       lc.Model,
		BaseURL:     lc.BaseURL,
		APIKey:      lc.APIKey,
		Temperature: lc.Temperature,
		TopP:        lc.TopP,
		MaxTokens:   lc.MaxTokens,
		Timeout:     lc.Timeout,
	})
	logger := log.Component("llm")
	if err != nil {
		logger.Error().Err(err).Str("provider", lc.Provider).Msg("Language model unavailable, replies will use the fallback text")
		provider = llm.Unavailable(lc.Provider, err)
	}
	if lc.Persona {
		provider = llm.NewPersona(provider)
	}
	return llm.NewResilient(provider, lc.FallbackReply, logger)
}

func newSpeaker(cfg *config.Config, player tts.Player) *tts.ServerSpeaker {
	return tts.NewServerSpeaker(log.Component("tts"), &tts.ServerConfig{
		BaseURL:   cfg.TTS.ServerURL,
		SpeakerID: cfg.TTS.SpeakerID,
		Timeout:   cfg.TTS.Timeout,
	}, player)
}

func (s *services) Close() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.usage != nil {
		_ = s.usage.Close()
	}
}
