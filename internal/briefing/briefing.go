// Package briefing classifies an utterance by topic, gathers live context from
// the matching sources in parallel, and composes the enriched prompt.
package briefing

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/legitHacker23/SmartMirror/internal/metrics"
)

// Fragment is one context sentence and where it came from.
type Fragment struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Bundle is the context gathered for one utterance. The first fragment is
// always the current time.
type Bundle struct {
	Fragments []Fragment `json:"fragments"`
	Topics    []string   `json:"topics,omitempty"`
}

// Prompt joins the fragments and appends the question.
func (b Bundle) Prompt(question string) string {
	parts := make([]string, 0, len(b.Fragments))
	for _, f := range b.Fragments {
		if t := strings.TrimRight(strings.TrimSpace(f.Text), "."); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return question
	}
	return strings.Join(parts, ". ") + ". Question: " + question
}

// Sources lists the non-time fragment sources in order.
func (b Bundle) Sources() []string {
	var out []string
	for _, f := range b.Fragments {
		if f.Source != TopicTime {
			out = append(out, f.Source)
		}
	}
	return out
}

// Aggregator runs the topic table against utterances.
type Aggregator struct {
	rules   []compiledRule
	loc     *time.Location
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an aggregator. Each source call is bounded by timeout.
func New(logger zerolog.Logger, loc *time.Location, timeout time.Duration, rules []Rule) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	a := &Aggregator{
		loc:     loc,
		timeout: timeout,
		logger:  logger.With().Str("component", "briefing").Logger(),
		now:     time.Now,
	}
	for _, r := range rules {
		a.rules = append(a.rules, compile(r))
	}
	return a
}

// Topics returns the topics text mentions, in table order.
func (a *Aggregator) Topics(text string) []string {
	var out []string
	for _, r := range a.rules {
		if r.matches(text) {
			out = append(out, r.Topic)
		}
	}
	return out
}

// Gather builds the bundle for text. Matched sources run concurrently and
// Gather waits for all of them; a failing source only loses its fragment.
func (a *Aggregator) Gather(ctx context.Context, text string) Bundle {
	now := a.now()
	bundle := Bundle{
		Fragments: []Fragment{{Source: TopicTime, Text: TimeSentence(now, a.loc)}},
	}

	var matched []Source
	seen := make(map[string]bool)
	for _, r := range a.rules {
		if !r.matches(text) {
			continue
		}
		bundle.Topics = append(bundle.Topics, r.Topic)
		if r.Source == nil || seen[r.Source.Name()] {
			continue
		}
		seen[r.Source.Name()] = true
		matched = append(matched, r.Source)
	}
	if len(matched) == 0 {
		return bundle
	}

	results := make([]string, len(matched))
	var wg conc.WaitGroup
	for i, src := range matched {
		i, src := i, src
		wg.Go(func() {
			results[i] = a.fetch(ctx, src, now)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		a.logger.Error().Interface("panic", r.Value).Msg("Context source panicked")
	}

	for i, src := range matched {
		if results[i] != "" {
			bundle.Fragments = append(bundle.Fragments, Fragment{Source: src.Name(), Text: results[i]})
		}
	}

	a.logger.Debug().
		Strs("topics", bundle.Topics).
		Strs("sources", bundle.Sources()).
		Msg("Context gathered")
	return bundle
}

// Compose is Gather followed by Prompt.
func (a *Aggregator) Compose(ctx context.Context, text string) string {
	return a.Gather(ctx, text).Prompt(text)
}

func (a *Aggregator) fetch(ctx context.Context, src Source, now time.Time) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	name := src.Name()
	start := time.Now()
	defer func() {
		metrics.ContextFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	text, err := src.Summarize(ctx, now)
	if err != nil {
		metrics.ContextFetches.WithLabelValues(name, "error").Inc()
		a.logger.Warn().Err(err).Str("source", name).Msg("Context source failed")
		return ""
	}
	metrics.ContextFetches.WithLabelValues(name, "ok").Inc()
	return text
}
