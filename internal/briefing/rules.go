package briefing

import (
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Topic names.
const (
	TopicTime     = "time"
	TopicWeather  = "weather"
	TopicCalendar = "calendar"
	TopicMarket   = "market"
)

// Rule binds a topic's keyword vocabulary to the source that answers it.
// A rule without a source only classifies.
type Rule struct {
	Topic    string
	Keywords []string
	Source   Source
}

// DefaultKeywords returns the built-in vocabulary per topic.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		TopicTime:     {"time", "clock", "date", "day"},
		TopicWeather:  {"weather", "temperature", "forecast", "rain", "sunny", "cloudy", "windy"},
		TopicCalendar: {"calendar", "event", "events", "schedule", "meeting", "meetings", "appointment", "appointments", "today", "tomorrow", "upcoming"},
		TopicMarket: {"stock", "stocks", "market", "price", "trading", "invest", "portfolio", "shares", "equity",
			"finance", "financial", "nasdaq", "dow", "s&p", "spy", "aapl", "googl", "msft", "tsla", "amzn"},
	}
}

// MergeKeywords returns base extended with extra, deduplicated per topic.
func MergeKeywords(base, extra map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base))
	for topic, words := range base {
		out[topic] = append([]string(nil), words...)
	}
	for topic, words := range extra {
		seen := make(map[string]bool, len(out[topic]))
		for _, w := range out[topic] {
			seen[strings.ToLower(w)] = true
		}
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out[topic] = append(out[topic], w)
		}
	}
	return out
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// shortKeyword is the longest keyword matched only as a whole word, so
// tickers like "dow" stay out of "down" and "window".
const shortKeyword = 3

// compile builds a case-insensitive matcher for the rule. Keywords match at
// the start of a word, so "rain" also finds "raining" and "rainy"; short
// keywords must match the whole word.
func compile(r Rule) compiledRule {
	var long, short []string
	for _, k := range r.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		switch {
		case k == "":
		case len([]rune(k)) <= shortKeyword:
			short = append(short, regexp.QuoteMeta(k))
		default:
			long = append(long, regexp.QuoteMeta(k))
		}
	}
	// longest first so "stocks" wins over "stock" inside the alternation
	byLength := func(words []string) {
		sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	}
	byLength(long)
	byLength(short)

	var alts []string
	if len(long) > 0 {
		alts = append(alts, `(?:`+strings.Join(long, "|")+`)`)
	}
	if len(short) > 0 {
		alts = append(alts, `(?:`+strings.Join(short, "|")+`)(?:$|[^\pL\pN])`)
	}

	cr := compiledRule{Rule: r}
	if len(alts) > 0 {
		cr.pattern = regexp.MustCompile(`(?i)(?:^|[^\pL\pN])(?:` + strings.Join(alts, "|") + `)`)
	}
	return cr
}

func (c compiledRule) matches(text string) bool {
	return c.pattern != nil && c.pattern.MatchString(text)
}

var topicOrder = []string{TopicTime, TopicWeather, TopicCalendar, TopicMarket}

// Rules builds the topic table from a keyword vocabulary, attaching each
// source to the topic named by its Name. Topics without a source still
// classify.
func Rules(keywords map[string][]string, sources ...Source) []Rule {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s != nil {
			byName[s.Name()] = s
		}
	}

	rules := make([]Rule, 0, len(keywords))
	for _, topic := range topicOrder {
		if words, ok := keywords[topic]; ok {
			rules = append(rules, Rule{Topic: topic, Keywords: words, Source: byName[topic]})
		}
	}

	var extra []string
	for topic := range keywords {
		if !slices.Contains(topicOrder, topic) {
			extra = append(extra, topic)
		}
	}
	sort.Strings(extra)
	for _, topic := range extra {
		rules = append(rules, Rule{Topic: topic, Keywords: keywords[topic], Source: byName[topic]})
	}
	return rules
}
