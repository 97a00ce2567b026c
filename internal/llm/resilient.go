package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/metrics"
)

// DefaultFallbackReply is spoken when the model cannot answer.
const DefaultFallbackReply = "The chat is not connected right now"

// Resilient never fails: errors, panics and empty replies become the
// fallback text.
type Resilient struct {
	next     Provider
	fallback string
	logger   zerolog.Logger
}

// NewResilient decorates next with fallback handling.
func NewResilient(next Provider, fallback string, logger zerolog.Logger) *Resilient {
	if fallback == "" {
		fallback = DefaultFallbackReply
	}
	return &Resilient{
		next:     next,
		fallback: fallback,
		logger:   logger.With().Str("provider", next.Name()).Logger(),
	}
}

// Name returns the wrapped provider's name.
func (r *Resilient) Name() string {
	return r.next.Name()
}

// Complete returns the model's reply or the fallback text. The error is always nil.
func (r *Resilient) Complete(ctx context.Context, prompt string) (string, error) {
	reply, _ := r.Answer(ctx, prompt)
	return reply, nil
}

// Answer returns the reply and whether the fallback was used.
func (r *Resilient) Answer(ctx context.Context, prompt string) (reply string, degraded bool) {
	start := time.Now()

	reply, err := r.call(ctx, prompt)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMRequests.WithLabelValues(r.next.Name(), "error").Inc()
		r.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Language model failed, using fallback reply")
		return r.fallback, true
	}

	metrics.LLMRequests.WithLabelValues(r.next.Name(), "ok").Inc()
	r.logger.Debug().Dur("elapsed", time.Since(start)).Int("chars", len(reply)).Msg("Language model replied")
	return reply, false
}

func (r *Resilient) call(ctx context.Context, prompt string) (reply string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panic: %v", p)
		}
	}()

	reply, err = r.next.Complete(ctx, prompt)
	if err == nil && reply == "" {
		err = ErrEmptyReply
	}
	return reply, err
}
