package conversation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// Composer turns a question into a prompt carrying live context.
type Composer interface {
	Compose(ctx context.Context, text string) string
}

// Answerer returns a reply and whether it is the fallback text.
type Answerer interface {
	Answer(ctx context.Context, prompt string) (reply string, degraded bool)
}

// UsageRecorder counts model requests and keeps turn history.
type UsageRecorder interface {
	RecordRequest(ctx context.Context) (usage.Stats, error)
	RecordTurn(ctx context.Context, t usage.Turn) (usage.Turn, error)
}

// Responder answers one question: context, usage accounting, then the model.
// It is shared by the voice engine and typed mode.
type Responder struct {
	composer Composer
	model    Answerer
	usage    UsageRecorder
	logger   zerolog.Logger
}

// NewResponder creates a responder. rec may be nil.
func NewResponder(composer Composer, model Answerer, rec UsageRecorder, logger zerolog.Logger) *Responder {
	return &Responder{
		composer: composer,
		model:    model,
		usage:    rec,
		logger:   logger.With().Str("component", "responder").Logger(),
	}
}

// Respond never fails; a model failure yields the fallback reply.
func (r *Responder) Respond(ctx context.Context, text string) (reply string, degraded bool) {
	prompt := r.composer.Compose(ctx, text)
	r.logger.Debug().Str("question", text).Int("prompt_chars", len(prompt)).Msg("Prompt composed")

	if r.usage != nil {
		if _, err := r.usage.RecordRequest(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record usage")
		}
	}
	return r.model.Answer(ctx, prompt)
}

// Record stores a finished turn. It is a no-op without a recorder.
func (r *Responder) Record(ctx context.Context, t usage.Turn) {
	if r.usage == nil {
		return
	}
	if _, err := r.usage.RecordTurn(ctx, t); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record turn")
	}
}
