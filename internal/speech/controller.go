// Package speech tracks the one utterance the mirror is currently speaking.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/tts"
)

// EndReason says why speech ended.
type EndReason string

const (
	Completed EndReason = "completed"
	Stopped   EndReason = "stopped"
	Failed    EndReason = "failed"
)

// Outcome is the terminal event of one Speak call.
type Outcome struct {
	Reason EndReason
	Err    error // set when Reason is Failed
}

// GestureRequired reports whether playback was refused pending a user gesture.
func (o Outcome) GestureRequired() bool {
	return o.Reason == Failed && errors.Is(o.Err, tts.ErrGestureRequired)
}

// DefaultStopTimeout bounds how long Stop waits for a speaker to honour
// cancellation.
const DefaultStopTimeout = 3 * time.Second

type handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool // guarded by Controller.mu
}

// Controller drives a tts.Speaker so at most one utterance plays at a time.
type Controller struct {
	speaker     tts.Speaker
	voice       string
	logger      zerolog.Logger
	stopTimeout time.Duration

	speakMu sync.Mutex // serializes Speak and Stop
	mu      sync.Mutex
	current *handle
}

// Option configures a Controller.
type Option func(*Controller)

// WithStopTimeout sets how long Stop and Speak wait for the prior speech to
// end before abandoning it.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// NewController creates a controller speaking with voice.
func NewController(speaker tts.Speaker, voice string, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		speaker:     speaker,
		voice:       voice,
		logger:      logger.With().Str("component", "speech").Logger(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Speak stops any prior speech, waits for it to end (see Stop), then starts
// speaking text in the background. onEnd runs exactly once when this speech
// ends.
func (c *Controller) Speak(ctx context.Context, text string, onEnd func(Outcome)) {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	c.stopCurrent()

	sctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.current = h
	c.mu.Unlock()

	go c.run(sctx, h, text, onEnd)
}

// Stop stops current speech and waits until it ended, at most the stop
// timeout. It reports whether anything was speaking.
func (c *Controller) Stop() bool {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()
	return c.stopCurrent()
}

// Speaking reports whether speech is in progress.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Controller) stopCurrent() bool {
	c.mu.Lock()
	h := c.current
	if h != nil {
		h.stopped = true
	}
	c.mu.Unlock()

	if h == nil {
		return false
	}
	h.cancel()

	t := time.NewTimer(c.stopTimeout)
	defer t.Stop()
	select {
	case <-h.done:
	case <-t.C:
		// The speaker ignored cancellation. Detach it; its Stopped outcome
		// is still delivered once it returns.
		c.mu.Lock()
		if c.current == h {
			c.current = nil
		}
		c.mu.Unlock()
		c.logger.Warn().Dur("waited", c.stopTimeout).Msg("Speaker did not stop, abandoning it")
	}
	return true
}

func (c *Controller) run(ctx context.Context, h *handle, text string, onEnd func(Outcome)) {
	err := c.speak(ctx, text)

	c.mu.Lock()
	stopped := h.stopped
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
	h.cancel()
	close(h.done)

	var out Outcome
	switch {
	case stopped:
		out = Outcome{Reason: Stopped}
	case err == nil:
		out = Outcome{Reason: Completed}
	default:
		out = Outcome{Reason: Failed, Err: err}
		c.logger.Warn().Err(err).Msg("Speech failed")
	}

	if onEnd != nil {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Msg("Speech end handler panicked")
			}
		}()
		onEnd(out)
	}
}

func (c *Controller) speak(ctx context.Context, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speaker panic: %v", r)
		}
	}()
	return c.speaker.Speak(ctx, text, c.voice)
}
