package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/legitHacker23/SmartMirror/internal/bus"
	"github.com/legitHacker23/SmartMirror/internal/metrics"
	"github.com/legitHacker23/SmartMirror/internal/speech"
	"github.com/legitHacker23/SmartMirror/internal/stt"
	"github.com/legitHacker23/SmartMirror/internal/timer"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// ErrEngineStarted is returned when Run is called twice.
var ErrEngineStarted = errors.New("conversation engine already started")

const eventQueueSize = 256

// Voice speaks replies. speech.Controller implements it.
type Voice interface {
	Speak(ctx context.Context, text string, onEnd func(speech.Outcome))
	Stop() bool
}

// Deps are the collaborators the engine drives. Bus may be nil.
type Deps struct {
	Recognizer stt.Recognizer
	Responder  *Responder
	Voice      Voice
	Bus        *bus.EventBus
}

// Engine runs the Machine. Recognition callbacks, timers and service
// completions are all posted as events into one loop, which is the only
// goroutine that touches the machine.
type Engine struct {
	cfg       Config
	machine   *Machine
	rec       stt.Recognizer
	responder *Responder
	voice     Voice
	bus       *bus.EventBus
	logger    zerolog.Logger
	now       func() time.Time

	events  chan Event
	done    chan struct{}
	timers  timer.Manager
	restart timer.Timer
	started atomic.Bool
	state   atomic.Int32

	// owned by the loop
	ctx        context.Context
	last       State
	turnCancel context.CancelFunc
	ownEnds    int // session ends caused by our own Stop calls
	wg         conc.WaitGroup
}

// NewEngine creates an engine. Call Run to start listening.
func NewEngine(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		machine:   NewMachine(cfg),
		rec:       deps.Recognizer,
		responder: deps.Responder,
		voice:     deps.Voice,
		bus:       deps.Bus,
		logger:    logger.With().Str("component", "conversation").Logger(),
		now:       time.Now,
		events:    make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
	}
}

// State returns the current conversation state. Safe for concurrent use.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Gesture reports a user touch or click. It enables blocked audio and
// replays a reply that could not be spoken.
func (e *Engine) Gesture() {
	e.post(Gesture{})
}

// Reset abandons the current turn and returns to listening.
func (e *Engine) Reset() {
	e.post(Reset{})
}

// Run processes events until ctx is cancelled. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineStarted
	}
	e.ctx = ctx

	e.rec.SetCallbacks(stt.Callbacks{
		OnFragment: func(f stt.Fragment) { e.post(Fragment{Text: f.Text, Final: f.IsFinal}) },
		OnEnd:      func() { e.post(SessionEnded{}) },
		OnError:    func(err error) { e.post(SessionError{Err: err}) },
	})

	metrics.SetState(e.last.String())
	e.logger.Info().
		Str("recognizer", e.rec.Name()).
		Str("wake_phrase", e.cfg.WakePhrase).
		Msg("Conversation engine started")

	defer e.shutdown()
	e.apply(e.machine.Boot())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.events:
			e.dispatch(ev)
		}
	}
}

func (e *Engine) post(ev Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) dispatch(ev Event) {
	switch ev := ev.(type) {
	case SessionEnded:
		if e.ownEnds > 0 {
			e.ownEnds--
			return
		}
		e.logger.Debug().Msg("Recognition session ended")
	case SessionError:
		e.logger.Warn().Err(ev.Err).Msg("Recognition error")
	case Fragment:
		e.logger.Debug().Str("text", ev.Text).Bool("final", ev.Final).Msg("Fragment")
	}

	acts := e.machine.Handle(ev, e.now())
	e.syncState()
	e.apply(acts)
}

func (e *Engine) syncState() {
	to := e.machine.State()
	if to == e.last {
		return
	}
	from := e.last
	e.last = to
	e.state.Store(int32(to))

	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	metrics.SetState(to.String())
	e.logger.Debug().Str("from", from.String()).Str("to", to.String()).Uint64("turn", e.machine.Turn()).Msg("State changed")
	e.publish(bus.EventTypeStateChanged, map[string]any{
		"from": from.String(),
		"to":   to.String(),
		"turn": e.machine.Turn(),
	})
}

func (e *Engine) apply(acts []Action) {
	for _, act := range acts {
		switch a := act.(type) {
		case ArmInactivity:
			seq := a.Seq
			e.timers.Inactivity.Arm(a.Delay, func() { e.post(InactivityElapsed{Seq: seq}) })
		case ArmWakeIdle:
			seq := a.Seq
			e.timers.WakeIdle.Arm(a.Delay, func() { e.post(WakeIdleElapsed{Seq: seq}) })
		case CancelInactivity:
			e.timers.Inactivity.Cancel()
		case CancelWakeIdle:
			e.timers.WakeIdle.Cancel()
		case ScheduleStart:
			seq := a.Seq
			e.restart.Arm(a.Delay, func() { e.post(StartDue{Seq: seq}) })
		case StartRecognition:
			// the result is fed back before any other event is handled
			e.dispatch(StartResult{Err: e.startRecognition()})
		case StopRecognition:
			e.stopRecognition()
		case Submit:
			e.submit(a)
		case CancelTurn:
			e.cancelTurn()
		case Speak:
			e.speak(a)
		case StopSpeech:
			e.voice.Stop()
		case Publish:
			e.publish(a.Type, a.Data)
		case TurnCompleted:
			e.completed(a)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) startRecognition() error {
	err := e.rec.Start(e.ctx)
	switch {
	case err == nil, errors.Is(err, stt.ErrAlreadyRunning):
		metrics.RecognitionRestarts.WithLabelValues("ok").Inc()
		e.logger.Debug().Msg("Recognition started")
	case errors.Is(err, stt.ErrUnsupported):
		metrics.RecognitionRestarts.WithLabelValues("error").Inc()
		e.logger.Error().Err(err).Msg("Speech recognition unavailable, voice input disabled")
	default:
		metrics.RecognitionRestarts.WithLabelValues("error").Inc()
		e.logger.Warn().Err(err).Msg("Failed to start recognition")
	}
	return err
}

func (e *Engine) stopRecognition() {
	if err := e.rec.Stop(); err != nil {
		if !stt.Transient(err) {
			e.logger.Warn().Err(err).Msg("Failed to stop recognition")
		}
		return
	}
	e.ownEnds++
}

func (e *Engine) submit(s Submit) {
	e.cancelTurn()

	var ctx context.Context
	var cancel context.CancelFunc
	if e.cfg.TurnTimeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, e.cfg.TurnTimeout)
	} else {
		ctx, cancel = context.WithCancel(e.ctx)
	}
	e.turnCancel = cancel

	e.logger.Info().Uint64("turn", s.Turn).Str("utterance", s.Text).Msg("Submitting")
	e.wg.Go(func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Uint64("turn", s.Turn).Msg("Responder panicked, using fallback reply")
				e.post(ReplyReady{Turn: s.Turn, Reply: e.cfg.FallbackReply, Degraded: true})
			}
		}()

		reply, degraded := e.responder.Respond(ctx, s.Text)
		e.post(ReplyReady{Turn: s.Turn, Reply: reply, Degraded: degraded})
	})
}

func (e *Engine) cancelTurn() {
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
}

func (e *Engine) speak(s Speak) {
	turn := s.Turn
	e.voice.Speak(e.ctx, s.Text, func(out speech.Outcome) {
		e.post(SpeechEnded{Turn: turn, Outcome: out})
	})
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Type: t, Data: data, Time: e.now()})
}

func (e *Engine) completed(c TurnCompleted) {
	e.turnCancel = nil
	metrics.Turns.WithLabelValues(string(c.Outcome)).Inc()

	t := usage.Turn{
		ID:        uuid.New().String(),
		Utterance: c.Utterance,
		Reply:     c.Reply,
		Outcome:   c.Outcome,
		Duration:  c.Duration,
		CreatedAt: e.now(),
	}
	e.logger.Info().
		Uint64("turn", c.Turn).
		Str("outcome", string(c.Outcome)).
		Dur("duration", c.Duration).
		Msg("Turn completed")

	e.publish(bus.EventTypeTurnCompleted, map[string]any{
		"id":          t.ID,
		"turn":        c.Turn,
		"utterance":   t.Utterance,
		"reply":       t.Reply,
		"outcome":     string(t.Outcome),
		"duration_ms": t.Duration.Milliseconds(),
	})

	// history survives shutdown
	ctx := context.WithoutCancel(e.ctx)
	e.wg.Go(func() {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		e.responder.Record(rctx, t)
	})
}

func (e *Engine) shutdown() {
	close(e.done)

	e.timers.CancelAll()
	e.restart.Cancel()
	e.cancelTurn()
	e.voice.Stop()
	if err := e.rec.Stop(); err != nil && !stt.Transient(err) {
		e.logger.Warn().Err(err).Msg("Failed to stop recognition")
	}

	if r := e.wg.WaitAndRecover(); r != nil {
		e.logger.Error().Interface("panic", r.Value).Msg("Engine worker panicked")
	}
	e.logger.Info().Msg("Conversation engine stopped")
}
