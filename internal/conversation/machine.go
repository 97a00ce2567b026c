// Package conversation owns the wake / capture / process / speak lifecycle.
//
// Machine is the transition function: it consumes Events and returns the
// Actions to perform, without doing any I/O itself. Engine feeds it from a
// single event loop and carries out the actions.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/legitHacker23/SmartMirror/internal/bus"
	"github.com/legitHacker23/SmartMirror/internal/speech"
	"github.com/legitHacker23/SmartMirror/internal/stt"
	"github.com/legitHacker23/SmartMirror/internal/transcript"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// State is the conversation lifecycle state.
type State int

const (
	Idle State = iota
	Capturing
	Processing
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

type recognition int

const (
	recStopped recognition = iota
	recStarting
	recRunning
)

// Config holds the wake phrase, every delay and the visible status texts.
type Config struct {
	WakePhrase         string
	InactivityDelay    time.Duration
	WakeIdleDelay      time.Duration
	RestartDelay       time.Duration
	ResetDelay         time.Duration
	RetryDelay         time.Duration
	BackoffCap         time.Duration
	MaxStartAttempts   int
	SpeechGuard        time.Duration
	GestureNoticeGuard time.Duration
	ErrorGuard         time.Duration
	TurnTimeout        time.Duration

	FallbackReply     string
	ListeningText     string
	ProcessingText    string
	GestureNotice     string
	UnsupportedNotice string
	FailureNotice     string
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		WakePhrase:         "hey mirror",
		InactivityDelay:    2 * time.Second,
		WakeIdleDelay:      5 * time.Second,
		RestartDelay:       2 * time.Second,
		ResetDelay:         time.Second,
		RetryDelay:         3 * time.Second,
		BackoffCap:         30 * time.Second,
		MaxStartAttempts:   3,
		SpeechGuard:        2 * time.Second,
		GestureNoticeGuard: 5 * time.Second,
		ErrorGuard:         3 * time.Second,
		TurnTimeout:        60 * time.Second,
		FallbackReply:      "The chat is not connected right now",
		ListeningText:      "Listening...",
		ProcessingText:     "Processing...",
		GestureNotice:      "Audio blocked: tap the mirror to enable audio playback.",
		UnsupportedNotice:  "Speech recognition is not available on this mirror.",
		FailureNotice:      "Having trouble hearing you. Still trying...",
	}
}

// Machine is the conversation state machine. It is not safe for concurrent
// use; Engine serializes access.
type Machine struct {
	cfg   Config
	wake  string
	state State

	buf    transcript.Buffer
	wakeAt time.Time

	inactivitySeq uint64
	wakeIdleSeq   uint64
	startSeq      uint64
	startPending  bool

	rec      recognition
	inert    bool
	failures int
	backoff  retry.Backoff

	turn      uint64
	utterance string
	reply     string
	degraded  bool
	replaying bool

	pendingReply  string // spoken reply blocked by the gesture policy
	noticeShown   bool
	failureNotice bool
}

// NewMachine creates a machine in Idle.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:  cfg,
		wake: strings.ToLower(strings.TrimSpace(cfg.WakePhrase)),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Turn returns the id of the latest turn.
func (m *Machine) Turn() uint64 {
	return m.turn
}

// Utterance returns the text captured so far in the current turn.
func (m *Machine) Utterance() string {
	if m.state == Capturing {
		return m.buf.Text()
	}
	return m.utterance
}

// Inert reports whether recognition was found unsupported.
func (m *Machine) Inert() bool {
	return m.inert
}

// Boot returns the actions that begin listening.
func (m *Machine) Boot() []Action {
	return m.scheduleStart(nil, 0)
}

// Handle applies ev at time now and returns the resulting actions.
func (m *Machine) Handle(ev Event, now time.Time) []Action {
	switch e := ev.(type) {
	case Fragment:
		return m.onFragment(e, now)
	case InactivityElapsed:
		return m.onInactivity(e, now)
	case WakeIdleElapsed:
		return m.onWakeIdle(e)
	case ReplyReady:
		return m.onReply(e)
	case SpeechEnded:
		return m.onSpeechEnded(e, now)
	case SessionEnded:
		return m.onSessionEnded()
	case SessionError:
		// OnEnd follows; the restart happens there.
		return nil
	case StartDue:
		return m.onStartDue(e)
	case StartResult:
		return m.onStartResult(e)
	case Gesture:
		return m.onGesture()
	case Reset:
		return m.onReset(now)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SPEECH INPUT
// ═══════════════════════════════════════════════════════════════════════════════

func (m *Machine) onFragment(f Fragment, now time.Time) []Action {
	// recognition input only counts while listening
	if m.state == Processing || m.state == Speaking {
		return nil
	}

	text := strings.ToLower(strings.TrimSpace(f.Text))
	if text == "" {
		return nil
	}
	hasWake := m.wake != "" && strings.Contains(text, m.wake)

	if m.state == Idle {
		if !hasWake {
			return nil
		}
		m.state = Capturing
		m.buf.Reset()
		m.utterance = ""
		m.reply = ""
		m.pendingReply = ""
		m.wakeAt = now
		m.inactivitySeq++
		m.wakeIdleSeq++
		return []Action{
			CancelInactivity{},
			ArmWakeIdle{Seq: m.wakeIdleSeq, Delay: m.cfg.WakeIdleDelay},
			publish(bus.EventTypeTranscript, "text", ""),
			publish(bus.EventTypeResponse, "text", m.cfg.ListeningText),
		}
	}

	// Capturing: the wake phrase is not part of the command. Streaming
	// recognizers repeat it in every interim of a one-breath request, so
	// keep only what follows it.
	if hasWake {
		text = afterWake(text, m.wake)
		if text == "" {
			return nil
		}
	}
	m.buf.Add(text, f.Final)
	m.inactivitySeq++
	return []Action{
		CancelWakeIdle{},
		ArmInactivity{Seq: m.inactivitySeq, Delay: m.cfg.InactivityDelay},
		publish(bus.EventTypeTranscript, "text", m.buf.Text(), "final", f.Final),
	}
}

func (m *Machine) onInactivity(e InactivityElapsed, now time.Time) []Action {
	if m.state != Capturing || e.Seq != m.inactivitySeq {
		return nil
	}
	if m.buf.Empty() {
		return m.enterIdle(nil)
	}

	u := m.buf.Commit(now)
	m.state = Processing
	m.turn++
	m.utterance = u.RawText
	m.reply = ""
	m.degraded = false
	m.replaying = false

	acts := []Action{CancelInactivity{}, CancelWakeIdle{}}
	acts = m.stopRecognition(acts)
	return append(acts,
		Submit{Turn: m.turn, Text: u.RawText},
		publish(bus.EventTypeResponse, "text", m.cfg.ProcessingText),
	)
}

func (m *Machine) onWakeIdle(e WakeIdleElapsed) []Action {
	if m.state != Capturing || e.Seq != m.wakeIdleSeq || !m.buf.Empty() {
		return nil
	}
	// false activation; the recognition session keeps running
	acts := m.enterIdle(nil)
	return append(acts, publish(bus.EventTypeResponse, "text", ""))
}

// ═══════════════════════════════════════════════════════════════════════════════
// REPLY AND SPEECH
// ═══════════════════════════════════════════════════════════════════════════════

func (m *Machine) onReply(e ReplyReady) []Action {
	if m.state != Processing || e.Turn != m.turn {
		return nil
	}
	m.state = Speaking
	m.reply = e.Reply
	m.degraded = e.Degraded
	return []Action{
		publish(bus.EventTypeResponse, "text", e.Reply, "degraded", e.Degraded),
		Speak{Turn: m.turn, Text: e.Reply},
	}
}

func (m *Machine) onSpeechEnded(e SpeechEnded, now time.Time) []Action {
	if m.state != Speaking || e.Turn != m.turn {
		return nil
	}

	var acts []Action
	if !m.replaying {
		acts = append(acts, m.completeTurn(e.Outcome, now))
	}
	m.replaying = false

	guard := m.cfg.SpeechGuard
	switch {
	case e.Outcome.GestureRequired():
		m.pendingReply = m.reply
		guard = m.cfg.GestureNoticeGuard
		if !m.noticeShown {
			m.noticeShown = true
			acts = append(acts, publish(bus.EventTypeNotice, "text", m.cfg.GestureNotice, "kind", "gesture_required"))
		}
	case e.Outcome.Reason == speech.Failed:
		guard = m.cfg.ErrorGuard
	}

	acts = m.enterIdle(acts)
	return m.scheduleStart(acts, guard)
}

func (m *Machine) completeTurn(out speech.Outcome, now time.Time) Action {
	outcome := usage.OutcomeAnswered
	switch {
	case out.Reason == speech.Failed:
		outcome = usage.OutcomeSilent
	case out.Reason == speech.Stopped:
		outcome = usage.OutcomeAborted
	case m.degraded:
		outcome = usage.OutcomeFallback
	}
	return TurnCompleted{
		Turn:      m.turn,
		Utterance: m.utterance,
		Reply:     m.reply,
		Outcome:   outcome,
		Duration:  now.Sub(m.wakeAt),
	}
}

func (m *Machine) onGesture() []Action {
	m.noticeShown = false
	if m.pendingReply == "" || m.state != Idle {
		return nil
	}

	// replay the reply that was blocked
	m.state = Speaking
	m.reply = m.pendingReply
	m.pendingReply = ""
	m.replaying = true

	acts := m.stopRecognition(nil)
	return append(acts,
		publish(bus.EventTypeNotice, "text", ""),
		Speak{Turn: m.turn, Text: m.reply},
	)
}

func (m *Machine) onReset(now time.Time) []Action {
	var acts []Action
	switch m.state {
	case Processing:
		acts = append(acts, CancelTurn{Turn: m.turn}, m.completeTurn(speech.Outcome{Reason: speech.Stopped}, now))
	case Speaking:
		acts = append(acts, StopSpeech{})
		if !m.replaying {
			acts = append(acts, m.completeTurn(speech.Outcome{Reason: speech.Stopped}, now))
		}
	}
	m.replaying = false
	m.pendingReply = ""

	acts = m.stopRecognition(acts)
	acts = append(acts, m.enterIdle(nil)...)
	acts = append(acts, publish(bus.EventTypeResponse, "text", ""))
	return m.scheduleStart(acts, m.cfg.ResetDelay)
}

// enterIdle cancels both timers and clears the utterance.
func (m *Machine) enterIdle(acts []Action) []Action {
	m.state = Idle
	m.buf.Reset()
	m.utterance = ""
	m.inactivitySeq++
	m.wakeIdleSeq++
	return append(acts, CancelInactivity{}, CancelWakeIdle{})
}

// ═══════════════════════════════════════════════════════════════════════════════
// RECOGNITION SUPERVISION
// ═══════════════════════════════════════════════════════════════════════════════

func (m *Machine) listening() bool {
	return m.state == Idle || m.state == Capturing
}

func (m *Machine) scheduleStart(acts []Action, delay time.Duration) []Action {
	if m.inert {
		return acts
	}
	m.startSeq++
	m.startPending = true
	return append(acts, ScheduleStart{Seq: m.startSeq, Delay: delay})
}

func (m *Machine) stopRecognition(acts []Action) []Action {
	m.startPending = false
	m.startSeq++
	if m.rec == recStopped {
		return acts
	}
	m.rec = recStopped
	return append(acts, StopRecognition{})
}

func (m *Machine) onStartDue(e StartDue) []Action {
	if e.Seq != m.startSeq || !m.startPending {
		return nil
	}
	m.startPending = false
	if m.inert || !m.listening() || m.rec != recStopped {
		return nil
	}
	m.rec = recStarting
	return []Action{StartRecognition{}}
}

func (m *Machine) onStartResult(e StartResult) []Action {
	if m.rec != recStarting {
		return nil
	}

	switch {
	case e.Err == nil, errors.Is(e.Err, stt.ErrAlreadyRunning):
		m.rec = recRunning
		m.failures = 0
		m.backoff = nil
		if m.failureNotice {
			m.failureNotice = false
			return []Action{publish(bus.EventTypeNotice, "text", "")}
		}
		return nil

	case errors.Is(e.Err, stt.ErrUnsupported):
		m.rec = recStopped
		m.inert = true
		m.startPending = false
		return []Action{publish(bus.EventTypeNotice, "text", m.cfg.UnsupportedNotice, "kind", "unsupported")}
	}

	m.rec = recStopped
	m.failures++
	if m.backoff == nil {
		m.backoff = newBackoff(m.cfg.RetryDelay, m.cfg.BackoffCap)
	}
	delay, _ := m.backoff.Next()

	var acts []Action
	if m.cfg.MaxStartAttempts > 0 && m.failures >= m.cfg.MaxStartAttempts {
		// unrecoverable for now: drop any half-captured command and keep trying
		if m.state == Capturing {
			acts = m.enterIdle(acts)
		}
		if !m.failureNotice {
			m.failureNotice = true
			acts = append(acts, publish(bus.EventTypeNotice, "text", m.cfg.FailureNotice, "kind", "recognition_failed"))
		}
	}
	return m.scheduleStart(acts, delay)
}

func (m *Machine) onSessionEnded() []Action {
	m.rec = recStopped
	if !m.listening() || m.startPending {
		return nil
	}
	return m.scheduleStart(nil, m.cfg.RestartDelay)
}

func afterWake(text, wake string) string {
	i := strings.LastIndex(text, wake)
	if i < 0 {
		return text
	}
	return strings.TrimLeft(text[i+len(wake):], " ,.!?")
}

func newBackoff(base, limit time.Duration) retry.Backoff {
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if limit > 0 {
		b = retry.WithCappedDuration(limit, b)
	}
	return b
}

func publish(t bus.EventType, kv ...any) Publish {
	data := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			data[k] = kv[i+1]
		}
	}
	return Publish{Type: t, Data: data}
}
