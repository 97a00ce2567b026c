package conversation

import (
	"time"

	"github.com/legitHacker23/SmartMirror/internal/bus"
	"github.com/legitHacker23/SmartMirror/internal/speech"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EVENTS (inputs to the machine)
// ═══════════════════════════════════════════════════════════════════════════════

// Event is anything the machine reacts to. Recognition callbacks, timer
// callbacks and service completions are all mapped onto these.
type Event interface{ event() }

// Fragment is a recognized piece of speech.
type Fragment struct {
	Text  string
	Final bool
}

// SessionEnded reports that the recognition session closed.
type SessionEnded struct{}

// SessionError reports a recognition failure inside a running session.
type SessionError struct{ Err error }

// StartDue fires when a scheduled recognition start is due.
type StartDue struct{ Seq uint64 }

// StartResult reports the outcome of a recognition start attempt.
type StartResult struct{ Err error }

// InactivityElapsed fires when no speech arrived for the inactivity delay.
type InactivityElapsed struct{ Seq uint64 }

// WakeIdleElapsed fires when nothing followed the wake phrase.
type WakeIdleElapsed struct{ Seq uint64 }

// ReplyReady delivers the language-model reply for a turn.
type ReplyReady struct {
	Turn     uint64
	Reply    string
	Degraded bool // fallback text
}

// SpeechEnded is the terminal event of one Speak action.
type SpeechEnded struct {
	Turn    uint64
	Outcome speech.Outcome
}

// Gesture is a user touch or click on the display.
type Gesture struct{}

// Reset abandons whatever is in progress.
type Reset struct{}

func (Fragment) event()          {}
func (SessionEnded) event()      {}
func (SessionError) event()      {}
func (StartDue) event()          {}
func (StartResult) event()       {}
func (InactivityElapsed) event() {}
func (WakeIdleElapsed) event()   {}
func (ReplyReady) event()        {}
func (SpeechEnded) event()       {}
func (Gesture) event()           {}
func (Reset) event()             {}

// ═══════════════════════════════════════════════════════════════════════════════
// ACTIONS (outputs the engine performs)
// ═══════════════════════════════════════════════════════════════════════════════

// Action is a side effect requested by the machine.
type Action interface{ action() }

// ArmInactivity (re)arms the inactivity timer.
type ArmInactivity struct {
	Seq   uint64
	Delay time.Duration
}

// ArmWakeIdle (re)arms the wake-idle timer.
type ArmWakeIdle struct {
	Seq   uint64
	Delay time.Duration
}

// CancelInactivity cancels the inactivity timer.
type CancelInactivity struct{}

// CancelWakeIdle cancels the wake-idle timer.
type CancelWakeIdle struct{}

// ScheduleStart arms the recognition restart timer.
type ScheduleStart struct {
	Seq   uint64
	Delay time.Duration
}

// StartRecognition opens a recognition session now.
type StartRecognition struct{}

// StopRecognition closes the recognition session.
type StopRecognition struct{}

// Submit sends the committed text through context gathering and the model.
type Submit struct {
	Turn uint64
	Text string
}

// CancelTurn abandons an in-flight submission.
type CancelTurn struct{ Turn uint64 }

// Speak starts speaking text, stopping any prior speech first.
type Speak struct {
	Turn uint64
	Text string
}

// StopSpeech stops current speech.
type StopSpeech struct{}

// Publish sends an event to displays and other subscribers.
type Publish struct {
	Type bus.EventType
	Data map[string]any
}

// TurnCompleted reports a finished turn for history and metrics.
type TurnCompleted struct {
	Turn      uint64
	Utterance string
	Reply     string
	Outcome   usage.Outcome
	Duration  time.Duration
}

func (ArmInactivity) action()    {}
func (ArmWakeIdle) action()      {}
func (CancelInactivity) action() {}
func (CancelWakeIdle) action()   {}
func (ScheduleStart) action()    {}
func (StartRecognition) action() {}
func (StopRecognition) action()  {}
func (Submit) action()           {}
func (CancelTurn) action()       {}
func (Speak) action()            {}
func (StopSpeech) action()       {}
func (Publish) action()          {}
func (TurnCompleted) action()    {}
