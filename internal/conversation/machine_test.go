package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legitHacker23/SmartMirror/internal/bus"
	"github.com/legitHacker23/SmartMirror/internal/speech"
	"github.com/legitHacker23/SmartMirror/internal/stt"
	"github.com/legitHacker23/SmartMirror/internal/tts"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func find[T Action](acts []Action) (T, bool) {
	for _, a := range acts {
		if v, ok := a.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func count[T Action](acts []Action) int {
	n := 0
	for _, a := range acts {
		if _, ok := a.(T); ok {
			n++
		}
	}
	return n
}

// listening returns a machine with a running recognition session.
func listening(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(DefaultConfig())
	boot := m.Boot()
	sched, ok := find[ScheduleStart](boot)
	require.True(t, ok)
	assert.Zero(t, sched.Delay)

	acts := m.Handle(StartDue{Seq: sched.Seq}, t0)
	require.Equal(t, []Action{StartRecognition{}}, acts)
	assert.Empty(t, m.Handle(StartResult{}, t0))
	return m
}

// capture wakes the machine and feeds text, returning the inactivity seq.
func capture(t *testing.T, m *Machine, text string) uint64 {
	t.Helper()
	m.Handle(Fragment{Text: "hey mirror", Final: true}, t0)
	require.Equal(t, Capturing, m.State())
	acts := m.Handle(Fragment{Text: text, Final: true}, t0.Add(time.Second))
	arm, ok := find[ArmInactivity](acts)
	require.True(t, ok)
	return arm.Seq
}

func TestFragmentsWithoutWakePhraseStayIdle(t *testing.T) {
	m := listening(t)

	for _, text := range []string{"what's the weather", "hey there", "mirror mirror on the wall"} {
		acts := m.Handle(Fragment{Text: text, Final: true}, t0)
		assert.Empty(t, acts, text)
		assert.Equal(t, Idle, m.State())
	}
}

func TestWakePhraseStartsCapture(t *testing.T) {
	m := listening(t)

	acts := m.Handle(Fragment{Text: "Hey Mirror"}, t0)
	assert.Equal(t, Capturing, m.State())

	arm, ok := find[ArmWakeIdle](acts)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, arm.Delay)
	assert.Equal(t, 0, count[ArmInactivity](acts))
	assert.Contains(t, acts, Publish{Type: bus.EventTypeResponse, Data: map[string]any{"text": "Listening..."}})
}

func TestWakeIdleTimeoutReturnsToIdle(t *testing.T) {
	m := listening(t)
	acts := m.Handle(Fragment{Text: "hey mirror"}, t0)
	arm, _ := find[ArmWakeIdle](acts)

	acts = m.Handle(WakeIdleElapsed{Seq: arm.Seq}, t0.Add(5*time.Second))
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, m.Utterance())
	assert.Equal(t, 1, count[CancelInactivity](acts))
	assert.Equal(t, 1, count[CancelWakeIdle](acts))
	// recognition keeps running
	assert.Equal(t, 0, count[StopRecognition](acts))
	assert.Equal(t, 0, count[ScheduleStart](acts))
}

func TestSpeechCancelsWakeIdle(t *testing.T) {
	m := listening(t)
	acts := m.Handle(Fragment{Text: "hey mirror"}, t0)
	wake, _ := find[ArmWakeIdle](acts)

	acts = m.Handle(Fragment{Text: "what's"}, t0)
	assert.Equal(t, 1, count[CancelWakeIdle](acts))

	// a late wake-idle firing is stale
	assert.Empty(t, m.Handle(WakeIdleElapsed{Seq: wake.Seq}, t0.Add(5*time.Second)))
	assert.Equal(t, Capturing, m.State())
}

func TestInactivitySubmitsCommittedText(t *testing.T) {
	m := listening(t)
	m.Handle(Fragment{Text: "hey mirror"}, t0)

	m.Handle(Fragment{Text: "what's the"}, t0)
	m.Handle(Fragment{Text: "what's the weather"}, t0)
	acts := m.Handle(Fragment{Text: "what's the weather today", Final: true}, t0)
	arm, _ := find[ArmInactivity](acts)

	acts = m.Handle(InactivityElapsed{Seq: arm.Seq}, t0.Add(2*time.Second))
	assert.Equal(t, Processing, m.State())
	assert.Equal(t, 1, count[Submit](acts))
	sub, _ := find[Submit](acts)
	assert.Equal(t, "what's the weather today", sub.Text)
	assert.Equal(t, 1, count[StopRecognition](acts))
	assert.Equal(t, 1, count[CancelInactivity](acts))
	assert.Equal(t, 1, count[CancelWakeIdle](acts))

	// firing again submits nothing
	assert.Empty(t, m.Handle(InactivityElapsed{Seq: arm.Seq}, t0.Add(3*time.Second)))
}

func TestOnlyLatestInactivityTimerCounts(t *testing.T) {
	m := listening(t)
	m.Handle(Fragment{Text: "hey mirror"}, t0)
	first, _ := find[ArmInactivity](m.Handle(Fragment{Text: "what's"}, t0))
	second, _ := find[ArmInactivity](m.Handle(Fragment{Text: "what's up"}, t0))

	assert.Empty(t, m.Handle(InactivityElapsed{Seq: first.Seq}, t0))
	assert.Equal(t, Capturing, m.State())

	acts := m.Handle(InactivityElapsed{Seq: second.Seq}, t0)
	assert.Equal(t, 1, count[Submit](acts))
}

func TestOneBreathRequest(t *testing.T) {
	m := listening(t)
	m.Handle(Fragment{Text: "hey mirror"}, t0)
	m.Handle(Fragment{Text: "hey mirror what's"}, t0)
	acts := m.Handle(Fragment{Text: "hey mirror, what's the weather", Final: true}, t0)
	arm, _ := find[ArmInactivity](acts)

	sub, ok := find[Submit](m.Handle(InactivityElapsed{Seq: arm.Seq}, t0))
	require.True(t, ok)
	assert.Equal(t, "what's the weather", sub.Text)

	// the bare wake phrase during capture is ignored
	m2 := listening(t)
	m2.Handle(Fragment{Text: "hey mirror"}, t0)
	assert.Empty(t, m2.Handle(Fragment{Text: "hey mirror"}, t0))
}

func TestFragmentsDuringProcessingIgnored(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "tell me a joke")
	m.Handle(InactivityElapsed{Seq: seq}, t0)
	require.Equal(t, Processing, m.State())

	for _, f := range []Fragment{{Text: "hey mirror"}, {Text: "something else", Final: true}} {
		assert.Empty(t, m.Handle(f, t0))
	}
	assert.Equal(t, "tell me a joke", m.Utterance())
	assert.Equal(t, Processing, m.State())
}

func TestFullCycle(t *testing.T) {
	m := listening(t)

	for turn := uint64(1); turn <= 2; turn++ {
		seq := capture(t, m, "tell me a joke")
		acts := m.Handle(InactivityElapsed{Seq: seq}, t0.Add(3*time.Second))
		sub, _ := find[Submit](acts)
		assert.Equal(t, turn, sub.Turn)

		acts = m.Handle(ReplyReady{Turn: sub.Turn, Reply: "Why did the mirror crack? It saw itself."}, t0.Add(4*time.Second))
		require.Equal(t, Speaking, m.State())
		speak, ok := find[Speak](acts)
		require.True(t, ok)
		assert.Equal(t, "Why did the mirror crack? It saw itself.", speak.Text)

		acts = m.Handle(SpeechEnded{Turn: speak.Turn, Outcome: speech.Outcome{Reason: speech.Completed}}, t0.Add(6*time.Second))
		assert.Equal(t, Idle, m.State())
		assert.Empty(t, m.Utterance())
		assert.Equal(t, 1, count[CancelInactivity](acts))
		assert.Equal(t, 1, count[CancelWakeIdle](acts))

		done, ok := find[TurnCompleted](acts)
		require.True(t, ok)
		assert.Equal(t, usage.OutcomeAnswered, done.Outcome)
		assert.Equal(t, "tell me a joke", done.Utterance)
		assert.Equal(t, 6*time.Second, done.Duration)

		sched, ok := find[ScheduleStart](acts)
		require.True(t, ok)
		assert.Equal(t, 2*time.Second, sched.Delay)

		// recognition resumes after the guard delay
		require.Equal(t, []Action{StartRecognition{}}, m.Handle(StartDue{Seq: sched.Seq}, t0.Add(8*time.Second)))
		m.Handle(StartResult{}, t0.Add(8*time.Second))
	}
}

func TestStaleReplyIgnored(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "tell me a joke")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))

	m.Handle(Reset{}, t0)
	require.Equal(t, Idle, m.State())
	assert.Empty(t, m.Handle(ReplyReady{Turn: sub.Turn, Reply: "late"}, t0))
	assert.Equal(t, Idle, m.State())
}

func TestFallbackOutcome(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "tell me a joke")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))
	m.Handle(ReplyReady{Turn: sub.Turn, Reply: "The chat is not connected right now", Degraded: true}, t0)

	acts := m.Handle(SpeechEnded{Turn: sub.Turn, Outcome: speech.Outcome{Reason: speech.Completed}}, t0)
	done, _ := find[TurnCompleted](acts)
	assert.Equal(t, usage.OutcomeFallback, done.Outcome)
}

func TestGestureRequiredNoticeAndReplay(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "tell me a joke")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))
	m.Handle(ReplyReady{Turn: sub.Turn, Reply: "knock knock"}, t0)

	blocked := speech.Outcome{Reason: speech.Failed, Err: tts.ErrGestureRequired}
	acts := m.Handle(SpeechEnded{Turn: sub.Turn, Outcome: blocked}, t0)
	assert.Equal(t, Idle, m.State())

	notice, ok := find[Publish](filter(acts, bus.EventTypeNotice))
	require.True(t, ok)
	assert.Equal(t, "gesture_required", notice.Data["kind"])
	sched, _ := find[ScheduleStart](acts)
	assert.Equal(t, 5*time.Second, sched.Delay)
	done, _ := find[TurnCompleted](acts)
	assert.Equal(t, usage.OutcomeSilent, done.Outcome)

	m.Handle(StartDue{Seq: sched.Seq}, t0)
	m.Handle(StartResult{}, t0)

	// the gesture replays the blocked reply
	acts = m.Handle(Gesture{}, t0)
	assert.Equal(t, Speaking, m.State())
	speak, ok := find[Speak](acts)
	require.True(t, ok)
	assert.Equal(t, "knock knock", speak.Text)
	assert.Equal(t, 1, count[StopRecognition](acts))

	// blocked again: notice shows again since a gesture happened in between
	acts = m.Handle(SpeechEnded{Turn: speak.Turn, Outcome: blocked}, t0)
	assert.Len(t, filter(acts, bus.EventTypeNotice), 1)
	assert.Equal(t, 0, count[TurnCompleted](acts))

	// replayed successfully
	m.Handle(Gesture{}, t0)
	acts = m.Handle(SpeechEnded{Turn: speak.Turn, Outcome: speech.Outcome{Reason: speech.Completed}}, t0)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, count[TurnCompleted](acts))

	// nothing left to replay
	assert.Empty(t, m.Handle(Gesture{}, t0))
}

func TestGestureNoticeShownOnce(t *testing.T) {
	m := listening(t)
	blocked := speech.Outcome{Reason: speech.Failed, Err: tts.ErrGestureRequired}

	notices := 0
	for i := 0; i < 2; i++ {
		seq := capture(t, m, "hello")
		sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))
		m.Handle(ReplyReady{Turn: sub.Turn, Reply: "hi"}, t0)
		acts := m.Handle(SpeechEnded{Turn: sub.Turn, Outcome: blocked}, t0)
		notices += len(filter(acts, bus.EventTypeNotice))

		sched, _ := find[ScheduleStart](acts)
		m.Handle(StartDue{Seq: sched.Seq}, t0)
		m.Handle(StartResult{}, t0)
	}
	assert.Equal(t, 1, notices)
}

func TestOtherSpeechFailureUsesErrorGuard(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "hello")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))
	m.Handle(ReplyReady{Turn: sub.Turn, Reply: "hi"}, t0)

	acts := m.Handle(SpeechEnded{Turn: sub.Turn, Outcome: speech.Outcome{Reason: speech.Failed, Err: errors.New("server down")}}, t0)
	sched, _ := find[ScheduleStart](acts)
	assert.Equal(t, 3*time.Second, sched.Delay)
	assert.Empty(t, filter(acts, bus.EventTypeNotice))
}

func TestResetWhileSpeaking(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "hello")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))
	m.Handle(ReplyReady{Turn: sub.Turn, Reply: "hi"}, t0)

	acts := m.Handle(Reset{}, t0)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 1, count[StopSpeech](acts))
	done, _ := find[TurnCompleted](acts)
	assert.Equal(t, usage.OutcomeAborted, done.Outcome)
	sched, _ := find[ScheduleStart](acts)
	assert.Equal(t, time.Second, sched.Delay)

	// the stopped speech reports late and changes nothing
	assert.Empty(t, m.Handle(SpeechEnded{Turn: sub.Turn, Outcome: speech.Outcome{Reason: speech.Stopped}}, t0))
}

func TestResetWhileProcessingCancelsTurn(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "hello")
	sub, _ := find[Submit](m.Handle(InactivityElapsed{Seq: seq}, t0))

	acts := m.Handle(Reset{}, t0)
	cancel, ok := find[CancelTurn](acts)
	require.True(t, ok)
	assert.Equal(t, sub.Turn, cancel.Turn)
}

func TestSessionEndRestartsRecognition(t *testing.T) {
	m := listening(t)

	acts := m.Handle(SessionEnded{}, t0)
	sched, ok := find[ScheduleStart](acts)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, sched.Delay)

	// a second end before the restart does not schedule twice
	assert.Empty(t, m.Handle(SessionEnded{}, t0))

	assert.Equal(t, []Action{StartRecognition{}}, m.Handle(StartDue{Seq: sched.Seq}, t0))
}

func TestSessionEndWhileCapturingRestarts(t *testing.T) {
	m := listening(t)
	m.Handle(Fragment{Text: "hey mirror"}, t0)

	acts := m.Handle(SessionEnded{}, t0)
	assert.Equal(t, 1, count[ScheduleStart](acts))
	assert.Equal(t, Capturing, m.State())
}

func TestSessionEndWhileProcessingWaits(t *testing.T) {
	m := listening(t)
	seq := capture(t, m, "hello")
	m.Handle(InactivityElapsed{Seq: seq}, t0)

	assert.Empty(t, m.Handle(SessionEnded{}, t0))
}

func TestStartIsIdempotentAndGated(t *testing.T) {
	m := listening(t)

	// already running: a stale due start does nothing
	assert.Empty(t, m.Handle(StartDue{Seq: 1}, t0))

	seq := capture(t, m, "hello")
	m.Handle(InactivityElapsed{Seq: seq}, t0)
	m.Handle(SessionEnded{}, t0)

	// no start while processing, even when a start was due
	assert.Empty(t, m.Handle(StartDue{Seq: 99}, t0))
}

func TestStartFailureBacksOff(t *testing.T) {
	m := NewMachine(DefaultConfig())
	sched, _ := find[ScheduleStart](m.Boot())

	var delays []time.Duration
	var notices int
	for i := 0; i < 5; i++ {
		require.Equal(t, []Action{StartRecognition{}}, m.Handle(StartDue{Seq: sched.Seq}, t0))
		acts := m.Handle(StartResult{Err: errors.New("connection refused")}, t0)
		notices += len(filter(acts, bus.EventTypeNotice))
		var ok bool
		sched, ok = find[ScheduleStart](acts)
		require.True(t, ok)
		delays = append(delays, sched.Delay)
	}

	assert.Equal(t, 3*time.Second, delays[0])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
		assert.LessOrEqual(t, delays[i], 30*time.Second)
	}
	assert.Equal(t, 1, notices)

	// recovery clears the notice
	m.Handle(StartDue{Seq: sched.Seq}, t0)
	acts := m.Handle(StartResult{}, t0)
	cleared, ok := find[Publish](acts)
	require.True(t, ok)
	assert.Equal(t, "", cleared.Data["text"])
}

func TestStartAlreadyRunningIsSuccess(t *testing.T) {
	m := NewMachine(DefaultConfig())
	sched, _ := find[ScheduleStart](m.Boot())
	m.Handle(StartDue{Seq: sched.Seq}, t0)
	assert.Empty(t, m.Handle(StartResult{Err: stt.ErrAlreadyRunning}, t0))
	assert.Empty(t, m.Handle(SessionError{Err: errors.New("blip")}, t0))
}

func TestUnsupportedRecognitionIsInert(t *testing.T) {
	m := NewMachine(DefaultConfig())
	sched, _ := find[ScheduleStart](m.Boot())
	m.Handle(StartDue{Seq: sched.Seq}, t0)

	acts := m.Handle(StartResult{Err: stt.ErrUnsupported}, t0)
	require.Len(t, acts, 1)
	assert.Equal(t, "unsupported", acts[0].(Publish).Data["kind"])
	assert.True(t, m.Inert())

	assert.Empty(t, m.Handle(SessionEnded{}, t0))
	assert.Equal(t, 0, count[ScheduleStart](m.Handle(Reset{}, t0)))
}

func filter(acts []Action, t bus.EventType) []Action {
	var out []Action
	for _, a := range acts {
		if p, ok := a.(Publish); ok && p.Type == t {
			out = append(out, p)
		}
	}
	return out
}
