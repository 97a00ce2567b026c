package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/tts"
)

// Playback statuses reported by displays.
const (
	StatusEnded   = "ended"
	StatusBlocked = "blocked"
	StatusError   = "error"
)

const (
	// DefaultPlaybackTimeout bounds the wait for a display's playback report.
	DefaultPlaybackTimeout = 2 * time.Minute

	// playbackGrace is added to the audio's own length before giving up.
	playbackGrace = 5 * time.Second
)

// Player plays audio on the connected displays and waits for the first
// display to report how playback ended.
type Player struct {
	hub    *Hub
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan playbackResult
	maxWait time.Duration
}

type playbackResult struct {
	status string
	err    string
}

var _ tts.Player = (*Player)(nil)

func newPlayer(h *Hub, logger zerolog.Logger) *Player {
	return &Player{
		hub:     h,
		logger:  logger,
		pending: make(map[string]chan playbackResult),
		maxWait: DefaultPlaybackTimeout,
	}
}

// Play sends audio to every display and blocks until one reports back, the
// last display disconnects or the playback wait runs out.
// A display refusing to autoplay yields tts.ErrGestureRequired.
func (p *Player) Play(ctx context.Context, audio []byte, format string) error {
	if p.hub.ClientCount() == 0 {
		return fmt.Errorf("%w: no display connected", tts.ErrProviderUnavailable)
	}

	id := uuid.NewString()
	ch := make(chan playbackResult, 1)

	p.mu.Lock()
	p.pending[id] = ch
	wait := p.wait(audio)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	// the last display may have left before the id was registered
	if p.hub.ClientCount() == 0 {
		return fmt.Errorf("%w: no display connected", tts.ErrProviderUnavailable)
	}

	p.hub.Broadcast(Message{Type: "audio.play", Data: map[string]any{
		"id":     id,
		"format": format,
		"audio":  base64.StdEncoding.EncodeToString(audio),
	}})

	timeout := time.NewTimer(wait)
	defer timeout.Stop()

	select {
	case res := <-ch:
		switch res.status {
		case StatusEnded:
			return nil
		case StatusBlocked:
			return tts.ErrGestureRequired
		default:
			return fmt.Errorf("display playback failed: %s", res.err)
		}
	case <-timeout.C:
		p.hub.Broadcast(Message{Type: "audio.stop", Data: map[string]any{"id": id}})
		p.logger.Warn().Str("id", id).Dur("wait", wait).Msg("No playback report from display")
		return fmt.Errorf("display playback timed out after %s", wait)
	case <-ctx.Done():
		p.hub.Broadcast(Message{Type: "audio.stop", Data: map[string]any{"id": id}})
		return ctx.Err()
	}
}

// SetTimeout caps how long Play waits for a playback report.
func (p *Player) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultPlaybackTimeout
	}
	p.mu.Lock()
	p.maxWait = d
	p.mu.Unlock()
}

// wait returns the playback wait for audio: its WAV length plus grace, capped
// at maxWait. Audio without a readable WAV header gets maxWait. Callers hold mu.
func (p *Player) wait(audio []byte) time.Duration {
	length, ok := wavDuration(audio)
	if !ok {
		return p.maxWait
	}
	return min(length+playbackGrace, p.maxWait)
}

// wavDuration reads the byte rate from a canonical 44-byte WAV header.
func wavDuration(audio []byte) (time.Duration, bool) {
	if len(audio) < 44 || !bytes.Equal(audio[0:4], []byte("RIFF")) || !bytes.Equal(audio[8:12], []byte("WAVE")) {
		return 0, false
	}
	byteRate := binary.LittleEndian.Uint32(audio[28:32])
	if byteRate == 0 {
		return 0, false
	}
	return time.Duration(float64(len(audio)-44) / float64(byteRate) * float64(time.Second)), true
}

// failAll ends every pending playback with an error.
func (p *Player) failAll(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.pending {
		select {
		case ch <- playbackResult{status: StatusError, err: reason}:
		default:
		}
	}
}

// report delivers a display's playback status. Unknown or repeated ids are ignored.
func (p *Player) report(id, status, errText string) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug().Str("id", id).Str("status", status).Msg("Playback report for unknown audio")
		return
	}

	select {
	case ch <- playbackResult{status: status, err: errText}:
	default:
	}
}
