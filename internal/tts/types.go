// Package tts provides speech output for the mirror.
package tts

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("no text to speak")
	// ErrGestureRequired means playback was refused until the user touches the display.
	ErrGestureRequired = errors.New("audio playback requires user interaction")
)

// Speaker turns text into audible speech.
type Speaker interface {
	// Speak blocks until playback ends. Cancelling ctx must stop playback and
	// return promptly; callers stop waiting after a short grace period.
	Speak(ctx context.Context, text, voice string) error
}

// Player plays synthesized audio.
type Player interface {
	// Play blocks until the audio finished playing or ctx is cancelled, and
	// returns promptly on cancellation.
	Play(ctx context.Context, audio []byte, format string) error
}

// Health is the speech server's health report.
type Health struct {
	Status      string `json:"status"`
	Initialized bool   `json:"tts_initialized"`
	Model       string `json:"model"`
}

// Voices lists the speech server's speakers.
type Voices struct {
	Speakers []string `json:"speakers"`
	Current  string   `json:"current_speaker"`
}
