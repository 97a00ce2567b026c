// Package stt provides streaming speech recognition for the mirror.
package stt

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrAlreadyRunning = errors.New("recognition already running")
	ErrNotRunning     = errors.New("no active recognition session")
	ErrUnsupported    = errors.New("speech recognition not supported")
	ErrRecognition    = errors.New("recognition error")
)

// Transient reports whether err is a start/stop race the caller may ignore.
func Transient(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrNotRunning)
}

// Fragment is one piece of recognized speech, delivered in order.
type Fragment struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Callbacks receive recognition events. Any of them may be nil.
type Callbacks struct {
	OnFragment func(Fragment)
	OnEnd      func()      // once per session
	OnError    func(error) // before OnEnd when the session failed
}

// Recognizer is the interface all recognition providers implement
type Recognizer interface {
	// Name returns the provider identifier
	Name() string

	// Start opens a recognition session.
	Start(ctx context.Context) error

	// Stop ends the current session. OnEnd still fires.
	Stop() error

	// SetCallbacks installs the event callbacks. Call before Start.
	SetCallbacks(cb Callbacks)
}
