// Package transcript accumulates recognition fragments into one utterance.
package transcript

import (
	"strings"
	"time"
)

// Utterance is the committed text of one spoken command.
type Utterance struct {
	RawText     string    `json:"raw_text"`
	CommittedAt time.Time `json:"committed_at"`
}

// Buffer holds the fragments of the utterance being captured. Final fragments
// accumulate; the latest interim fragment stands in for the speech that has
// not been finalized yet and is replaced by each newer interim.
type Buffer struct {
	finals  []string
	interim string
}

// Add applies a fragment. Blank fragments are ignored.
func (b *Buffer) Add(text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if isFinal {
		b.finals = append(b.finals, text)
		b.interim = ""
		return
	}
	b.interim = text
}

// Text returns the text captured so far.
func (b *Buffer) Text() string {
	parts := make([]string, 0, len(b.finals)+1)
	parts = append(parts, b.finals...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

// Empty reports whether nothing has been captured.
func (b *Buffer) Empty() bool {
	return len(b.finals) == 0 && b.interim == ""
}

// Commit freezes the current text into an Utterance and resets the buffer.
func (b *Buffer) Commit(now time.Time) Utterance {
	u := Utterance{RawText: b.Text(), CommittedAt: now}
	b.Reset()
	return u
}

// Reset discards all fragments.
func (b *Buffer) Reset() {
	b.finals = nil
	b.interim = ""
}
