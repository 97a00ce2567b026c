package llm

import (
	"context"
	"fmt"
)

const personaTemplate = `You are a helpful smart mirror assistant. Respond in a natural, conversational tone. Keep responses concise (1-3 sentences) but informative. Be friendly and human-like.

IMPORTANT INSTRUCTIONS:
- Use natural, conversational language
- Keep responses short and to the point
- Be helpful and friendly
- Include relevant context when needed
- Avoid formal or robotic language
- Use contractions (it's, you're, etc.)
- Be direct and clear

Context: %s

Respond naturally and concisely:`

// Persona wraps prompts in the mirror assistant preamble.
type Persona struct {
	next Provider
}

// NewPersona decorates next with the assistant preamble.
func NewPersona(next Provider) *Persona {
	return &Persona{next: next}
}

// Name returns the wrapped provider's name.
func (p *Persona) Name() string {
	return p.next.Name()
}

// Complete wraps prompt and forwards it.
func (p *Persona) Complete(ctx context.Context, prompt string) (string, error) {
	return p.next.Complete(ctx, WrapPersona(prompt))
}

// WrapPersona returns prompt embedded in the assistant preamble.
func WrapPersona(prompt string) string {
	return fmt.Sprintf(personaTemplate, prompt)
}
