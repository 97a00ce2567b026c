package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandPlayer pipes audio into an external player such as `aplay -q -`.
type CommandPlayer struct {
	argv []string
}

// NewCommandPlayer creates a player running argv with the audio on stdin.
func NewCommandPlayer(argv []string) (*CommandPlayer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("%w: no player command", ErrProviderUnavailable)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrProviderUnavailable, argv[0])
	}
	return &CommandPlayer{argv: append([]string(nil), argv...)}, nil
}

// Play runs the player until it exits. Cancelling ctx kills it.
func (p *CommandPlayer) Play(ctx context.Context, audio []byte, _ string) error {
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s failed: %s", p.argv[0], strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("run %s: %w", p.argv[0], err)
	}
	return nil
}
