package tts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPlayer_Play(t *testing.T) {
	p, err := NewCommandPlayer([]string{"sh", "-c", "cat > /dev/null"})
	require.NoError(t, err)
	assert.NoError(t, p.Play(context.Background(), []byte("RIFF...."), "wav"))
}

func TestCommandPlayer_Failure(t *testing.T) {
	p, err := NewCommandPlayer([]string{"sh", "-c", "echo 'no such device' >&2; exit 1"})
	require.NoError(t, err)

	err = p.Play(context.Background(), nil, "wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
}

func TestCommandPlayer_CancelStops(t *testing.T) {
	p, err := NewCommandPlayer([]string{"sleep", "5"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Play(ctx, nil, "wav")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewCommandPlayer_Missing(t *testing.T) {
	_, err := NewCommandPlayer(nil)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = NewCommandPlayer([]string{"definitely-not-a-player-binary"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
