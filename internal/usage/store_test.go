package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"), limit, time.UTC, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRequest(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Date: "2025-06-02", Count: 0, Limit: 3, Remaining: 3, Percent: 0}, st)

	for i := 0; i < 2; i++ {
		_, err = s.RecordRequest(ctx)
		require.NoError(t, err)
	}
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 1, st.Remaining)
	assert.InDelta(t, 66.67, st.Percent, 0.01)
	assert.False(t, st.OverLimit())

	// past the limit still counts
	_, _ = s.RecordRequest(ctx)
	st, err = s.RecordRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, 0, st.Remaining)
	assert.True(t, st.OverLimit())

	// new day starts fresh
	s.now = func() time.Time { return time.Date(2025, 6, 3, 0, 5, 0, 0, time.UTC) }
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-03", st.Date)
	assert.Equal(t, 0, st.Count)
}

func TestStats_DayFollowsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"), 10, loc, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	// 02:00 UTC is still the previous evening in Chicago
	s.now = func() time.Time { return time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC) }
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", st.Date)
}

func TestHistory(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	first, err := s.RecordTurn(ctx, Turn{
		Utterance: "what's the weather today",
		Reply:     "Sunny and 72.",
		Outcome:   OutcomeAnswered,
		Duration:  1500 * time.Millisecond,
		CreatedAt: base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.RecordTurn(ctx, Turn{
		Utterance: "tell me a joke",
		Reply:     "The chat is not connected right now",
		Outcome:   OutcomeFallback,
		CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	turns, err := s.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "tell me a joke", turns[0].Utterance)
	assert.Equal(t, OutcomeFallback, turns[0].Outcome)
	assert.Equal(t, first.ID, turns[1].ID)
	assert.Equal(t, 1500*time.Millisecond, turns[1].Duration)
	assert.True(t, base.Equal(turns[1].CreatedAt))

	turns, err = s.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestStats_NoLimit(t *testing.T) {
	s := openTestStore(t, 0)
	st, err := s.RecordRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
	assert.False(t, st.OverLimit())
	assert.Zero(t, st.Percent)
}
