package participant

import (
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndResume(t *testing.T) {
	r := NewRegistry(30, 10)

	session := r.Create()
	require.NotEmpty(t, session.ParticipantID)
	require.Len(t, session.Token, 64)
	require.NotNil(t, session.RateLimiter)

	resumed, ok := r.Resume(session.Token)
	require.True(t, ok)
	assert.Same(t, session, resumed)

	_, ok = r.Resume("")
	assert.False(t, ok)
	_, ok = r.Resume("unknown")
	assert.False(t, ok)
}

func TestRemoveForgetsToken(t *testing.T) {
	r := NewRegistry(30, 10)
	session := r.Create()

	r.Remove(session.ParticipantID)

	_, ok := r.Resume(session.Token)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestCleanupRemovesIdleSessions(t *testing.T) {
	r := NewRegistry(30, 10)
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle := r.Create()
	now = now.Add(2 * time.Hour)
	active := r.Create()

	assert.Equal(t, 1, r.Cleanup(time.Hour))
	_, ok := r.Resume(idle.Token)
	assert.False(t, ok)
	_, ok = r.Resume(active.Token)
	assert.True(t, ok)
}

func TestSessionRateLimiter(t *testing.T) {
	r := NewRegistry(1, 2)
	limiter := r.Create().RateLimiter

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}

func TestPaletteColorsAreDistinct(t *testing.T) {
	palette := NewPalette()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c := palette.Next()
		assert.Regexp(t, `^#[0-9a-f]{6}$`, c)
		assert.False(t, seen[c], "repeated color %s", c)
		assert.Equal(t, ColorAt(i), c)
		seen[c] = true
	}
}

func TestPaletteColorsReadOnWhite(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := colorful.Hex(ColorAt(i))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.DistanceLab(canvasWhite), minContrast-0.01, "color %d too light", i)
	}
}
