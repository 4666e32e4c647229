package hls

import (
	"testing"
	"time"

	"hls-supervisor/internal/supervisor"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClockedSink(opts ...SinkOption) (*Sink, *manualClock) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	return NewSink(append([]SinkOption{WithClock(clock.Now)}, opts...)...), clock
}

func TestSink_ready_state(t *testing.T) {
	s, clock := newClockedSink()
	assert.Equal(t, supervisor.HaveNothing, s.ReadyState())
	assert.True(t, s.Paused())

	s.Append(4 * time.Second)
	assert.Equal(t, supervisor.HaveEnoughData, s.ReadyState())

	assert.NoError(t, s.Play())
	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, s.CurrentTime())
	assert.Equal(t, supervisor.HaveFutureData, s.ReadyState())

	clock.Advance(5 * time.Second)
	assert.Equal(t, 4*time.Second, s.CurrentTime(), "position never passes the buffered end")
	assert.Equal(t, supervisor.HaveCurrentData, s.ReadyState())
	assert.Zero(t, s.Ahead())
}

func TestSink_pause_holds_position(t *testing.T) {
	s, clock := newClockedSink()
	s.Append(10 * time.Second)
	s.Play()
	clock.Advance(2 * time.Second)
	s.Pause()
	clock.Advance(5 * time.Second)

	assert.True(t, s.Paused())
	assert.Equal(t, 2*time.Second, s.CurrentTime())
	assert.Equal(t, 8*time.Second, s.Ahead())
}

func TestSink_seek_is_clamped(t *testing.T) {
	s, _ := newClockedSink()
	s.Append(6 * time.Second)

	s.Seek(-time.Second)
	assert.Zero(t, s.CurrentTime())

	s.Seek(time.Minute)
	assert.Equal(t, 6*time.Second, s.CurrentTime())

	s.Seek(3 * time.Second)
	assert.Equal(t, 3*time.Second, s.CurrentTime())
}

func TestSink_muted_autoplay_only(t *testing.T) {
	s, _ := newClockedSink(WithMutedAutoplayOnly())
	s.Append(time.Second)

	assert.ErrorIs(t, s.Play(), ErrAutoplayBlocked)
	assert.True(t, s.Paused())

	s.SetMuted(true)
	assert.True(t, s.Muted())
	assert.NoError(t, s.Play())
	assert.False(t, s.Paused())
}

func TestSink_reset(t *testing.T) {
	s, clock := newClockedSink()
	s.Append(5 * time.Second)
	s.Play()
	clock.Advance(time.Second)

	s.Reset()
	assert.Equal(t, supervisor.HaveNothing, s.ReadyState())
	assert.Zero(t, s.BufferedEnd())
	assert.Zero(t, s.CurrentTime())
	assert.True(t, s.Paused())
}
